package core

import "testing"

func TestAllowedFollowsEntitlement(t *testing.T) {
	features := []Feature{
		FeatureHDVideo, FeatureNoiseSuppression, FeatureEchoCancellation,
		FeatureBackgroundEffect, FeatureVoiceEffect, FeatureRecording,
		FeatureTranscription, FeatureSummary, FeatureAnalytics,
		FeatureWhiteboard, FeatureNFTMint, FeatureDAOPanel,
	}
	for _, f := range features {
		if Allowed(f, false) {
			t.Errorf("%s allowed without entitlement", f)
		}
		if !Allowed(f, true) {
			t.Errorf("%s denied with entitlement", f)
		}
	}
}

func TestAllowedUnknownFeature(t *testing.T) {
	if !Allowed(Feature("grid_view"), false) {
		t.Error("unknown features must not be gated")
	}
}

func TestKeyStatusEntitled(t *testing.T) {
	cases := []struct {
		status KeyStatus
		want   bool
	}{
		{KeyStatus{HasKey: true}, true},
		{KeyStatus{HasKey: false}, false},
		{KeyStatus{HasKey: true, Loading: true}, false},
		{KeyStatus{HasKey: true, Err: "timeout"}, false},
	}
	for i, c := range cases {
		if got := c.status.Entitled(); got != c.want {
			t.Errorf("case %d: got %v, want %v", i, got, c.want)
		}
	}
}
