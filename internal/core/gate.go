package core

// Feature enumerates everything behind the premium gate.
type Feature string

const (
	FeatureHDVideo          Feature = "hd_video"
	FeatureNoiseSuppression Feature = "noise_suppression"
	FeatureEchoCancellation Feature = "echo_cancellation"
	FeatureBackgroundEffect Feature = "background_effect"
	FeatureVoiceEffect      Feature = "voice_effect"
	FeatureRecording        Feature = "recording"
	FeatureTranscription    Feature = "transcription"
	FeatureSummary          Feature = "summary"
	FeatureAnalytics        Feature = "analytics"
	FeatureWhiteboard       Feature = "whiteboard"
	FeatureNFTMint          Feature = "nft_mint"
	FeatureDAOPanel         Feature = "dao_panel"
)

// Allowed is the premium gate predicate. Every premium feature hangs off
// the single entitlement boolean; there are no per-feature tiers.
func Allowed(f Feature, entitled bool) bool {
	switch f {
	case FeatureHDVideo, FeatureNoiseSuppression, FeatureEchoCancellation,
		FeatureBackgroundEffect, FeatureVoiceEffect, FeatureRecording,
		FeatureTranscription, FeatureSummary, FeatureAnalytics,
		FeatureWhiteboard, FeatureNFTMint, FeatureDAOPanel:
		return entitled
	}
	// Unknown features are never premium-gated.
	return true
}
