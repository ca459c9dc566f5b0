package domain

import "testing"

func TestPhaseCanAdvance(t *testing.T) {
	allowed := map[SessionPhase][]SessionPhase{
		PhaseIdle:       {PhaseConnecting},
		PhaseConnecting: {PhaseConnected, PhaseEnded},
		PhaseConnected:  {PhaseEnded},
		PhaseEnded:      {},
	}
	all := []SessionPhase{PhaseIdle, PhaseConnecting, PhaseConnected, PhaseEnded}
	for from, oks := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range oks {
				if to == ok {
					want = true
				}
			}
			if got := from.CanAdvance(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}
