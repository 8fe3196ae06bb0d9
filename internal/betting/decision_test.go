package betting

import "testing"

func TestNextEventCoversAllCombinations(t *testing.T) {
	t.Parallel()

	behaviour := NewDecisionMakingBehaviour()

	cases := []struct {
		name         string
		result       bool
		hasPlacedBet bool
		want         Event
	}{
		{"positive result and no bet yet", true, false, EventTransact},
		{"positive result but already placed", true, true, EventDone},
		{"negative result and no bet", false, false, EventDone},
		{"negative result and already placed", false, true, EventDone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := SynchronizedData{
				BettingResult: tc.result,
				HasPlacedBet:  tc.hasPlacedBet,
			}
			if got := behaviour.NextEvent(data); got != tc.want {
				t.Fatalf("unexpected event: got %q want %q", got, tc.want)
			}
			payload := behaviour.Act(data)
			if payload.Event != string(tc.want) {
				t.Fatalf("payload event mismatch: got %q want %q", payload.Event, tc.want)
			}
		})
	}
}
