package coordinator

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func TestAgree(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		candidates [][]byte
		want       []byte
	}{
		{
			name:       "single candidate",
			candidates: [][]byte{[]byte("a")},
			want:       []byte("a"),
		},
		{
			name:       "majority wins",
			candidates: [][]byte{[]byte("b"), []byte("a"), []byte("b")},
			want:       []byte("b"),
		},
		{
			name:       "tie breaks to smallest byte order",
			candidates: [][]byte{[]byte("b"), []byte("a")},
			want:       []byte("a"),
		},
		{
			name:       "empty input",
			candidates: nil,
			want:       nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Agree(tc.candidates); !bytes.Equal(got, tc.want) {
				t.Fatalf("unexpected agreement: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestLocalNextRoundGroupsTicketsByThreshold(t *testing.T) {
	t.Parallel()

	local := NewLocal(2)
	first, err := local.NextRound(context.Background())
	if err != nil {
		t.Fatalf("first ticket failed: %v", err)
	}
	second, err := local.NextRound(context.Background())
	if err != nil {
		t.Fatalf("second ticket failed: %v", err)
	}
	if first != second {
		t.Fatalf("two replicas of one run must join the same round: %q vs %q", first, second)
	}
	third, err := local.NextRound(context.Background())
	if err != nil {
		t.Fatalf("third ticket failed: %v", err)
	}
	if third == second {
		t.Fatalf("the next run must get a fresh identity, got %q twice", third)
	}

	single := NewLocal(1)
	a, _ := single.NextRound(context.Background())
	b, _ := single.NextRound(context.Background())
	if a == b {
		t.Fatalf("threshold one must advance the run on every call, got %q twice", a)
	}
}

func TestLocalCommitsImmediatelyAtThresholdOne(t *testing.T) {
	t.Parallel()

	local := NewLocal(1)
	agreed, err := local.Submit(context.Background(), Payload{
		Sender: "replica-a",
		Round:  "run:stage",
		Data:   []byte("value"),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if string(agreed) != "value" {
		t.Fatalf("unexpected agreed value: %q", agreed)
	}
}

func TestLocalWaitsForThreshold(t *testing.T) {
	t.Parallel()

	local := NewLocal(2)
	results := make([][]byte, 2)

	var wg sync.WaitGroup
	for i, sender := range []string{"replica-a", "replica-b"} {
		wg.Add(1)
		go func(i int, sender string) {
			defer wg.Done()
			agreed, err := local.Submit(context.Background(), Payload{
				Sender: sender,
				Round:  "run:stage",
				Data:   []byte("same"),
			})
			if err != nil {
				t.Errorf("submit %s failed: %v", sender, err)
				return
			}
			results[i] = agreed
		}(i, sender)
	}
	wg.Wait()

	if !bytes.Equal(results[0], results[1]) {
		t.Fatalf("replicas diverged: %q vs %q", results[0], results[1])
	}
	if string(results[0]) != "same" {
		t.Fatalf("unexpected agreed value: %q", results[0])
	}
}

func TestLocalSubmitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	local := NewLocal(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := local.Submit(ctx, Payload{
		Sender: "replica-a",
		Round:  "run:stage",
		Data:   []byte("alone"),
	}); err == nil {
		t.Fatal("an unreachable threshold must fail once the context expires")
	}
}

func TestLocalSynchronizedClockPin(t *testing.T) {
	t.Parallel()

	local := NewLocal(1)
	local.SetSynchronizedClock(1700000007)

	if _, err := local.Submit(context.Background(), Payload{
		Sender: "replica-a",
		Round:  "run:stage",
		Data:   []byte("value"),
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ts, err := local.AwaitSynchronizedClock(context.Background())
	if err != nil {
		t.Fatalf("clock read failed: %v", err)
	}
	if ts != 1700000007 {
		t.Fatalf("a pinned clock must not advance on commits, got %d", ts)
	}
}
