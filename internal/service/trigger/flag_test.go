package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testStarter implements Starter for testing
type testStarter struct {
	busy   atomic.Bool
	starts atomic.Int32
	delay  time.Duration
}

func (s *testStarter) Busy() bool { return s.busy.Load() }

func (s *testStarter) StartCall(ctx context.Context) error {
	s.starts.Add(1)
	s.busy.Store(true)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFlag_RaiseTakeReset(t *testing.T) {
	f := NewFlag()

	if f.Raised() || f.Take() {
		t.Fatal("expected new flag to be lowered")
	}

	f.Raise()
	f.Raise()
	if !f.Raised() {
		t.Error("expected flag raised")
	}
	if !f.Take() {
		t.Error("expected first take to succeed")
	}
	if f.Take() {
		t.Error("expected raises to coalesce into one take")
	}

	f.Raise()
	f.Reset()
	if f.Raised() {
		t.Error("expected flag lowered after reset")
	}
}

func TestFlag_ConcurrentTake(t *testing.T) {
	f := NewFlag()
	f.Raise()

	var wg sync.WaitGroup
	var taken atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Take() {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()

	if taken.Load() != 1 {
		t.Errorf("expected exactly one take, got %d", taken.Load())
	}
}

func TestConsumer_RaisedBeforeMount(t *testing.T) {
	f := NewFlag()
	f.Raise()
	starter := &testStarter{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&Consumer{Flag: f, Starter: starter}).Run(ctx)

	waitFor(t, "start", func() bool { return starter.starts.Load() == 1 })
	if f.Raised() {
		t.Error("expected flag reset after consumption")
	}
}

func TestConsumer_CoalescesRaises(t *testing.T) {
	f := NewFlag()
	starter := &testStarter{delay: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&Consumer{Flag: f, Starter: starter}).Run(ctx)

	for i := 0; i < 10; i++ {
		f.Raise()
	}

	waitFor(t, "start", func() bool { return starter.starts.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if n := starter.starts.Load(); n != 1 {
		t.Errorf("expected exactly one StartCall, got %d", n)
	}
	if f.Raised() {
		t.Error("expected flag lowered")
	}
}

func TestConsumer_BusyResetsWithoutStarting(t *testing.T) {
	f := NewFlag()
	starter := &testStarter{}
	starter.busy.Store(true)

	var mu sync.Mutex
	var outcomes []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&Consumer{
		Flag:    f,
		Starter: starter,
		OnConsume: func(outcome string) {
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		},
	}).Run(ctx)

	f.Raise()
	waitFor(t, "consume", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1
	})

	if starter.starts.Load() != 0 {
		t.Errorf("expected no StartCall while busy, got %d", starter.starts.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if outcomes[0] != OutcomeAlreadyActive {
		t.Errorf("expected %q, got %q", OutcomeAlreadyActive, outcomes[0])
	}
	if f.Raised() {
		t.Error("expected flag reset")
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	f := NewFlag()
	starter := &testStarter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Consumer{Flag: f, Starter: starter}).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	f.Raise()
	time.Sleep(10 * time.Millisecond)
	if starter.starts.Load() != 0 {
		t.Errorf("expected no StartCall after cancel, got %d", starter.starts.Load())
	}
	if !f.Raised() {
		t.Error("expected flag to stay raised for the next consumer")
	}
}
