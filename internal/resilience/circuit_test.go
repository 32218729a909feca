package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFail = errors.New("fail")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error { return errFail })
	}
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("hubspot", DefaultBreakerConfig())

	var calls int
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("hubspot", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	failN(b, 3)

	if b.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("hubspot", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	failN(b, 2)
	_ = b.Execute(context.Background(), func(_ context.Context) error { return nil })
	failN(b, 2)

	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("hubspot", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	failN(b, 1)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(61 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", b.State())
	}

	if err := b.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("hubspot", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	failN(b, 1)
	now = now.Add(2 * time.Minute)
	failN(b, 1)

	if b.State() != CircuitOpen {
		t.Errorf("expected reopened, got %s", b.State())
	}
}

func TestBreaker_ShouldTripFilters(t *testing.T) {
	b := NewBreaker("hubspot", BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})
	failN(b, 5)
	if b.State() != CircuitClosed {
		t.Errorf("permanent errors should not trip, got %s", b.State())
	}

	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return NewTransientError(errFail, 503)
	})
	if b.State() != CircuitOpen {
		t.Errorf("transient error should trip, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := NewBreaker("salesforce", BreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	failN(b, 1)
	b.Reset()

	want := []string{"salesforce:closed->open", "salesforce:open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestExecuteVal(t *testing.T) {
	b := NewBreaker("scan", DefaultBreakerConfig())
	got, err := ExecuteVal(context.Background(), b, func(_ context.Context) (string, error) {
		return "deal-1", nil
	})
	if err != nil || got != "deal-1" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
}

func TestBreakers_Registry(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Get("hubspot")
		}()
	}
	wg.Wait()

	if r.Get("hubspot") != r.Get("hubspot") {
		t.Fatal("expected same breaker instance")
	}
	failN(r.Get("scan"), 1)

	states := r.States()
	if states["hubspot"] != CircuitClosed || states["scan"] != CircuitOpen {
		t.Errorf("unexpected states: %v", states)
	}
}

func TestCircuitStateString(t *testing.T) {
	if CircuitState(99).String() != "unknown" {
		t.Error("expected unknown")
	}
}
