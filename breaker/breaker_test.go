package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errSynthetic = errors.New("synthetic failure")

func testConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  100 * time.Millisecond,
		MaxProbes:        1,
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown(99)"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}

func TestClosedAllowsCalls(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(_ context.Context) error {
			return nil
		})
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
	}

	if cb.State() != Closed {
		t.Errorf("expected state closed, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures, got %d", cb.Failures())
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)

	var transitions []struct{ from, to State }
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, struct{ from, to State }{from, to})
	})

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errSynthetic
		})
	}
	if cb.State() != Open {
		t.Fatalf("expected state open after %d failures, got %s", cfg.FailureThreshold, cb.State())
	}
	if len(transitions) != 1 || transitions[0].to != Open {
		t.Errorf("expected one transition to open, got %v", transitions)
	}

	// The next call must be rejected without invoking the function.
	invoked := false
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Error("open circuit must not invoke the wrapped function")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errSynthetic
		})
	}
	if cb.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", cb.Failures())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if cb.Failures() != 0 {
		t.Errorf("success should reset consecutive failures, got %d", cb.Failures())
	}
}

// tripBreaker drives the breaker into the open state using an injectable
// clock, returning the function used to advance it.
func tripBreaker(t *testing.T, cb *CircuitBreaker) func(d time.Duration) {
	t.Helper()
	current := time.Now()
	var mu sync.Mutex
	cb.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	for i := 0; i < cb.config.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	if cb.state != Open {
		t.Fatalf("expected open after tripping, got %s", cb.state)
	}
	return func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(d)
	}
}

func TestRecoveryProbeAllowedAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)
	advance := tripBreaker(t, cb)

	// Before the timeout, still rejected.
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before recovery timeout, got %v", err)
	}

	advance(cfg.RecoveryTimeout)

	// Exactly one probe passes through; a concurrent second call is
	// rejected while the probe is in flight.
	probeRan := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(probeRan)
			<-release
			return nil
		})
	}()
	<-probeRan

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("second call during probe should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe should succeed: %v", err)
	}
	if cb.State() != Closed {
		t.Errorf("successful probe should close circuit, got %s", cb.State())
	}
}

func TestFailedProbeReopens(t *testing.T) {
	cfg := testConfig()
	cb := New(cfg)
	advance := tripBreaker(t, cb)

	advance(cfg.RecoveryTimeout)
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return errSynthetic
	})
	if !errors.Is(err, errSynthetic) {
		t.Fatalf("probe should run and return the failure, got %v", err)
	}
	if cb.state != Open {
		t.Errorf("failed probe should re-open circuit, got %s", cb.state)
	}

	// The timer restarted: calls stay rejected until it elapses again.
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen after failed probe, got %v", err)
	}
	advance(cfg.RecoveryTimeout)
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Errorf("probe after second timeout should pass, got %v", err)
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig())
	tripBreaker(t, cb)

	cb.Reset()
	if cb.State() != Closed {
		t.Errorf("expected closed after Reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Errorf("call after Reset should pass: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cb := New(Config{Name: "defaults"})
	if cb.config.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.SuccessThreshold != 1 {
		t.Errorf("expected default success threshold 1, got %d", cb.config.SuccessThreshold)
	}
	if cb.config.RecoveryTimeout != 30*time.Second {
		t.Errorf("expected default recovery timeout 30s, got %v", cb.config.RecoveryTimeout)
	}
}

func TestRegistrySharesStateByName(t *testing.T) {
	reg := NewRegistry()
	a := reg.GetOrCreate(Config{Name: "shared", FailureThreshold: 2})
	b := reg.GetOrCreate(Config{Name: "shared", FailureThreshold: 99})

	if a != b {
		t.Fatal("GetOrCreate with the same name must return the same breaker")
	}

	a.RecordFailure()
	a.RecordFailure()
	if b.State() != Open {
		t.Errorf("breaker state must be shared across references, got %s", b.State())
	}

	if reg.Get("missing") != nil {
		t.Error("Get for unknown name should return nil")
	}

	reg.ResetAll()
	if a.State() != Closed {
		t.Errorf("ResetAll should close every breaker, got %s", a.State())
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	reg.GetOrCreate(Config{Name: "gone"})
	reg.Remove("gone")
	if reg.Get("gone") != nil {
		t.Error("expected breaker removed")
	}
	if len(reg.All()) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(reg.All()))
	}
}
