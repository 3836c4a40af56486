package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	e := NewExecutor(0)
	step := &Step{ID: "s1", Type: StepAgent}

	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	if result.Status != OutcomeSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}
	if result.Output != "ok" {
		t.Errorf("output = %v", result.Output)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	e := NewExecutor(0)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	step := &Step{
		ID:   "flaky",
		Type: StepAgent,
		Retry: &RetryPolicy{
			MaxRetries:     3,
			InitialDelayMS: 1,
		},
	}

	calls := 0
	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	})

	if result.Status != OutcomeSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	e := NewExecutor(0)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	step := &Step{
		ID:    "doomed",
		Type:  StepAgent,
		Retry: &RetryPolicy{MaxRetries: 2, InitialDelayMS: 1},
	}

	calls := 0
	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("permanent")
	})

	if result.Status != OutcomeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutor_RetryClassFiltering(t *testing.T) {
	e := NewExecutor(0)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	step := &Step{
		ID:   "classy",
		Type: StepAgent,
		Retry: &RetryPolicy{
			MaxRetries:     5,
			InitialDelayMS: 1,
			RetryOn:        []string{"timeout"},
		},
	}

	calls := 0
	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("not a timeout")
	})

	if result.Status != OutcomeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (class not retryable)", calls)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(0)
	step := &Step{ID: "slow", Type: StepAgent, TimeoutSeconds: 0.02}

	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	if result.Status != OutcomeTimeout {
		t.Fatalf("status = %s, want timeout", result.Status)
	}
}

func TestExecutor_TimeoutRetriedAsTimeoutClass(t *testing.T) {
	e := NewExecutor(0)
	e.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	step := &Step{
		ID:             "slow-then-fast",
		Type:           StepAgent,
		TimeoutSeconds: 0.02,
		Retry:          &RetryPolicy{MaxRetries: 1, InitialDelayMS: 1, RetryOn: []string{"timeout"}},
	}

	calls := 0
	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "fast", nil
	})

	if result.Status != OutcomeSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	e := NewExecutor(0)
	ctx, cancel := context.WithCancel(context.Background())

	step := &Step{ID: "cancelme", Type: StepAgent}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := e.Execute(ctx, step, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	if result.Status != OutcomeCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
}

func TestExecutor_PanicNormalized(t *testing.T) {
	e := NewExecutor(0)
	step := &Step{ID: "panicky", Type: StepAgent}

	result := e.Execute(context.Background(), step, func(ctx context.Context) (any, error) {
		panic("boom")
	})

	if result.Status != OutcomeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Error == "" {
		t.Error("expected panic to surface as error message")
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := &RetryPolicy{InitialDelayMS: 100, Multiplier: 2, MaxDelayMS: 350}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 350 * time.Millisecond}, // capped
		{5, 350 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
