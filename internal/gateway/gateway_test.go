package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockProvider scripts one outcome per attempt.
type MockProvider struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	current := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, current) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if idx < len(m.outcomes) && m.outcomes[idx] != nil {
		return nil, m.outcomes[idx]
	}
	return &Response{Text: "ok", PromptTokens: 10, OutputTokens: 5}, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func noSleep(recorded *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return nil
	}
}

func TestGateway_RetriesTransportFailures(t *testing.T) {
	unavailable := &GatewayError{Kind: KindTransport, StatusCode: 503, Err: errors.New("service unavailable")}
	provider := &MockProvider{outcomes: []error{unavailable, unavailable, unavailable, nil}}

	g := New(provider, DefaultRetryPolicy(5, 1.5, 10*time.Millisecond, time.Second), 2, 0)
	var slept []time.Duration
	g.sleep = noSleep(&slept)

	resp, err := g.Invoke(context.Background(), Request{Instruction: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("got %q", resp.Text)
	}
	if provider.CallCount() != 4 {
		t.Errorf("expected 4 attempts, got %d", provider.CallCount())
	}
	if len(slept) != 3 {
		t.Fatalf("expected 3 backoffs, got %d", len(slept))
	}
	for i := 1; i < len(slept); i++ {
		// Jitter spreads 25% either way, so a strict doubling check is too
		// tight; growth just has to dominate.
		if slept[i] < slept[i-1]/2 {
			t.Errorf("backoff should grow: %v then %v", slept[i-1], slept[i])
		}
	}
}

func TestGateway_BadRequestIsNotRetried(t *testing.T) {
	bad := &GatewayError{Kind: KindBadRequest, StatusCode: 400, Err: errors.New("schema rejected")}
	provider := &MockProvider{outcomes: []error{bad}}

	g := New(provider, DefaultRetryPolicy(5, 1.5, time.Millisecond, time.Second), 1, 0)
	var slept []time.Duration
	g.sleep = noSleep(&slept)

	_, err := g.Invoke(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected an error")
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != KindBadRequest {
		t.Errorf("expected bad request kind, got %v", err)
	}
	if provider.CallCount() != 1 {
		t.Errorf("bad request must not be retried, got %d attempts", provider.CallCount())
	}
}

func TestGateway_ExhaustedBudgetReportsAttempts(t *testing.T) {
	flaky := &GatewayError{Kind: KindTransport, Err: errors.New("connection reset")}
	provider := &MockProvider{outcomes: []error{flaky, flaky, flaky}}

	g := New(provider, DefaultRetryPolicy(3, 1.5, time.Millisecond, time.Second), 1, 0)
	var slept []time.Duration
	g.sleep = noSleep(&slept)

	_, err := g.Invoke(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if provider.CallCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.CallCount())
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *GatewayError, got %T", err)
	}
}

func TestGateway_ZeroAttemptPolicyIsClamped(t *testing.T) {
	flaky := &GatewayError{Kind: KindTransport, Err: errors.New("connection reset")}
	provider := &MockProvider{outcomes: []error{flaky}}

	// A hand-built policy with no attempt budget still gets one call.
	g := New(provider, RetryPolicy{}, 1, 0)
	var slept []time.Duration
	g.sleep = noSleep(&slept)

	_, err := g.Invoke(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected an error")
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTransport {
		t.Errorf("expected a transport failure, got %v", err)
	}
	if provider.CallCount() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", provider.CallCount())
	}
	if len(slept) != 0 {
		t.Errorf("a single attempt never backs off, slept %v", slept)
	}
}

func TestGateway_AdmissionBoundsConcurrency(t *testing.T) {
	provider := &MockProvider{delay: 30 * time.Millisecond}
	g := New(provider, DefaultRetryPolicy(1, 1.5, time.Millisecond, time.Second), 2, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Invoke(context.Background(), Request{})
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&provider.maxSeen); max > 2 {
		t.Errorf("admission limit 2 exceeded: saw %d concurrent calls", max)
	}
	if provider.CallCount() != 8 {
		t.Errorf("all callers should eventually run, got %d", provider.CallCount())
	}
}

func TestGateway_CancelledContextWhileQueued(t *testing.T) {
	provider := &MockProvider{delay: 50 * time.Millisecond}
	g := New(provider, DefaultRetryPolicy(1, 1.5, time.Millisecond, time.Second), 1, 0)

	// Occupy the only slot.
	go func() { _, _ = g.Invoke(context.Background(), Request{}) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Invoke(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		Factor:      1.5,
		JitterFrac:  0,
		MaxDelay:    60 * time.Second,
	}

	t.Run("Exponential growth", func(t *testing.T) {
		if d := policy.Backoff(1, 0); d != 2*time.Second {
			t.Errorf("attempt 1: got %v", d)
		}
		if d := policy.Backoff(2, 0); d != 3*time.Second {
			t.Errorf("attempt 2: got %v", d)
		}
	})

	t.Run("Server hint takes precedence", func(t *testing.T) {
		if d := policy.Backoff(1, 17*time.Second); d != 17*time.Second {
			t.Errorf("got %v", d)
		}
	})

	t.Run("Hint capped at max delay", func(t *testing.T) {
		if d := policy.Backoff(1, 5*time.Minute); d != 60*time.Second {
			t.Errorf("got %v", d)
		}
	})

	t.Run("Computed delay capped at max delay", func(t *testing.T) {
		if d := policy.Backoff(20, 0); d != 60*time.Second {
			t.Errorf("got %v", d)
		}
	})

	t.Run("Jitter stays inside the spread", func(t *testing.T) {
		jittered := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, JitterFrac: 0.25, MaxDelay: time.Minute}
		for i := 0; i < 100; i++ {
			d := jittered.Backoff(1, 0)
			if d < 750*time.Millisecond || d > 1250*time.Millisecond {
				t.Fatalf("jittered delay %v outside [750ms, 1250ms]", d)
			}
		}
	})
}
