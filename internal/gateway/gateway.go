// Package gateway is the sole point of contact with the external language
// model. It owns the admission semaphore bounding in-flight calls and the
// retry/backoff policy for transport-class failures; content-level repair
// belongs to the correction loop, not here.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docpipe/internal/metrics"
	"docpipe/pkg/logger_i"
)

// Part is one inline-binary content part (a page image or PDF), submitted to
// the model in page order after the instruction text.
type Part struct {
	MIMEType string
	Data     []byte
}

// Request carries one model call: an instruction, the ordered document pages
// and, optionally, a tool schema constraining the response shape.
type Request struct {
	Instruction string
	Pages       []Part

	// ToolName/ToolSchema request a structured tool-call response when the
	// transport supports it. A nil schema means free text.
	ToolName   string
	ToolSchema map[string]any
}

// Response is the raw transport result: either plain text, a tool-call
// argument payload, or both, plus token usage where the transport reports it.
type Response struct {
	Text         string
	ToolArgs     string
	PromptTokens int64
	OutputTokens int64
}

// Payload prefers the tool-call arguments over free text.
func (r *Response) Payload() string {
	if r.ToolArgs != "" {
		return r.ToolArgs
	}
	return r.Text
}

// Provider is the transport behind the gateway. Implementations return
// *GatewayError for classified failures; anything else is treated as a
// transport failure.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Invoker is the caller-facing contract; the orchestrator and correction loop
// depend on it rather than the concrete gateway.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

type Gateway struct {
	provider    Provider
	policy      RetryPolicy
	admission   chan struct{}
	callTimeout time.Duration
	logger      *logger_i.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(provider Provider, policy RetryPolicy, concurrencyLimit int, callTimeout time.Duration) *Gateway {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Gateway{
		provider:    provider,
		policy:      policy,
		admission:   make(chan struct{}, concurrencyLimit),
		callTimeout: callTimeout,
		logger:      logger_i.NewLogger("ModelGateway"),
		sleep:       sleepCtx,
	}
}

// Invoke blocks on the admission semaphore, then drives the provider call
// through the retry policy. Only transport-class failures are retried;
// a non-retryable failure or an exhausted budget surfaces as *GatewayError.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	select {
	case g.admission <- struct{}{}:
		defer func() { <-g.admission }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr *GatewayError
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if g.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		}
		start := time.Now()
		resp, err := g.provider.Generate(callCtx, req)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			metrics.CaptureGatewayCall(g.provider.Name(), "success", elapsed)
			metrics.CaptureTokenUsage(resp.PromptTokens, resp.OutputTokens)
			g.logger.Info("Model call succeeded",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"pages", len(req.Pages),
				"elapsed_ms", elapsed.Milliseconds(),
				"prompt_tokens", resp.PromptTokens,
				"output_tokens", resp.OutputTokens)
			return resp, nil
		}

		gwErr := classify(err, callCtx)
		metrics.CaptureGatewayCall(g.provider.Name(), gwErr.Kind.String(), elapsed)
		if !gwErr.Retryable() {
			g.logger.Error("Model call failed, not retryable",
				"provider", g.provider.Name(), "attempt", attempt, "error", gwErr)
			return nil, gwErr
		}
		lastErr = gwErr

		if attempt == g.policy.MaxAttempts {
			break
		}
		delay := g.policy.Backoff(attempt, gwErr.RetryAfter)
		metrics.CaptureGatewayRetry()
		g.logger.Warn("Model call failed, backing off",
			"provider", g.provider.Name(),
			"attempt", attempt,
			"kind", gwErr.Kind.String(),
			"delay_ms", delay.Milliseconds(),
			"error", gwErr.Err)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &GatewayError{
		Kind:       lastErr.Kind,
		StatusCode: lastErr.StatusCode,
		Err:        fmt.Errorf("retry budget exhausted after %d attempts: %w", g.policy.MaxAttempts, lastErr.Err),
	}
}

// classify wraps plain provider errors as transport failures and maps a hit
// per-call deadline to the timeout kind.
func classify(err error, callCtx context.Context) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &GatewayError{Kind: KindTimeout, Err: err}
	}
	return &GatewayError{Kind: KindTransport, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
