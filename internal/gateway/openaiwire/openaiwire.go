// Package openaiwire talks to any OpenAI-compatible chat-completions endpoint
// (OpenAI, LiteLLM, vLLM gateways). Pages travel as base64 data URLs; when a
// tool schema is supplied the model is forced to answer via the tool call.
package openaiwire

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/customHttpClient"
	"docpipe/internal/gateway"
	"docpipe/pkg/logger_i"
)

type Provider struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
	logger  *logger_i.Logger
}

func New(baseURL string, apiKey string, model string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpc:   customHttpClient.GetPooledClient(),
		logger:  logger_i.NewLogger("llm_openai"),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	reqID := uuid.New().String()

	parts := []map[string]any{
		{"type": "text", "text": req.Instruction},
	}
	for _, page := range req.Pages {
		dataURL := "data:" + page.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(page.Data)
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	}

	body := map[string]any{
		"model":       p.model,
		"temperature": 0,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
	}
	if req.ToolSchema != nil {
		body["tools"] = []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":        req.ToolName,
					"description": "Return the requested document analysis as structured data.",
					"parameters":  req.ToolSchema,
				},
			},
		}
		body["tool_choice"] = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": req.ToolName},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &gateway.GatewayError{Kind: gateway.KindBadRequest, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &gateway.GatewayError{Kind: gateway.KindBadRequest, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logger.Debug("Sending chat completion",
		"req_id", reqID, "model", p.model, "pages", len(req.Pages), "content_length", len(payload))

	resp, err := p.httpc.Do(httpReq)
	if err != nil {
		return nil, &gateway.GatewayError{Kind: gateway.KindTransport, Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			p.logger.Warn("Response body close error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, classifyStatus(resp, raw)
	}

	return decodeCompletion(raw)
}

func classifyStatus(resp *http.Response, raw []byte) *gateway.GatewayError {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > 512 {
		trimmed = trimmed[:512] + "..."
	}
	err := fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, trimmed)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &gateway.GatewayError{
			Kind:       gateway.KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	case resp.StatusCode >= 500:
		return &gateway.GatewayError{
			Kind:       gateway.KindTransport,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	default:
		return &gateway.GatewayError{Kind: gateway.KindBadRequest, StatusCode: resp.StatusCode, Err: err}
	}
}

// parseRetryAfter accepts the delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func decodeCompletion(raw []byte) (*gateway.Response, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &gateway.GatewayError{Kind: gateway.KindTransport, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Choices) == 0 {
		return nil, &gateway.GatewayError{Kind: gateway.KindTransport, Err: fmt.Errorf("no choices in response")}
	}

	out := &gateway.Response{
		Text:         strings.TrimSpace(envelope.Choices[0].Message.Content),
		PromptTokens: envelope.Usage.PromptTokens,
		OutputTokens: envelope.Usage.CompletionTokens,
	}
	if calls := envelope.Choices[0].Message.ToolCalls; len(calls) > 0 {
		out.ToolArgs = strings.TrimSpace(calls[0].Function.Arguments)
	}
	return out, nil
}
