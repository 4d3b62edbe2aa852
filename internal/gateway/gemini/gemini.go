// Package gemini is the google genai transport. Structured output is asked
// for via a JSON response MIME type with the schema inlined into the
// instruction, so the gateway's lenient decoding applies uniformly across
// providers.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"docpipe/internal/gateway"
	"docpipe/pkg/logger_i"
)

type Provider struct {
	client    *genai.Client
	modelName string
	logger    *logger_i.Logger
}

func New(ctx context.Context, modelName string, apikey string) (*Provider, error) {
	logger := logger_i.NewLogger("llm_gemini")

	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apikey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger.Info("Gemini client created", "model", modelName)

	return &Provider{client: c, modelName: modelName, logger: logger}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	instruction := req.Instruction
	config := &genai.GenerateContentConfig{}

	if req.ToolSchema != nil {
		schemaJSON, err := json.Marshal(req.ToolSchema)
		if err != nil {
			return nil, &gateway.GatewayError{Kind: gateway.KindBadRequest, Err: fmt.Errorf("encode schema: %w", err)}
		}
		instruction += "\n\nRespond with a single JSON object matching this schema exactly:\n" + string(schemaJSON)
		config.ResponseMIMEType = "application/json"
	}

	parts := []*genai.Part{{Text: instruction}}
	for _, page := range req.Pages {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: page.MIMEType, Data: page.Data},
		})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	result, err := p.client.Models.GenerateContent(ctx, p.modelName, contents, config)
	if err != nil {
		return nil, classify(err)
	}

	out := &gateway.Response{Text: strings.TrimSpace(result.Text())}
	if result.UsageMetadata != nil {
		out.PromptTokens = int64(result.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func classify(err error) *gateway.GatewayError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &gateway.GatewayError{Kind: gateway.KindRateLimited, StatusCode: apiErr.Code, Err: err}
		case apiErr.Code >= 500:
			return &gateway.GatewayError{Kind: gateway.KindTransport, StatusCode: apiErr.Code, Err: err}
		case apiErr.Code >= 400:
			return &gateway.GatewayError{Kind: gateway.KindBadRequest, StatusCode: apiErr.Code, Err: err}
		}
	}
	return &gateway.GatewayError{Kind: gateway.KindTransport, Err: err}
}
