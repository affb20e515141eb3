// Package gemini implements the Gemini provider for the llm.Provider
// interface on top of the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/voxprep/voxprep/pkg/llm"
)

// Provider implements the Gemini API.
type Provider struct {
	apiKey string
	client *genai.Client
}

// New creates a new Gemini provider. The SDK client is created lazily on
// the first request so construction never needs a context.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete sends a non-streaming generate-content request.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, llm.NewProviderError("gemini", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, mapError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, llm.NewProviderError("gemini", fmt.Errorf("response contained no text"))
	}

	return &llm.Response{
		Model: req.Model,
		Text:  text,
	}, nil
}

func (p *Provider) ensureClient(ctx context.Context) (*genai.Client, error) {
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	p.client = client
	return client, nil
}

// mapError converts SDK errors to the canonical error shape.
func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return llm.NewProviderError("gemini", err)
	}

	var errType llm.ErrorType
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		errType = llm.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = llm.ErrAuthentication
	case http.StatusNotFound:
		errType = llm.ErrNotFound
	case http.StatusTooManyRequests:
		errType = llm.ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = llm.ErrOverloaded
	default:
		if apiErr.Code >= 500 {
			errType = llm.ErrAPI
		} else {
			errType = llm.ErrProvider
		}
	}

	return &llm.Error{
		Type:    errType,
		Message: apiErr.Message,
		Code:    apiErr.Status,
	}
}
