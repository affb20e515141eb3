// Package openai implements the OpenAI Chat Completions provider for the
// llm.Provider interface. Any OpenAI-compatible endpoint works via
// WithBaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxprep/voxprep/pkg/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 4096
)

// Provider implements the OpenAI Chat Completions API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint (for OpenAI-compatible servers).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a non-streaming chat completion request.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	chatReq := &chatRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "user", Content: req.Prompt})

	respBody, err := p.doRequest(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, llm.NewProviderError("openai", fmt.Errorf("decode response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError("openai", fmt.Errorf("response contained no choices"))
	}

	return &llm.Response{
		Model: chatResp.Model,
		Text:  chatResp.Choices[0].Message.Content,
	}, nil
}

func (p *Provider) doRequest(ctx context.Context, req *chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderError("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

func (p *Provider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + "/chat/completions"
}

type openaiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseError maps an OpenAI error response to the canonical error shape.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errType llm.ErrorType
	switch resp.StatusCode {
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
		if resp.StatusCode >= 500 {
			errType = llm.ErrAPI
		} else {
			errType = llm.ErrProvider
		}
	}

	var oaiErr openaiError
	message := string(body)
	var code string
	if err := json.Unmarshal(body, &oaiErr); err == nil && oaiErr.Error.Message != "" {
		message = oaiErr.Error.Message
		code = fmt.Sprint(oaiErr.Error.Code)
	}

	return &llm.Error{
		Type:    errType,
		Message: message,
		Code:    code,
	}
}
