// Package llm abstracts text-completion providers behind a single
// interface so the generation pipelines never talk to a vendor SDK
// directly.
package llm

import (
	"context"
	"os"
	"strings"
)

// Request is a provider-neutral completion request.
type Request struct {
	Model     string `json:"model"`
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response is the completion result. Text is the raw model output; the
// pipelines own all further parsing.
type Response struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// Provider is the interface completion providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string

	// Complete sends a completion request and returns the model output.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Registry manages available providers and routes "provider/model"
// strings to the right one.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Complete routes the request to the provider named in req.Model.
func (r *Registry) Complete(ctx context.Context, req *Request) (*Response, error) {
	providerName, modelName, err := ParseModelString(req.Model)
	if err != nil {
		return nil, err
	}
	p, ok := r.providers[providerName]
	if !ok {
		return nil, NewInvalidRequestErrorWithParam("provider not registered: "+providerName, "model")
	}
	reqCopy := *req
	reqCopy.Model = modelName
	return p.Complete(ctx, &reqCopy)
}

// ParseModelString parses a model string in the format "provider/model-name".
func ParseModelString(model string) (provider string, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewInvalidRequestError(
			"invalid model format: " + model + ", expected 'provider/model-name'",
		)
	}
	return parts[0], parts[1], nil
}

// APIKeyFor returns the API key for a provider. Explicit keys win over
// the conventional <PROVIDER>_API_KEY environment variable.
func APIKeyFor(provider string, keys map[string]string) string {
	if key, ok := keys[provider]; ok && key != "" {
		return key
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}
