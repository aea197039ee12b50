package providers

import "fmt"

// Registry resolves provider names to their clients.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register binds a client to a provider name.
func (r *Registry) Register(provider string, g Generator) {
	r.generators[provider] = g
}

// Generator returns the client registered for provider.
func (r *Registry) Generator(provider string) (Generator, error) {
	g, ok := r.generators[provider]
	if !ok || g == nil {
		return nil, fmt.Errorf("provider %q not configured", provider)
	}
	return g, nil
}

// Submitter returns the client for provider when it accepts webhook jobs.
func (r *Registry) Submitter(provider string) (WebhookSubmitter, bool) {
	s, ok := r.generators[provider].(WebhookSubmitter)
	return s, ok
}

// Parser returns the webhook payload parser for provider.
func (r *Registry) Parser(provider string) (WebhookParser, bool) {
	p, ok := r.generators[provider].(WebhookParser)
	return p, ok
}

// Fetcher returns the prediction reader for provider.
func (r *Registry) Fetcher(provider string) (PredictionFetcher, bool) {
	f, ok := r.generators[provider].(PredictionFetcher)
	return f, ok
}
