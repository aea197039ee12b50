// Package providers defines the contract every media generation backend
// implements and the model catalog that maps public model ids onto them.
package providers

import (
	"context"

	"mediagen/internal/domain"
)

// Request is a provider-neutral generation request.
type Request struct {
	GenerationID    string
	Model           ModelSpec
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	NumOutputs      int
	DurationSeconds int
	Seed            *int64
	ReferenceImages []domain.ReferenceImage
	Extra           map[string]any
	CallbackURL     string
}

// Outputs returns the requested output count, at least one.
func (r Request) Outputs() int {
	if r.NumOutputs <= 0 {
		return 1
	}
	return r.NumOutputs
}

// Output is one produced item, carried either inline or by a provider URL.
type Output struct {
	Data            []byte
	URL             string
	MimeType        string
	Width           int
	Height          int
	DurationSeconds float64
}

// Result is the outcome of a synchronous generation.
type Result struct {
	PredictionID string
	Outputs      []Output
}

// Generator runs a generation synchronously.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// WebhookSubmitter starts an asynchronous job whose completion is delivered to
// req.CallbackURL. It returns the provider's prediction id.
type WebhookSubmitter interface {
	Submit(ctx context.Context, req Request) (string, error)
}

// Webhook event statuses.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCanceled  = "canceled"
)

// WebhookEvent is a parsed completion delivery.
type WebhookEvent struct {
	PredictionID string
	Status       string
	Outputs      []Output
	Error        string
}

// Terminal reports whether the event closes the prediction.
func (e WebhookEvent) Terminal() bool {
	switch e.Status {
	case EventSucceeded, EventFailed, EventCanceled:
		return true
	default:
		return false
	}
}

// WebhookParser decodes provider completion payloads.
type WebhookParser interface {
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// PredictionFetcher reads the current state of a submitted prediction. It
// recovers webhook jobs whose delivery never landed.
type PredictionFetcher interface {
	FetchPrediction(ctx context.Context, predictionID string) (*WebhookEvent, error)
}
