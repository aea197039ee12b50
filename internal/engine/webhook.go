package engine

import (
	"context"
	"errors"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// HandleWebhook applies a provider completion delivery to the generation that
// owns its prediction id. Deliveries for finished generations are skipped.
// A delivery that finds the processing lock held reports StatusBusy so the
// provider redelivers it.
func (p *Processor) HandleWebhook(ctx context.Context, provider string, event providers.WebhookEvent) (Result, error) {
	g, err := p.generations.GetByPredictionID(ctx, event.PredictionID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load generation for prediction %s: %w", event.PredictionID, err)
	}
	if g.Status.IsTerminal() {
		return Result{GenerationID: g.ID, Status: StatusSkipped}, nil
	}
	return p.applyEvent(ctx, g, provider, event, "webhook_received")
}

func (p *Processor) applyEvent(ctx context.Context, g *domain.Generation, provider string, event providers.WebhookEvent, source string) (Result, error) {
	if !event.Terminal() {
		p.heartbeat(ctx, g.ID, entry("info", "webhook_progress", "", map[string]string{"provider": provider, "status": event.Status}))
		return Result{GenerationID: g.ID, Status: StatusProcessing}, nil
	}

	acquired, err := p.acquireLock(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		p.logger.Debug().Str("generation_id", g.ID).Str("prediction_id", event.PredictionID).Msg("engine: processing lock held; provider event deferred")
		return Result{GenerationID: g.ID, Status: StatusBusy}, nil
	}
	p.heartbeat(ctx, g.ID, entry("info", source, "", map[string]string{
		"provider":      provider,
		"prediction_id": event.PredictionID,
		"status":        event.Status,
	}))

	spec, ok := p.catalog.Lookup(g.ModelID)
	if !ok {
		return p.fail(ctx, g, domain.ErrorKindUnknownModel, fmt.Sprintf("unknown model %q", g.ModelID), "")
	}
	switch event.Status {
	case providers.EventSucceeded:
		return p.finish(ctx, g, spec, event.Outputs)
	case providers.EventCanceled:
		return p.fail(ctx, g, domain.ErrorKindProvider, "provider cancelled the prediction", event.Error)
	default:
		return p.fail(ctx, g, domain.ErrorKindProvider, "provider reported a failure", event.Error)
	}
}

// reconcile settles a generation whose provider job was submitted in webhook
// mode without calling the provider again. The prediction is read back when
// the provider supports it; past the webhook deadline the generation fails.
func (p *Processor) reconcile(ctx context.Context, g *domain.Generation, h domain.ProviderHandle) (Result, error) {
	if fetcher, ok := p.fetcher(h.Provider); ok && h.PredictionID != "" {
		event, err := fetcher.FetchPrediction(ctx, h.PredictionID)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Str("generation_id", g.ID).Str("prediction_id", h.PredictionID).Msg("engine: prediction fetch failed")
			p.heartbeat(ctx, g.ID, entry("warn", "prediction_fetch_failed", err.Error(), map[string]string{"provider": h.Provider}))
		case event.Terminal():
			return p.applyEvent(ctx, g, h.Provider, *event, "prediction_fetched")
		}
	}

	submitted := h.SubmittedAt
	if submitted.IsZero() {
		submitted = g.CreatedAt
	}
	if p.now().Sub(submitted) < p.webhookTimeout {
		p.heartbeat(ctx, g.ID, entry("info", "awaiting_webhook", "", map[string]string{"prediction_id": h.PredictionID}))
		return Result{GenerationID: g.ID, Status: StatusProcessing}, nil
	}

	acquired, err := p.acquireLock(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{GenerationID: g.ID, Status: StatusBusy}, nil
	}
	detail := fmt.Sprintf("prediction %s submitted at %s", h.PredictionID, submitted.UTC().Format("2006-01-02T15:04:05Z"))
	return p.fail(ctx, g, domain.ErrorKindWebhookTimeout, "provider did not report a result in time", detail)
}

func (p *Processor) fetcher(provider string) (providers.PredictionFetcher, bool) {
	if p.registry == nil {
		return nil, false
	}
	return p.registry.Fetcher(provider)
}
