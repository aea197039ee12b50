// Package dispatch hands a freshly created generation to whichever execution
// path applies: a provider webhook job, a push trigger, or the job queue.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
	"mediagen/internal/ratelimit"
)

// Failer records terminal failures.
type Failer interface {
	Fail(ctx context.Context, id, kind, message, detail string) (engine.Result, error)
}

type Options struct {
	Generations    domain.GenerationRepository
	Queue          domain.JobQueueRepository
	Registry       *providers.Registry
	Gate           *ratelimit.Gate
	Trigger        *Trigger
	Failer         Failer
	WebhookEnabled bool
	PushEnabled    bool
	CallbackURL    func(provider string) string
	Logger         *infra.Logger
	Now            func() time.Time
}

// Outcome reports how a generation was dispatched. Status is processing
// unless the dispatch itself already finished the generation.
type Outcome struct {
	Mode         domain.DispatchMode `json:"mode"`
	PredictionID string              `json:"predictionId,omitempty"`
	Status       engine.Status       `json:"status"`
	Error        string              `json:"error,omitempty"`
}

type Router struct {
	generations    domain.GenerationRepository
	queue          domain.JobQueueRepository
	registry       *providers.Registry
	gate           *ratelimit.Gate
	trigger        *Trigger
	failer         Failer
	webhookEnabled bool
	pushEnabled    bool
	callbackURL    func(string) string
	logger         *infra.Logger
	now            func() time.Time
}

func NewRouter(opts Options) *Router {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gate := opts.Gate
	if gate == nil {
		gate = ratelimit.NewGate(ratelimit.Options{Now: now})
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Router{
		generations:    opts.Generations,
		queue:          opts.Queue,
		registry:       opts.Registry,
		gate:           gate,
		trigger:        opts.Trigger,
		failer:         opts.Failer,
		webhookEnabled: opts.WebhookEnabled,
		pushEnabled:    opts.PushEnabled,
		callbackURL:    opts.CallbackURL,
		logger:         logger,
		now:            now,
	}
}

// Dispatch routes g. Webhook submission is preferred when enabled and the
// model supports it; any submission error falls through to the trigger or
// the queue.
func (r *Router) Dispatch(ctx context.Context, g *domain.Generation, spec providers.ModelSpec) (Outcome, error) {
	log := r.logger.With().Str("generation_id", g.ID).Str("model", spec.ID).Logger()

	if r.webhookEnabled && spec.SupportsWebhook && r.callbackURL != nil {
		if sub, ok := r.registry.Submitter(spec.Provider); ok {
			predictionID, err := r.submit(ctx, g, spec, sub)
			if err == nil {
				log.Info().Str("prediction_id", predictionID).Msg("dispatch: submitted webhook job")
				return Outcome{Mode: domain.DispatchModeWebhook, PredictionID: predictionID, Status: engine.StatusProcessing}, nil
			}
			log.Warn().Err(err).Msg("dispatch: webhook submission failed; falling back")
			r.note(ctx, g.ID, "warn", "webhook_submit_failed", err.Error())
		}
	}

	if r.pushEnabled && r.trigger != nil {
		r.note(ctx, g.ID, "info", "dispatch", string(domain.DispatchModeTrigger))
		if err := r.trigger.Fire(ctx, g.ID); err != nil {
			msg := "processing trigger failed: " + err.Error()
			res, ferr := r.failer.Fail(ctx, g.ID, domain.ErrorKindTrigger, msg, "")
			if ferr != nil {
				return Outcome{}, ferr
			}
			log.Error().Err(err).Msg("dispatch: processing trigger exhausted")
			return Outcome{Mode: domain.DispatchModeTrigger, Status: res.Status, Error: res.Error}, nil
		}
		return Outcome{Mode: domain.DispatchModeTrigger, Status: engine.StatusProcessing}, nil
	}

	r.note(ctx, g.ID, "info", "dispatch", string(domain.DispatchModeQueue))
	if _, err := r.queue.Enqueue(ctx, g.ID); err != nil {
		return Outcome{}, fmt.Errorf("enqueue generation %s: %w", g.ID, err)
	}
	log.Debug().Msg("dispatch: queued")
	return Outcome{Mode: domain.DispatchModeQueue, Status: engine.StatusProcessing}, nil
}

func (r *Router) submit(ctx context.Context, g *domain.Generation, spec providers.ModelSpec, sub providers.WebhookSubmitter) (string, error) {
	req := engine.BuildRequest(g, spec, r.callbackURL(spec.Provider))
	var predictionID string
	err := r.gate.Call(ctx, ratelimit.Key{Provider: spec.Provider, Scope: spec.Scope}, func(ctx context.Context) error {
		id, err := sub.Submit(ctx, req)
		predictionID = id
		return err
	})
	if err != nil {
		return "", err
	}
	handle := domain.ProviderHandle{
		Provider:     spec.Provider,
		PredictionID: predictionID,
		Mode:         domain.DispatchModeWebhook,
		SubmittedAt:  r.now().UTC(),
	}
	if err := r.generations.SetProviderHandle(ctx, g.ID, handle); err != nil {
		return "", fmt.Errorf("store provider handle: %w", err)
	}
	return predictionID, nil
}

func (r *Router) note(ctx context.Context, id, level, event, message string) {
	e := domain.DebugLogEntry{At: r.now().UTC(), Level: level, Event: event, Message: message}
	if err := r.generations.AppendLog(ctx, id, e); err != nil {
		r.logger.Warn().Err(err).Str("generation_id", id).Msg("dispatch: append debug log failed")
	}
}
