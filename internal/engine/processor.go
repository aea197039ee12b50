// Package engine runs generations to a terminal state: it takes the processing
// lock, calls the provider through the rate-limit gate, materializes the
// outputs and records exactly one terminal transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/materialize"
	"mediagen/internal/pricing"
	"mediagen/internal/providers"
	"mediagen/internal/ratelimit"
)

// DefaultLockWindow is how long a processing lock stays live.
const DefaultLockWindow = 60 * time.Second

// DefaultWebhookTimeout bounds how long a webhook-mode generation may wait for
// its provider before it is failed.
const DefaultWebhookTimeout = time.Hour

// Status is the outcome of one processing attempt.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusSkipped    Status = "skipped"
	StatusNotFound   Status = "not_found"
	StatusProcessing Status = "processing"
	// StatusBusy means another attempt holds the processing lock; retry later.
	StatusBusy Status = "busy"
)

// Result describes what a processing attempt did.
type Result struct {
	GenerationID string `json:"id"`
	Status       Status `json:"status"`
	OutputCount  int    `json:"outputCount,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Observer receives terminal outcomes, typically for metrics.
type Observer interface {
	GenerationFinished(modelID string, status Status)
}

// Options wires a Processor.
type Options struct {
	Generations  domain.GenerationRepository
	Analysis     domain.AnalysisQueue
	Catalog      *providers.Catalog
	Registry     *providers.Registry
	Gate         *ratelimit.Gate
	Materializer *materialize.Materializer
	LockWindow   time.Duration
	// WebhookTimeout defaults to DefaultWebhookTimeout.
	WebhookTimeout time.Duration
	// Holder identifies this process in lock records; defaults to host:pid.
	Holder   string
	Observer Observer
	Logger   *infra.Logger
	Now      func() time.Time
}

type Processor struct {
	generations    domain.GenerationRepository
	analysis       domain.AnalysisQueue
	catalog        *providers.Catalog
	registry       *providers.Registry
	gate           *ratelimit.Gate
	materializer   *materialize.Materializer
	lockWindow     time.Duration
	webhookTimeout time.Duration
	holder         string
	observer       Observer
	logger         *infra.Logger
	now            func() time.Time
}

func NewProcessor(opts Options) *Processor {
	window := opts.LockWindow
	if window <= 0 {
		window = DefaultLockWindow
	}
	webhookTimeout := opts.WebhookTimeout
	if webhookTimeout <= 0 {
		webhookTimeout = DefaultWebhookTimeout
	}
	holder := opts.Holder
	if holder == "" {
		host, _ := os.Hostname()
		holder = host + ":" + strconv.Itoa(os.Getpid())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gate := opts.Gate
	if gate == nil {
		gate = ratelimit.NewGate(ratelimit.Options{Now: now})
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = providers.DefaultCatalog()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Processor{
		generations:    opts.Generations,
		analysis:       opts.Analysis,
		catalog:        catalog,
		registry:       opts.Registry,
		gate:           gate,
		materializer:   opts.Materializer,
		lockWindow:     window,
		webhookTimeout: webhookTimeout,
		holder:         holder,
		observer:       opts.Observer,
		logger:         logger,
		now:            now,
	}
}

// Process drives one generation as far as it can go. The returned error is
// reserved for infrastructure faults the caller may retry; provider failures
// are recorded on the generation and reported through Result.
func (p *Processor) Process(ctx context.Context, id string) (Result, error) {
	g, err := p.generations.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{GenerationID: id, Status: StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load generation %s: %w", id, err)
	}
	if g.Status.IsTerminal() {
		return Result{GenerationID: id, Status: StatusSkipped}, nil
	}
	// The provider already owns a webhook job for this record.
	if h := g.Parameters.Provider; h != nil && h.Mode == domain.DispatchModeWebhook {
		return p.reconcile(ctx, g, *h)
	}

	acquired, err := p.acquireLock(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		p.logger.Debug().Str("generation_id", id).Msg("engine: processing lock held; skipping")
		return Result{GenerationID: id, Status: StatusSkipped}, nil
	}
	p.heartbeat(ctx, id, entry("info", "lock_acquired", "", map[string]string{"holder": p.holder}))

	spec, ok := p.catalog.Lookup(g.ModelID)
	if !ok {
		return p.fail(ctx, g, domain.ErrorKindUnknownModel, fmt.Sprintf("unknown model %q", g.ModelID), "")
	}
	gen, err := p.registry.Generator(spec.Provider)
	if err != nil {
		return p.fail(ctx, g, domain.ErrorKindInternal, "provider unavailable", err.Error())
	}

	p.heartbeat(ctx, id, entry("info", "provider_call", "", map[string]string{"provider": spec.Provider, "model": spec.RemoteModel}))
	var res *providers.Result
	callErr := p.gate.Call(ctx, ratelimit.Key{Provider: spec.Provider, Scope: spec.Scope}, func(ctx context.Context) error {
		r, err := gen.Generate(ctx, BuildRequest(g, spec, ""))
		res = r
		return err
	})

	// A cancellation may have landed while the provider was running.
	if current, err := p.generations.GetByID(ctx, id); err != nil {
		p.logger.Warn().Err(err).Str("generation_id", id).Msg("engine: status recheck failed")
	} else if current.Status.IsTerminal() {
		p.logger.Info().Str("generation_id", id).Str("status", string(current.Status)).Msg("engine: generation finished elsewhere; discarding provider result")
		return terminalResult(current), nil
	}

	if callErr != nil {
		return p.fail(ctx, g, providers.KindOf(callErr), publicMessage(callErr), callErr.Error())
	}
	var outputs []providers.Output
	if res != nil {
		outputs = res.Outputs
	}
	return p.finish(ctx, g, spec, outputs)
}

// Fail records a terminal failure for id on behalf of another component
// (trigger exhaustion, queue exhaustion).
func (p *Processor) Fail(ctx context.Context, id, kind, message, detail string) (Result, error) {
	g, err := p.generations.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{GenerationID: id, Status: StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load generation %s: %w", id, err)
	}
	if g.Status.IsTerminal() {
		return Result{GenerationID: id, Status: StatusSkipped}, nil
	}
	return p.fail(ctx, g, kind, message, detail)
}

// Cancel moves a processing generation to cancelled.
func (p *Processor) Cancel(ctx context.Context, id, userID string) (bool, error) {
	applied, err := p.generations.Cancel(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel generation %s: %w", id, err)
	}
	if applied {
		p.heartbeat(ctx, id, entry("info", "cancelled", "", map[string]string{"user_id": userID}))
		p.logger.Info().Str("generation_id", id).Msg("engine: generation cancelled")
	}
	return applied, nil
}

func (p *Processor) finish(ctx context.Context, g *domain.Generation, spec providers.ModelSpec, outputs []providers.Output) (Result, error) {
	if len(outputs) == 0 {
		return p.fail(ctx, g, domain.ErrorKindEmptyOutput, "provider returned no outputs", "")
	}
	p.heartbeat(ctx, g.ID, entry("info", "materialize", "", map[string]string{"count": strconv.Itoa(len(outputs))}))

	stored := p.materializer.Materialize(ctx, materialize.Batch{
		OwnerID:      g.OwnerID,
		GenerationID: g.ID,
		Kind:         spec.Kind,
		Outputs:      outputs,
	})
	fallbacks := 0
	for _, o := range stored {
		if o.Fallback {
			fallbacks++
		}
	}
	cost := pricing.Cost(spec, stored, g.Parameters.DurationSeconds)

	applied, err := p.generations.Complete(ctx, g.ID, stored, cost)
	if err != nil {
		return Result{}, fmt.Errorf("complete generation %s: %w", g.ID, err)
	}
	if !applied {
		current, err := p.generations.GetByID(ctx, g.ID)
		if err != nil {
			return Result{GenerationID: g.ID, Status: StatusSkipped}, nil
		}
		return terminalResult(current), nil
	}

	p.heartbeat(ctx, g.ID, entry("info", "completed", "", map[string]string{
		"outputs":   strconv.Itoa(len(stored)),
		"fallbacks": strconv.Itoa(fallbacks),
		"cost":      strconv.FormatFloat(cost, 'f', -1, 64),
	}))
	if p.analysis != nil {
		if err := p.analysis.EnqueueOutputs(ctx, stored); err != nil {
			p.logger.Warn().Err(err).Str("generation_id", g.ID).Msg("engine: enqueue output analysis failed")
		}
	}
	p.logger.Info().
		Str("generation_id", g.ID).
		Str("model", g.ModelID).
		Int("outputs", len(stored)).
		Int("fallbacks", fallbacks).
		Msg("engine: generation completed")
	p.observe(g.ModelID, StatusCompleted)
	return Result{GenerationID: g.ID, Status: StatusCompleted, OutputCount: len(stored)}, nil
}

func (p *Processor) fail(ctx context.Context, g *domain.Generation, kind, message, detail string) (Result, error) {
	errCtx := domain.ErrorContext{
		Message: message,
		Kind:    kind,
		At:      p.now().UTC(),
		UserID:  g.OwnerID,
		Detail:  detail,
	}
	p.heartbeat(ctx, g.ID, entry("error", "failed", message, map[string]string{"kind": kind}))
	applied, err := p.generations.Fail(ctx, g.ID, errCtx)
	if err != nil {
		return Result{}, fmt.Errorf("fail generation %s: %w", g.ID, err)
	}
	if !applied {
		current, err := p.generations.GetByID(ctx, g.ID)
		if err != nil {
			return Result{GenerationID: g.ID, Status: StatusSkipped}, nil
		}
		return terminalResult(current), nil
	}
	p.logger.Warn().
		Str("generation_id", g.ID).
		Str("model", g.ModelID).
		Str("kind", kind).
		Str("detail", detail).
		Msg("engine: generation failed")
	p.observe(g.ModelID, StatusFailed)
	return Result{GenerationID: g.ID, Status: StatusFailed, Error: message}, nil
}

func (p *Processor) heartbeat(ctx context.Context, id string, e domain.DebugLogEntry) {
	e.At = p.now().UTC()
	if err := p.generations.AppendLog(ctx, id, e); err != nil {
		p.logger.Warn().Err(err).Str("generation_id", id).Str("event", e.Event).Msg("engine: append debug log failed")
	}
}

func (p *Processor) observe(modelID string, status Status) {
	if p.observer != nil {
		p.observer.GenerationFinished(modelID, status)
	}
}

func entry(level, event, message string, fields map[string]string) domain.DebugLogEntry {
	return domain.DebugLogEntry{Level: level, Event: event, Message: message, Fields: fields}
}

func terminalResult(g *domain.Generation) Result {
	if g.Status == domain.GenerationStatusCancelled {
		return Result{GenerationID: g.ID, Status: StatusCancelled}
	}
	return Result{GenerationID: g.ID, Status: StatusSkipped}
}

// publicMessage is the short user-facing text; the full error stays in detail.
func publicMessage(err error) string {
	switch providers.KindOf(err) {
	case domain.ErrorKindRateLimited:
		return "provider rate limit reached, try again later"
	case domain.ErrorKindTimeout:
		return "provider timed out"
	case domain.ErrorKindMalformed:
		return "provider returned an unreadable response"
	}
	if perr, ok := providers.AsError(err); ok && perr.Message != "" {
		return perr.Message
	}
	return "provider request failed"
}
