package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/infra"
	"mediagen/internal/middleware"
)

// Trigger attempt outcomes.
const (
	TriggerOK      = "ok"
	TriggerTimeout = "timeout"
	TriggerError   = "error"
)

// TriggerObserver counts trigger attempts.
type TriggerObserver interface {
	TriggerAttempt(outcome string)
}

type TriggerOptions struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	Attempts   int
	Backoff    time.Duration
	HTTPClient *http.Client
	Observer   TriggerObserver
	Logger     *infra.Logger
}

// Trigger asks the processing endpoint to run a generation. The endpoint
// keeps working after the trigger's own deadline, so a timeout counts as
// accepted. Redirects are never followed.
type Trigger struct {
	url      string
	secret   string
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	client   *http.Client
	observer TriggerObserver
	logger   *infra.Logger
}

func NewTrigger(opts TriggerOptions) *Trigger {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	var client http.Client
	if opts.HTTPClient != nil {
		client = *opts.HTTPClient
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Trigger{
		url:      opts.URL,
		secret:   opts.Secret,
		timeout:  timeout,
		attempts: attempts,
		backoff:  opts.Backoff,
		client:   &client,
		observer: opts.Observer,
		logger:   logger,
	}
}

// Fire posts {generationId} to the processing endpoint, retrying non-2xx
// answers with linear backoff.
func (t *Trigger) Fire(ctx context.Context, generationID string) error {
	body, err := json.Marshal(map[string]string{"generationId": generationID})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		accepted, err := t.post(ctx, body)
		switch {
		case err == nil && accepted:
			t.observe(TriggerTimeout)
			t.logger.Info().Str("generation_id", generationID).Int("attempt", attempt).Msg("dispatch: trigger timed out; treating as accepted")
			return nil
		case err == nil:
			t.observe(TriggerOK)
			return nil
		}
		t.observe(TriggerError)
		lastErr = err
		t.logger.Warn().Err(err).Str("generation_id", generationID).Int("attempt", attempt).Msg("dispatch: trigger attempt failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < t.attempts {
			if err := sleep(ctx, t.backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", t.attempts, lastErr)
}

// post reports accepted=true when the attempt timed out.
func (t *Trigger) post(ctx context.Context, body []byte) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalSecretHeader, t.secret)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return true, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	return false, nil
}

func (t *Trigger) observe(outcome string) {
	if t.observer != nil {
		t.observer.TriggerAttempt(outcome)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
