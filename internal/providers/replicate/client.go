// Package replicate talks to the Replicate predictions API. It supports
// webhook submission and a bounded polling fallback for synchronous use.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
)

const providerName = providers.ProviderReplicate

// Options configures the Replicate client.
type Options struct {
	APIToken     string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	MaxPolls     int
}

type Client struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxPolls     int
}

type predictionRequest struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 90
	}
	return &Client{
		token:        strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: poll,
		maxPolls:     maxPolls,
	}
}

// Submit starts a prediction whose completion is posted to req.CallbackURL.
func (c *Client) Submit(ctx context.Context, req providers.Request) (string, error) {
	if strings.TrimSpace(req.CallbackURL) == "" {
		return "", errors.New("replicate: callback url is required")
	}
	body := c.buildRequest(req)
	body.Webhook = req.CallbackURL
	body.WebhookEventsFilter = []string{"completed"}

	var p prediction
	if err := c.do(ctx, http.MethodPost, c.createPath(req.Model), body, nil, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", providers.Malformed(providerName, errors.New("prediction id missing"))
	}
	c.logger.Debug().Str("generation_id", req.GenerationID).Str("prediction_id", p.ID).Msg("replicate: submitted webhook prediction")
	return p.ID, nil
}

// Generate runs a prediction and polls until it settles or MaxPolls is reached.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	headers := http.Header{}
	headers.Set("Prefer", "wait=30")

	var p prediction
	if err := c.do(ctx, http.MethodPost, c.createPath(req.Model), c.buildRequest(req), headers, &p); err != nil {
		return nil, err
	}
	for attempt := 0; !isTerminal(p.Status); attempt++ {
		if attempt >= c.maxPolls {
			return nil, &providers.Error{Provider: providerName, Kind: domain.ErrorKindTimeout, Message: fmt.Sprintf("prediction %s still %s after %d polls", p.ID, p.Status, c.maxPolls)}
		}
		select {
		case <-ctx.Done():
			return nil, providers.Transport(providerName, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		if err := c.do(ctx, http.MethodGet, "/predictions/"+p.ID, nil, nil, &p); err != nil {
			return nil, err
		}
	}

	event, err := toEvent(p, req.Model.Kind)
	if err != nil {
		return nil, err
	}
	if event.Status != providers.EventSucceeded {
		return nil, &providers.Error{Provider: providerName, Kind: domain.ErrorKindProvider, Message: firstNonEmpty(event.Error, "prediction "+event.Status)}
	}
	return &providers.Result{PredictionID: p.ID, Outputs: event.Outputs}, nil
}

// ParseWebhook decodes a prediction delivered to the webhook endpoint.
func (c *Client) ParseWebhook(body []byte) (*providers.WebhookEvent, error) {
	var p prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, providers.Malformed(providerName, err)
	}
	if p.ID == "" {
		return nil, providers.Malformed(providerName, errors.New("prediction id missing"))
	}
	return toEvent(p, "")
}

// FetchPrediction reads a prediction's current state in webhook event form.
func (c *Client) FetchPrediction(ctx context.Context, predictionID string) (*providers.WebhookEvent, error) {
	if strings.TrimSpace(predictionID) == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	var p prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+predictionID, nil, nil, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = predictionID
	}
	return toEvent(p, "")
}

func (c *Client) buildRequest(req providers.Request) predictionRequest {
	input := map[string]any{}
	for k, v := range req.Extra {
		input[k] = v
	}
	input["prompt"] = strings.TrimSpace(req.Prompt)
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		input["negative_prompt"] = neg
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		input["aspect_ratio"] = aspect
	}
	if req.Seed != nil {
		input["seed"] = *req.Seed
	}
	if req.Model.Kind == domain.MediaKindVideo {
		if req.DurationSeconds > 0 {
			input["duration"] = req.DurationSeconds
		}
	} else {
		input["num_outputs"] = req.Outputs()
	}
	if len(req.ReferenceImages) > 0 {
		input["image"] = req.ReferenceImages[0].URL
	}
	return predictionRequest{Version: req.Model.Version, Input: input}
}

func (c *Client) createPath(model providers.ModelSpec) string {
	if model.Version != "" {
		return "/predictions"
	}
	return "/models/" + model.RemoteModel + "/predictions"
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers http.Header, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Transport(providerName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Transport(providerName, err)
	}
	if resp.StatusCode >= 300 {
		return providers.FromResponse(providerName, resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providers.Malformed(providerName, err)
	}
	return nil
}

func isTerminal(status string) bool {
	switch status {
	case providers.EventSucceeded, providers.EventFailed, providers.EventCanceled:
		return true
	default:
		return false
	}
}

func toEvent(p prediction, kind domain.MediaKind) (*providers.WebhookEvent, error) {
	event := &providers.WebhookEvent{PredictionID: p.ID, Status: p.Status, Error: decodeError(p.Error)}
	if p.Status != providers.EventSucceeded {
		return event, nil
	}
	urls, err := decodeOutput(p.Output)
	if err != nil {
		return nil, providers.Malformed(providerName, err)
	}
	for _, u := range urls {
		out := providers.Output{URL: u}
		if kind == domain.MediaKindVideo {
			out.MimeType = "video/mp4"
		}
		event.Outputs = append(event.Outputs, out)
	}
	return event, nil
}

// decodeOutput accepts the single-URL and URL-list output shapes.
func decodeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unexpected output shape: %w", err)
	}
	out := list[:0]
	for _, u := range list {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func decodeError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
