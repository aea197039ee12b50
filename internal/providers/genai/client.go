package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
)

const providerName = providers.ProviderGemini

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	MaxPolls     int
}

// Client generates images with Gemini image models and videos with Veo. Without
// an API key it renders deterministic synthetic assets so local and CI
// environments exercise the whole pipeline.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxPolls     int
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int                `json:"candidateCount,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	Seed               *int64             `json:"seed,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	SampleCount     int    `json:"sampleCount,omitempty"`
	Seed            *int64 `json:"seed,omitempty"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
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
		poll = 10 * time.Second
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 36
	}

	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		httpClient:   client,
		logger:       logger,
		pollInterval: poll,
		maxPolls:     maxPolls,
	}
}

// Synthetic reports whether the client renders placeholders instead of calling Gemini.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// Generate produces the outputs for req. Remote failures are returned as
// *providers.Error and never replaced with synthetic output.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Synthetic() {
		if req.Model.Kind == domain.MediaKindVideo {
			return c.syntheticVideo(req), nil
		}
		return c.syntheticImages(req), nil
	}
	if req.Model.Kind == domain.MediaKindVideo {
		return c.generateVideo(ctx, req)
	}
	return c.generateImages(ctx, req)
}

func (c *Client) generateImages(ctx context.Context, req providers.Request) (*providers.Result, error) {
	parts := []geminiPart{{Text: buildImagePrompt(req)}}
	for _, ref := range req.ReferenceImages {
		parts = append(parts, geminiPart{FileData: &geminiFileData{MimeType: ref.MimeType, FileURI: ref.URL}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     clampQuantity(req.Outputs()),
			ResponseModalities: []string{"IMAGE"},
			Seed:               req.Seed,
		},
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		payload.GenerationConfig.ImageConfig = &geminiImageConfig{AspectRatio: aspect}
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(req.Model.RemoteModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}

	quantity := clampQuantity(req.Outputs())
	result := &providers.Result{}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, providers.Malformed(providerName, fmt.Errorf("decode inline data: %w", err))
			}
			w, h := decodeImageDimensions(data)
			result.Outputs = append(result.Outputs, providers.Output{
				Data:     data,
				MimeType: firstNonEmpty(part.InlineData.MimeType, "image/png"),
				Width:    w,
				Height:   h,
			})
			if len(result.Outputs) >= quantity {
				break
			}
		}
		if len(result.Outputs) >= quantity {
			break
		}
	}

	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", req.Model.RemoteModel).
		Int("quantity", len(result.Outputs)).
		Msg("genai: generated remote image outputs")

	return result, nil
}

func (c *Client) generateVideo(ctx context.Context, req providers.Request) (*providers.Result, error) {
	instance := veoInstance{Prompt: strings.TrimSpace(req.Prompt)}
	payload := veoRequest{
		Instances: []veoInstance{instance},
		Parameters: veoParameters{
			AspectRatio:     strings.TrimSpace(req.AspectRatio),
			NegativePrompt:  strings.TrimSpace(req.NegativePrompt),
			DurationSeconds: req.DurationSeconds,
			SampleCount:     req.Outputs(),
			Seed:            req.Seed,
		},
	}

	var op veoOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(req.Model.RemoteModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, providers.Malformed(providerName, fmt.Errorf("operation name missing"))
	}

	for attempt := 0; !op.Done; attempt++ {
		if attempt >= c.maxPolls {
			return nil, &providers.Error{
				Provider: providerName,
				Kind:     domain.ErrorKindTimeout,
				Message:  fmt.Sprintf("operation %s not done after %d polls", op.Name, c.maxPolls),
			}
		}
		select {
		case <-ctx.Done():
			return nil, providers.Transport(providerName, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		c.logger.Debug().Str("generation_id", req.GenerationID).Str("operation", op.Name).Int("attempt", attempt+1).Msg("genai: polling video operation")
		if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(op.Name, "/"), nil, &op); err != nil {
			return nil, err
		}
	}
	if op.Error != nil {
		return nil, &providers.Error{Provider: providerName, Kind: domain.ErrorKindProvider, StatusCode: op.Error.Code, Message: op.Error.Message}
	}

	result := &providers.Result{PredictionID: op.Name}
	for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
		uri := strings.TrimSpace(sample.Video.URI)
		if uri == "" {
			continue
		}
		out := providers.Output{
			URL:             uri,
			MimeType:        firstNonEmpty(sample.Video.MimeType, "video/mp4"),
			DurationSeconds: float64(durationOrDefault(req.DurationSeconds)),
		}
		data, mime, err := c.downloadFile(ctx, uri)
		if err != nil {
			c.logger.Warn().Err(err).Str("generation_id", req.GenerationID).Msg("genai: video download failed; keeping provider url")
		} else {
			out.Data = data
			out.MimeType = firstNonEmpty(sample.Video.MimeType, mime, "video/mp4")
		}
		result.Outputs = append(result.Outputs, out)
	}

	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", req.Model.RemoteModel).
		Int("quantity", len(result.Outputs)).
		Msg("genai: generated remote video outputs")

	return result, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, payload any, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Transport(providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Transport(providerName, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return providers.FromResponse(providerName, resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return providers.Malformed(providerName, fmt.Errorf("decode gemini response: %w", err))
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download file status %d", resp.StatusCode)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func buildImagePrompt(req providers.Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Avoid: ")
		b.WriteString(neg)
	}
	if b.Len() == 0 {
		b.WriteString("Create an image")
	}
	return b.String()
}

func clampQuantity(quantity int) int {
	if quantity <= 0 {
		return 1
	}
	if quantity > 4 {
		return 4
	}
	return quantity
}

func durationOrDefault(seconds int) int {
	if seconds <= 0 {
		return 8
	}
	return seconds
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
