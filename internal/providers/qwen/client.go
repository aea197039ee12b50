package qwen

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

const providerName = providers.ProviderQwen

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	DefaultSize    string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API. Outputs
// are returned as provider URLs; the caller downloads them.
type Client struct {
	apiKey       string
	baseURL      string
	defaultSize  string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "1328*1328"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		defaultSize:  defaultSize,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate issues one DashScope call per requested output. The first failure
// aborts the batch.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if !c.HasCredentials() {
		return nil, &providers.Error{Provider: providerName, Kind: domain.ErrorKindProvider, Message: ErrMissingAPIKey.Error(), Err: ErrMissingAPIKey}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, &providers.Error{Provider: providerName, Kind: domain.ErrorKindProvider, Message: "prompt is required"}
	}
	result := &providers.Result{}
	for i := 0; i < req.Outputs(); i++ {
		out, err := c.generateOne(ctx, req, prompt, i)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, *out)
	}
	return result, nil
}

func (c *Client) generateOne(ctx context.Context, req providers.Request, prompt string, index int) (*providers.Output, error) {
	content := []generationContent{{Text: prompt}}
	for _, ref := range req.ReferenceImages {
		if ref.URL != "" {
			content = append(content, generationContent{Image: ref.URL})
		}
	}
	payload := generationRequest{
		Model: req.Model.RemoteModel,
		Input: generationInput{
			Messages: []generationMessage{{Role: "user", Content: content}},
		},
		Parameters: generationParams{
			NegativePrompt: strings.TrimSpace(req.NegativePrompt),
			Size:           sizeForAspect(req.AspectRatio, c.defaultSize),
		},
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	if req.Seed != nil {
		seed := *req.Seed + int64(index)
		payload.Parameters.Seed = &seed
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.Transport(providerName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.Transport(providerName, err)
	}
	if resp.StatusCode >= 300 {
		return nil, providers.FromResponse(providerName, resp, raw)
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, providers.Malformed(providerName, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Code != "" {
		kind := domain.ErrorKindProvider
		if strings.Contains(decoded.Code, "Throttling") {
			return nil, providers.RateLimited(providerName, providers.DefaultRetryAfter, decoded.Message)
		}
		return nil, &providers.Error{Provider: providerName, Kind: kind, Message: fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code)}
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, providers.Malformed(providerName, errors.New("empty image url"))
	}

	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", req.Model.RemoteModel).
		Str("request_id", decoded.RequestID).
		Msg("qwen: generated image")

	return &providers.Output{
		URL:      imageURL,
		MimeType: "image/png",
		Width:    decoded.Usage.Width,
		Height:   decoded.Usage.Height,
	}, nil
}

func sizeForAspect(aspect, fallback string) string {
	switch strings.TrimSpace(aspect) {
	case "1:1":
		return "1328*1328"
	case "16:9":
		return "1664*928"
	case "9:16":
		return "928*1664"
	case "4:3":
		return "1472*1140"
	case "3:4":
		return "1140*1472"
	default:
		return fallback
	}
}

func firstImageURL(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if url := strings.TrimSpace(content.Image); url != "" {
				return url
			}
		}
	}
	return ""
}
