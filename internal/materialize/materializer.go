// Package materialize copies provider outputs into durable storage with a
// bounded worker pool and per-item fallback.
package materialize

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
	"mediagen/internal/storage"
)

const (
	DefaultConcurrency = 3
	maxDownloadBytes   = 512 << 20
)

// Options configures a Materializer.
type Options struct {
	Store       storage.ObjectStore
	Bucket      string
	Concurrency int
	HTTPClient  *http.Client
	Logger      *infra.Logger
	// OnFallback is invoked for every item that could not be stored.
	OnFallback func(generationID string, index int, err error)
}

type Materializer struct {
	store       storage.ObjectStore
	bucket      string
	concurrency int
	httpClient  *http.Client
	logger      *infra.Logger
	onFallback  func(string, int, error)
	now         func() time.Time
}

// Batch is the set of provider outputs of one generation.
type Batch struct {
	OwnerID      string
	GenerationID string
	Kind         domain.MediaKind
	Outputs      []providers.Output
}

func New(opts Options) *Materializer {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Materializer{
		store:       opts.Store,
		bucket:      opts.Bucket,
		concurrency: concurrency,
		httpClient:  client,
		logger:      logger,
		onFallback:  opts.OnFallback,
		now:         time.Now,
	}
}

// Materialize stores every output and returns exactly len(b.Outputs) results in
// index order. An item that fails to store keeps its provider URL (or a data
// URI when it only existed inline) and is marked as a fallback; one failure
// never affects the other items.
func (m *Materializer) Materialize(ctx context.Context, b Batch) []domain.Output {
	results := make([]domain.Output, len(b.Outputs))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, item := range b.Outputs {
		i, item := i, item
		g.Go(func() error {
			out, err := m.store1(ctx, b, i, item)
			if err != nil {
				m.logger.Warn().Err(err).
					Str("generation_id", b.GenerationID).
					Int("index", i).
					Msg("materialize: storing output failed; using provider url")
				if m.onFallback != nil {
					m.onFallback(b.GenerationID, i, err)
				}
				out = m.fallback(b, i, item)
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Materializer) store1(ctx context.Context, b Batch, index int, item providers.Output) (domain.Output, error) {
	data, contentType := item.Data, item.MimeType
	if len(data) == 0 {
		if item.URL == "" {
			return domain.Output{}, errors.New("output has neither data nor url")
		}
		var err error
		data, contentType, err = m.download(ctx, item.URL, item.MimeType)
		if err != nil {
			return domain.Output{}, err
		}
	}
	mimeType := storage.MimeType(contentType, item.URL, data)
	key := fmt.Sprintf("generations/%s/%s/%d.%s", b.OwnerID, b.GenerationID, index, storage.Extension(mimeType, item.URL, defaultExt(b.Kind)))

	obj, err := m.store.Put(ctx, m.bucket, key, data, mimeType)
	if err != nil {
		return domain.Output{}, fmt.Errorf("upload: %w", err)
	}

	out := m.base(b, index, item)
	out.URL = obj.URL
	out.StoragePath = obj.Path
	out.MimeType = mimeType
	if b.Kind == domain.MediaKindImage && (out.Width == 0 || out.Height == 0) {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			out.Width, out.Height = cfg.Width, cfg.Height
		}
	}
	return out, nil
}

func (m *Materializer) fallback(b Batch, index int, item providers.Output) domain.Output {
	out := m.base(b, index, item)
	out.Fallback = true
	out.MimeType = storage.MimeType(item.MimeType, item.URL, item.Data)
	if item.URL != "" {
		out.URL = item.URL
	} else if len(item.Data) > 0 {
		out.URL = "data:" + out.MimeType + ";base64," + base64.StdEncoding.EncodeToString(item.Data)
	}
	return out
}

func (m *Materializer) base(b Batch, index int, item providers.Output) domain.Output {
	return domain.Output{
		ID:              uuid.NewString(),
		GenerationID:    b.GenerationID,
		OwnerID:         b.OwnerID,
		Index:           index,
		Kind:            b.Kind,
		Width:           item.Width,
		Height:          item.Height,
		DurationSeconds: item.DurationSeconds,
		SourceURL:       item.URL,
		CreatedAt:       m.now().UTC(),
	}
}

func (m *Materializer) download(ctx context.Context, rawURL, mimeType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read download: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("download exceeds %d bytes", maxDownloadBytes)
	}
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return data, mimeType, nil
}

func defaultExt(kind domain.MediaKind) string {
	if kind == domain.MediaKindVideo {
		return "mp4"
	}
	return "png"
}
