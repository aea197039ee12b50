// Package reference turns user-supplied reference images into durable
// storage pointers before a generation is dispatched.
package reference

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/storage"
)

const (
	// MaxImages bounds the reference images accepted per generation.
	MaxImages = 4
	// MaxBytes bounds one reference image payload.
	MaxBytes = 20 << 20
)

// Input is one reference image as submitted: inline base64 (optionally a data
// URI) or a remote URL.
type Input struct {
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	// MimeType is accepted for compatibility and ignored.
	MimeType string `json:"mimeType,omitempty"`
}

// Options configures a Resolver.
type Options struct {
	Store  storage.ObjectStore
	Bucket string
	// HTTPClient defaults to a client that refuses internal destinations.
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Stored reference types. The declared type is never trusted; the payload is
// sniffed.
var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Resolver uploads reference payloads under a content-addressed path.
type Resolver struct {
	store      storage.ObjectStore
	bucket     string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewResolver(opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = newFetchClient()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Resolver{store: opts.Store, bucket: opts.Bucket, httpClient: client, logger: logger}
}

// Resolve converts every input into a ReferenceImage. Invalid or unreachable
// inputs fail the whole batch with an error wrapping domain.ErrInvalidInput.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, inputs []Input) ([]domain.ReferenceImage, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if len(inputs) > MaxImages {
		return nil, fmt.Errorf("%w: at most %d reference images", domain.ErrInvalidInput, MaxImages)
	}
	out := make([]domain.ReferenceImage, 0, len(inputs))
	for i, in := range inputs {
		data, err := r.load(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("%w: reference image %d: %v", domain.ErrInvalidInput, i, err)
		}
		ref, err := r.upload(ctx, ownerID, data, in.URL)
		if err != nil {
			return nil, fmt.Errorf("reference image %d: %w", i, err)
		}
		out = append(out, ref)
	}
	return out, nil
}

func (r *Resolver) load(ctx context.Context, in Input) ([]byte, error) {
	switch {
	case strings.TrimSpace(in.Data) != "":
		return decodeInline(in.Data)
	case strings.TrimSpace(in.URL) != "":
		return r.fetch(ctx, strings.TrimSpace(in.URL))
	default:
		return nil, errors.New("either data or url is required")
	}
}

func (r *Resolver) upload(ctx context.Context, ownerID string, data []byte, sourceURL string) (domain.ReferenceImage, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	mimeType := mimetype.Detect(data).String()
	if !imageTypes[mimeType] {
		return domain.ReferenceImage{}, fmt.Errorf("%w: unsupported reference type %q", domain.ErrInvalidInput, mimeType)
	}
	key := fmt.Sprintf("references/%s/%s.%s", ownerID, checksum, storage.Extension(mimeType, sourceURL, "png"))

	obj, err := r.store.Put(ctx, r.bucket, key, data, mimeType)
	if err != nil {
		return domain.ReferenceImage{}, fmt.Errorf("upload: %w", err)
	}
	r.logger.Debug().Str("owner_id", ownerID).Str("checksum", checksum).Msg("reference: stored image")
	return domain.ReferenceImage{
		ReferenceImageID: uuid.NewString(),
		Bucket:           obj.Bucket,
		Path:             obj.Path,
		URL:              obj.URL,
		Checksum:         checksum,
		MimeType:         mimeType,
	}, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("unsupported url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", MaxBytes)
	}
	return data, nil
}

// decodeInline accepts raw base64 or a data URI.
func decodeInline(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(raw, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, errors.New("malformed data uri")
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", MaxBytes)
	}
	return data, nil
}
