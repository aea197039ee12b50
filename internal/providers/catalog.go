package providers

import (
	"sort"

	"mediagen/internal/domain"
)

// Provider names.
const (
	ProviderGemini    = "gemini"
	ProviderQwen      = "qwen"
	ProviderReplicate = "replicate"
)

// ModelSpec describes a public model id.
type ModelSpec struct {
	ID              string
	Provider        string
	Scope           string
	Kind            domain.MediaKind
	RemoteModel     string
	Version         string
	SupportsWebhook bool
	MinuteLimit     int64
	MonthLimit      int64
	// UnitPrice is per image, or per second of video.
	UnitPrice float64
}

// Catalog is the static model registry.
type Catalog struct {
	models map[string]ModelSpec
}

func NewCatalog(specs ...ModelSpec) *Catalog {
	c := &Catalog{models: make(map[string]ModelSpec, len(specs))}
	for _, s := range specs {
		c.models[s.ID] = s
	}
	return c
}

// DefaultCatalog lists the models served out of the box.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ModelSpec{
			ID: "gemini-2.5-flash-image", Provider: ProviderGemini, Scope: "image", Kind: domain.MediaKindImage,
			RemoteModel: "gemini-2.5-flash-image", MinuteLimit: 10, MonthLimit: 1500, UnitPrice: 0.039,
		},
		ModelSpec{
			ID: "veo-3.0-fast", Provider: ProviderGemini, Scope: "video", Kind: domain.MediaKindVideo,
			RemoteModel: "veo-3.0-fast-generate-001", MinuteLimit: 2, MonthLimit: 200, UnitPrice: 0.40,
		},
		ModelSpec{
			ID: "qwen-image-plus", Provider: ProviderQwen, Scope: "image", Kind: domain.MediaKindImage,
			RemoteModel: "qwen-image-plus", MinuteLimit: 30, MonthLimit: 5000, UnitPrice: 0.03,
		},
		ModelSpec{
			ID: "flux-schnell", Provider: ProviderReplicate, Scope: "image", Kind: domain.MediaKindImage,
			RemoteModel: "black-forest-labs/flux-schnell", SupportsWebhook: true, MinuteLimit: 60, MonthLimit: 20000, UnitPrice: 0.003,
		},
		ModelSpec{
			ID: "seedance-1-lite", Provider: ProviderReplicate, Scope: "video", Kind: domain.MediaKindVideo,
			RemoteModel: "bytedance/seedance-1-lite", SupportsWebhook: true, MinuteLimit: 10, MonthLimit: 1000, UnitPrice: 0.036,
		},
	)
}

// Lookup returns the spec for a model id.
func (c *Catalog) Lookup(id string) (ModelSpec, bool) {
	s, ok := c.models[id]
	return s, ok
}

// Models returns every spec ordered by id.
func (c *Catalog) Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(c.models))
	for _, s := range c.models {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
