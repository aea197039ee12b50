package engine

import (
	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// BuildRequest maps a stored generation onto a provider request.
func BuildRequest(g *domain.Generation, spec providers.ModelSpec, callbackURL string) providers.Request {
	p := g.Parameters
	return providers.Request{
		GenerationID:    g.ID,
		Model:           spec,
		Prompt:          g.Prompt,
		NegativePrompt:  g.NegativePrompt,
		AspectRatio:     p.AspectRatio,
		NumOutputs:      p.NumOutputs,
		DurationSeconds: p.DurationSeconds,
		Seed:            p.Seed,
		ReferenceImages: p.ReferenceImages,
		Extra:           p.Extra,
		CallbackURL:     callbackURL,
	}
}
