// Package pricing computes the cost of a completed generation.
package pricing

import (
	"math"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// Cost prices the final outputs: images per item, videos per second of
// duration. Videos without a reported duration are billed at requestedSeconds.
func Cost(spec providers.ModelSpec, outputs []domain.Output, requestedSeconds int) float64 {
	var total float64
	for _, o := range outputs {
		switch spec.Kind {
		case domain.MediaKindVideo:
			seconds := o.DurationSeconds
			if seconds <= 0 {
				seconds = float64(requestedSeconds)
			}
			total += spec.UnitPrice * seconds
		default:
			total += spec.UnitPrice
		}
	}
	return math.Round(total*10000) / 10000
}
