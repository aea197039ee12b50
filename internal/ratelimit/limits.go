package ratelimit

import "mediagen/internal/providers"

// CatalogLimits derives per-key limits from the model catalog. Models sharing
// a key contribute their largest limit.
func CatalogLimits(c *providers.Catalog) func(Key) Limits {
	limits := make(map[Key]Limits)
	for _, spec := range c.Models() {
		key := Key{Provider: spec.Provider, Scope: spec.Scope}
		l := limits[key]
		l.PerMinute = max(l.PerMinute, spec.MinuteLimit)
		l.PerMonth = max(l.PerMonth, spec.MonthLimit)
		limits[key] = l
	}
	return func(k Key) Limits {
		return limits[k]
	}
}
