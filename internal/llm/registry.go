package llm

import (
	"sort"
	"strings"
	"time"
)

// exactModels pins known model ids to their adapter kind.
var exactModels = map[string]AdapterKind{
	"qwen/qwen3-coder:free":   KindCoder,
	"openrouter/quasar-alpha": KindLongContext,
	"z-ai/glm-4.5-air":        KindPlainText,
}

// prefixModels applies a kind to every model of a vendor.
var prefixModels = []struct {
	prefix string
	kind   AdapterKind
}{
	{"anthropic/", KindAlternating},
}

// Registry resolves model ids to adapters. Lookups never fail: unknown ids
// get the default adapter.
type Registry struct {
	creds    Credentials
	timeouts map[string]time.Duration
}

// NewRegistry creates a registry. timeouts overrides the per-kind timeout for
// individual model ids.
func NewRegistry(creds Credentials, timeouts map[string]time.Duration) *Registry {
	t := make(map[string]time.Duration, len(timeouts))
	for model, d := range timeouts {
		if d > 0 {
			t[model] = d
		}
	}
	return &Registry{creds: creds, timeouts: t}
}

// KindFor returns the adapter kind used for model.
func KindFor(model string) AdapterKind {
	if kind, ok := exactModels[model]; ok {
		return kind
	}
	for _, p := range prefixModels {
		if strings.HasPrefix(model, p.prefix) {
			return p.kind
		}
	}
	return KindDefault
}

// Lookup returns the adapter for model.
func (r *Registry) Lookup(model string) Adapter {
	a := variants[KindFor(model)]
	a.creds = r.creds
	if d, ok := r.timeouts[model]; ok {
		a.timeout = d
	}
	return &a
}

// Kinds returns every known adapter kind, sorted.
func Kinds() []AdapterKind {
	kinds := make([]AdapterKind, 0, len(variants))
	for k := range variants {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
