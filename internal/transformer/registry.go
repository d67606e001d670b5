package transformer

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// Registry finds transformers by name so stored data can be rendered by the
// transformer that produced it.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]crawler.Transformer
}

// NewRegistry registers ts.
func NewRegistry(ts ...crawler.Transformer) *Registry {
	r := &Registry{byKey: make(map[string]crawler.Transformer)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any transformer with the same name.
func (r *Registry) Register(t crawler.Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[t.Name()] = t
}

// Get returns the transformer registered under name.
func (r *Registry) Get(name string) (crawler.Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[name]
	return t, ok
}

// Render decodes stored data with the transformer named in it.
func (r *Registry) Render(data *crawler.AccessResultData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("%w: access result data is nil", crawler.ErrConfiguration)
	}
	t, ok := r.Get(data.TransformerName)
	if !ok {
		return "", fmt.Errorf("%w: no transformer named %q", crawler.ErrTransformerMismatch, data.TransformerName)
	}
	return t.RenderStored(data)
}
