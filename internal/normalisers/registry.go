package normalisers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/normalisers/html"
	"github.com/custodia-labs/storekb/internal/normalisers/markdown"
	"github.com/custodia-labs/storekb/internal/normalisers/plaintext"
)

// DefaultMIMEType is assumed when an item carries no MIME type.
const DefaultMIMEType = "text/plain"

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry maps MIME types to normalisers.
type Registry struct {
	mu     sync.RWMutex
	byMIME map[string][]driven.Normaliser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byMIME: make(map[string][]driven.Normaliser),
	}
}

// NewDefaultRegistry creates a registry with the built-in normalisers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(html.New())
	r.Register(markdown.New())
	r.Register(plaintext.New())
	return r
}

// Register adds a normaliser for each of its MIME types.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mt := range n.SupportedMIMETypes() {
		mt = baseMIMEType(mt)
		list := append(r.byMIME[mt], n)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority() > list[j].Priority()
		})
		r.byMIME[mt] = list
	}
}

// Get returns the preferred normaliser for a MIME type.
func (r *Registry) Get(mimeType string) (driven.Normaliser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byMIME[baseMIMEType(mimeType)]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// MIMETypes returns every registered MIME type, sorted.
func (r *Registry) MIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byMIME))
	for mt := range r.byMIME {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Normalise runs the preferred normaliser for item.MIMEType.
func (r *Registry) Normalise(ctx context.Context, item *domain.ContentItem) (*driven.NormaliseResult, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	mt := item.MIMEType
	if strings.TrimSpace(mt) == "" {
		mt = DefaultMIMEType
	}

	n, ok := r.Get(mt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedType, mt)
	}
	return n.Normalise(ctx, item)
}

// baseMIMEType strips parameters such as charset and lowercases the type.
func baseMIMEType(mt string) string {
	mt, _, _ = strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
