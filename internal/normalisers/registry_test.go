package normalisers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

type registryTestNormaliser struct {
	mimes    []string
	priority int
	text     string
}

func (n *registryTestNormaliser) SupportedMIMETypes() []string { return n.mimes }
func (n *registryTestNormaliser) Priority() int                { return n.priority }
func (n *registryTestNormaliser) Normalise(_ context.Context, _ *domain.ContentItem) (*driven.NormaliseResult, error) {
	return &driven.NormaliseResult{Text: n.text}, nil
}

func TestRegistry_PrefersHigherPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(&registryTestNormaliser{mimes: []string{"text/x-test"}, priority: 5, text: "low"})
	r.Register(&registryTestNormaliser{mimes: []string{"text/x-test"}, priority: 80, text: "high"})

	res, err := r.Normalise(context.Background(), &domain.ContentItem{MIMEType: "text/x-test"})

	require.NoError(t, err)
	assert.Equal(t, "high", res.Text)
}

func TestRegistry_StripsMIMEParameters(t *testing.T) {
	r := NewDefaultRegistry()

	res, err := r.Normalise(context.Background(), &domain.ContentItem{
		MIMEType:   "Text/HTML; charset=utf-8",
		RawPayload: []byte("<p>Hello</p>"),
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
}

func TestRegistry_EmptyMIMEIsPlainText(t *testing.T) {
	r := NewDefaultRegistry()

	res, err := r.Normalise(context.Background(), &domain.ContentItem{RawPayload: []byte("  plain words  ")})

	require.NoError(t, err)
	assert.Equal(t, "plain words", res.Text)
}

func TestRegistry_Unsupported(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Normalise(context.Background(), &domain.ContentItem{MIMEType: "application/pdf"})

	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestRegistry_NilItem(t *testing.T) {
	_, err := NewDefaultRegistry().Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistry_MIMETypes(t *testing.T) {
	types := NewDefaultRegistry().MIMETypes()

	assert.Contains(t, types, "text/html")
	assert.Contains(t, types, "text/markdown")
	assert.Contains(t, types, "text/plain")
}
