package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = New()
}

func TestSupportedMIMETypes(t *testing.T) {
	assert.Equal(t, []string{"text/markdown", "text/x-markdown"}, New().SupportedMIMETypes())
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 50, New().Priority())
}

func TestNormalise_Success(t *testing.T) {
	item := &domain.ContentItem{
		ID:          "returns",
		ContentType: domain.ContentTypeFAQ,
		MIMEType:    "text/markdown",
		RawPayload:  []byte("# Returns\n\nYou can return items within **30 days**."),
	}

	result, err := New().Normalise(context.Background(), item)

	require.NoError(t, err)
	assert.Equal(t, "Returns", result.Title)
	assert.Equal(t, "Returns\n\nYou can return items within 30 days.", result.Text)
}

func TestNormalise_NilItem(t *testing.T) {
	_, err := New().Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalise_UsesRawTextWithoutPayload(t *testing.T) {
	result, err := New().Normalise(context.Background(), &domain.ContentItem{RawText: "## Shipping\nFree over 50"})

	require.NoError(t, err)
	assert.Equal(t, "", result.Title)
	assert.Equal(t, "Shipping\nFree over 50", result.Text)
}

func TestStripMarkdown(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"heading", "## Sizes", "Sizes"},
		{"bold", "**bold** text", "bold text"},
		{"italic", "an *italic* word", "an italic word"},
		{"link", "see [our policy](https://shop.example/returns)", "see our policy"},
		{"image alt", "![red shoe](shoe.png)", "red shoe"},
		{"inline code", "use code `SAVE10`", "use code SAVE10"},
		{"code fence", "```\nEU 42\n```", "EU 42"},
		{"bullet list", "- one\n- two", "one\ntwo"},
		{"numbered list", "1. first\n2. second", "first\nsecond"},
		{"blockquote", "> quoted", "quoted"},
		{"rule", "above\n\n---\n\nbelow", "above\n\nbelow"},
		{"snake case kept", "sku_red_42", "sku_red_42"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, stripMarkdown(tc.input))
		})
	}
}
