package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles HTML content such as product descriptions and pages.
type Normaliser struct{}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// Normalise strips markup from the item payload.
// The title comes from <title>, then the first <h1>.
func (n *Normaliser) Normalise(_ context.Context, item *domain.ContentItem) (*driven.NormaliseResult, error) {
	if item == nil {
		return nil, domain.ErrInvalidInput
	}

	raw := payload(item)

	return &driven.NormaliseResult{
		Text:  stripHTML(raw),
		Title: extractHTMLTitle(raw),
	}, nil
}

// payload prefers the raw bytes and falls back to RawText for sources that
// deliver HTML as a string field.
func payload(item *domain.ContentItem) string {
	if len(item.RawPayload) > 0 {
		return string(item.RawPayload)
	}
	return item.RawText
}

// Pre-compiled regular expressions for HTML parsing performance.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Tag             = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|h[1-6]|ul|ol|table|section|article|blockquote|pre)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|ul|ol|table|section|article|blockquote|pre)(\s[^>]*)?>`)
	lineElements      = regexp.MustCompile(`(?i)</(li|tr|dt|dd)>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t\x{00a0}]+`)

	sourceBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// extractHTMLTitle returns the decoded <title> or first <h1> text.
func extractHTMLTitle(content string) string {
	for _, re := range []*regexp.Regexp{titleTag, h1Tag} {
		matches := re.FindStringSubmatch(content)
		if len(matches) > 1 {
			title := allTags.ReplaceAllString(matches[1], "")
			title = strings.TrimSpace(html.UnescapeString(title))
			if title != "" {
				return multiSpaces.ReplaceAllString(title, " ")
			}
		}
	}
	return ""
}

// stripHTML removes HTML tags and extracts readable text content.
// Block elements become paragraph breaks; list items and rows become lines.
func stripHTML(content string) string {
	// Remove non-content elements entirely
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	// Source line breaks are plain whitespace in HTML
	content = sourceBreaks.Replace(content)

	content = openBlockElements.ReplaceAllString(content, "\n\n")
	content = blockElements.ReplaceAllString(content, "\n\n")
	content = lineElements.ReplaceAllString(content, "\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n\n")

	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	// Trim lines and collapse blank runs to a single paragraph break
	var out []string
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}
