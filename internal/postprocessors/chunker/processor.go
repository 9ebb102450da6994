// Package chunker splits normalised content text into bounded, overlapping chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Ensure Processor implements the interface.
var _ driven.Chunker = (*Processor)(nil)

// Processor splits text on paragraph and sentence boundaries, falling back
// to word and then character cuts for oversized runs. Sizes are in runes.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.overlap = clampOverlap(p.chunkSize, p.overlap)
	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkSize returns the configured maximum chunk size.
func (p *Processor) ChunkSize() int {
	return p.chunkSize
}

// Overlap returns the configured overlap.
func (p *Processor) Overlap() int {
	return p.overlap
}

// Split chunks item.RawText with the processor's configured sizes.
func (p *Processor) Split(item *domain.ContentItem) []domain.Chunk {
	return SplitWith(item, p.chunkSize, p.overlap)
}

// SplitWith chunks item.RawText into pieces of at most maxChunkSize runes.
// Every chunk after the first starts with up to overlap runes from the end
// of its predecessor, trimmed forward to a word boundary. The output is a
// pure function of the text and the two sizes.
func SplitWith(item *domain.ContentItem, maxChunkSize, overlap int) []domain.Chunk {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	overlap = clampOverlap(maxChunkSize, overlap)

	text := NormaliseText(item.RawText)
	if text == "" {
		return nil
	}

	// Pieces leave room for the overlap prefix of the chunk they open.
	texts := pack(segment(text, maxChunkSize-overlap), maxChunkSize, overlap)

	chunks := make([]domain.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, domain.Chunk{
			ContentType: item.ContentType,
			ContentID:   item.ID,
			Index:       i,
			Total:       len(texts),
			Text:        t,
			Hash:        domain.ChunkHash(item.ContentType, item.ID, i, t),
			ContentHash: domain.TextHash(t),
		})
	}
	return chunks
}

func clampOverlap(size, overlap int) int {
	if overlap < 0 {
		return 0
	}
	if overlap >= size {
		return size / 4
	}
	return overlap
}

// NormaliseText canonicalises whitespace: line endings become \n, runs of
// spaces collapse, and blank-line runs collapse to a single paragraph break.
func NormaliseText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var paragraphs []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
			lines = nil
		}
	}

	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

// piece is a run of text no longer than the chunk size, with the separator
// that joins it to the preceding piece.
type piece struct {
	sep  string
	text string
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// segment breaks text into pieces that each fit in size.
func segment(text string, size int) []piece {
	var out []piece
	for _, para := range strings.Split(text, "\n\n") {
		if runeLen(para) <= size {
			out = append(out, piece{sep: "\n\n", text: para})
			continue
		}

		for i, s := range splitSentences(para) {
			if i == 0 {
				s.sep = "\n\n"
			}
			if runeLen(s.text) <= size {
				out = append(out, s)
				continue
			}
			hard := hardSplit(s.text, size)
			hard[0].sep = s.sep
			out = append(out, hard...)
		}
	}
	out[0].sep = ""
	return out
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace, and at
// line breaks.
func splitSentences(para string) []piece {
	var out []piece
	sep := ""
	start := 0
	for i := 0; i < len(para); i++ {
		c := para[i]
		switch {
		case c == '\n':
			if i > start {
				out = append(out, piece{sep: sep, text: para[start:i]})
			}
			sep = "\n"
			start = i + 1
		case (c == '.' || c == '!' || c == '?') && i+1 < len(para) && para[i+1] == ' ':
			out = append(out, piece{sep: sep, text: para[start : i+1]})
			sep = " "
			start = i + 2
			i++
		}
	}
	if start < len(para) {
		out = append(out, piece{sep: sep, text: para[start:]})
	}
	return out
}

// hardSplit cuts an oversized sentence at the last space that fits, or at
// exactly size runes when there is none.
func hardSplit(s string, size int) []piece {
	var out []piece
	runes := []rune(s)
	sep := ""
	for len(runes) > size {
		cut := -1
		for j := size; j > 0; j-- {
			if runes[j] == ' ' {
				cut = j
				break
			}
		}
		if cut > 0 {
			out = append(out, piece{sep: sep, text: string(runes[:cut])})
			runes = runes[cut+1:]
			sep = " "
		} else {
			out = append(out, piece{sep: sep, text: string(runes[:size])})
			runes = runes[size:]
			sep = ""
		}
	}
	if len(runes) > 0 {
		out = append(out, piece{sep: sep, text: string(runes)})
	}
	return out
}

// pack greedily joins pieces into chunks of at most size runes.
func pack(pieces []piece, size, overlap int) []string {
	var out []string
	cur := ""
	curLen := 0

	for _, p := range pieces {
		pLen := runeLen(p.text)
		if cur == "" {
			cur, curLen = p.text, pLen
			continue
		}

		sepLen := runeLen(p.sep)
		if curLen+sepLen+pLen <= size {
			cur += p.sep + p.text
			curLen += sepLen + pLen
			continue
		}

		out = append(out, cur)

		prefix := tail(cur, min(overlap, size-sepLen-pLen))
		prefixLen := runeLen(prefix)
		if prefix != "" && prefixLen+sepLen+pLen <= size {
			cur = prefix + p.sep + p.text
			curLen = prefixLen + sepLen + pLen
		} else {
			cur, curLen = p.text, pLen
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// tail returns up to n trailing runes of s, starting at a word boundary
// when one exists inside the window.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return strings.TrimSpace(s)
	}
	start := len(runes) - n
	for i := start; i < len(runes)-1; i++ {
		if runes[i] == ' ' || runes[i] == '\n' {
			start = i + 1
			break
		}
	}
	return strings.TrimSpace(string(runes[start:]))
}
