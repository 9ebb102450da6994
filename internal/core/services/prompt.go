package services

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Prompt assembly defaults.
const (
	DefaultContextBudget = 6000
	DefaultHistoryTurns  = 6
	defaultStoreName     = "the store"
	defaultLocale        = "en"
)

// PromptAssembler turns retrieved chunks, conversation history and caller
// context into a generation request.
type PromptAssembler struct {
	prompts      driven.PromptStore
	budget       int
	historyTurns int
	maxTokens    int
	temperature  float64
}

// PromptOption configures a PromptAssembler.
type PromptOption func(*PromptAssembler)

// WithContextBudget caps the characters of source text included in a prompt.
func WithContextBudget(chars int) PromptOption {
	return func(p *PromptAssembler) {
		if chars > 0 {
			p.budget = chars
		}
	}
}

// WithHistoryTurns keeps at most n prior messages.
func WithHistoryTurns(n int) PromptOption {
	return func(p *PromptAssembler) {
		if n >= 0 {
			p.historyTurns = n
		}
	}
}

// WithGenerationParams sets the answer length bound and temperature.
func WithGenerationParams(maxTokens int, temperature float64) PromptOption {
	return func(p *PromptAssembler) {
		p.maxTokens = maxTokens
		p.temperature = temperature
	}
}

// NewPromptAssembler creates an assembler that loads templates from prompts.
func NewPromptAssembler(prompts driven.PromptStore, opts ...PromptOption) *PromptAssembler {
	p := &PromptAssembler{
		prompts:      prompts,
		budget:       DefaultContextBudget,
		historyTurns: DefaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build assembles the request. Sources are included most similar first while
// they fit the budget; the first source that does not fit ends the list, and
// no source is ever cut mid-text. With no source included the request is a
// fallback that asks the provider to answer generally or decline.
func (p *PromptAssembler) Build(
	query string,
	retrieved []domain.RetrievalResult,
	history []domain.ChatMessage,
	caller domain.CallerContext,
) (*domain.GenerationRequest, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewValidationError(domain.ContentRef{}, "empty query")
	}

	ordered := make([]domain.RetrievalResult, len(retrieved))
	copy(ordered, retrieved)
	domain.SortResults(ordered)

	var sources []domain.RetrievalResult
	var block strings.Builder
	used := 0
	for i := range ordered {
		entry := formatSource(len(sources)+1, &ordered[i])
		n := utf8.RuneCountInString(entry)
		if used+n > p.budget {
			break
		}
		block.WriteString(entry)
		used += n
		sources = append(sources, ordered[i])
	}

	name := driven.PromptAnswerSystem
	if len(sources) == 0 {
		name = driven.PromptAnswerFallback
	}
	tmpl, err := p.prompts.Load(name)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", name, err)
	}

	var system strings.Builder
	system.WriteString(render(tmpl, caller))
	if hints := formatCaller(caller); hints != "" {
		system.WriteString("\n\nContext:\n")
		system.WriteString(hints)
	}
	if len(sources) > 0 {
		system.WriteString("\n\nSources:\n")
		system.WriteString(strings.TrimRight(block.String(), "\n"))
	}

	messages := p.trimHistory(history)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: query})

	return &domain.GenerationRequest{
		System:      system.String(),
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Sources:     sources,
		Fallback:    len(sources) == 0,
	}, nil
}

// trimHistory keeps the most recent user and assistant messages.
func (p *PromptAssembler) trimHistory(history []domain.ChatMessage) []domain.ChatMessage {
	kept := make([]domain.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > p.historyTurns {
		kept = kept[len(kept)-p.historyTurns:]
	}
	return kept
}

// formatSource renders one numbered source.
func formatSource(n int, r *domain.RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", n)
	if title := r.Title(); title != "" {
		b.WriteString(" " + title)
	}
	if url := r.URL(); url != "" {
		b.WriteString(" (" + url + ")")
	}
	b.WriteString("\n")
	b.WriteString(r.Text)
	b.WriteString("\n\n")
	return b.String()
}

// formatCaller renders caller hints in a stable order.
func formatCaller(c domain.CallerContext) string {
	var lines []string
	if c.PageURL != "" {
		lines = append(lines, "Page: "+c.PageURL)
	}
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := c.Extra[k]; v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// render fills the {{store}} and {{locale}} placeholders.
func render(tmpl string, c domain.CallerContext) string {
	store := c.StoreName
	if store == "" {
		store = defaultStoreName
	}
	locale := c.Locale
	if locale == "" {
		locale = defaultLocale
	}
	return strings.NewReplacer("{{store}}", store, "{{locale}}", locale).Replace(tmpl)
}
