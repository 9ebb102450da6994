package driven

// Prompt names understood by PromptStore.
const (
	// PromptAnswerSystem is the system prompt used when sources were retrieved.
	PromptAnswerSystem = "answer_system"
	// PromptAnswerFallback is the system prompt used when nothing relevant was found.
	PromptAnswerFallback = "answer_fallback"
)

// PromptStore loads prompt templates by name.
// Templates may contain {{store}} and {{locale}} placeholders.
type PromptStore interface {
	Load(name string) (string, error)
}
