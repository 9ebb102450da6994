package domain

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// CallerContext carries request-scoped hints from the caller, such as the
// page the shopper is viewing. Values are rendered into the system prompt.
type CallerContext struct {
	// StoreName is the name of the store answering.
	StoreName string `json:"store_name,omitempty"`

	// PageURL is where the question was asked.
	PageURL string `json:"page_url,omitempty"`

	// Locale is the preferred answer language (e.g. "en-GB").
	Locale string `json:"locale,omitempty"`

	// Extra holds free-form key-value hints.
	Extra map[string]string `json:"extra,omitempty"`
}

// GenerationRequest is the structured request handed to a GenerationProvider.
type GenerationRequest struct {
	// System is the system instruction including retrieved context.
	System string

	// Messages are the prior conversation followed by the current query.
	Messages []ChatMessage

	// MaxTokens bounds the answer length. Zero means provider default.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64

	// Sources are the retrieved chunks included in System, in order.
	Sources []RetrievalResult

	// Fallback is true when no context was retrieved and the provider was
	// instructed to answer from general knowledge or decline.
	Fallback bool
}

// Usage reports token consumption for logging and quota tracking.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse is what a GenerationProvider returns.
type GenerationResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Citation points an answer back at the content it used.
type Citation struct {
	ContentType ContentType `json:"content_type"`
	ContentID   string      `json:"content_id"`
	Title       string      `json:"title,omitempty"`
	URL         string      `json:"url,omitempty"`
	Similarity  float64     `json:"similarity"`
}

// Answer is the result of a retrieval-augmented query.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Fallback  bool       `json:"fallback"`
	Model     string     `json:"model,omitempty"`
	Usage     Usage      `json:"usage"`
}
