package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream streams deltas through onEvent as they arrive and
	// returns the final aggregated message. On consumer hang-up
	// (onEvent returning false), it stops reading and returns the
	// partial content wrapped in ErrInterrupted.
	ChatStream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent) bool) (*ChatResponse, error)

	// FunctionCalls exposes function definitions to the model and
	// returns the calls it chose to make. No streaming is required.
	FunctionCalls(ctx context.Context, messages []Message, functions []FunctionDef) ([]FunctionCall, error)
}

// StreamEventKind distinguishes a reasoning delta from a content
// delta on a ChatStream callback.
type StreamEventKind string

const (
	StreamEventReasoning StreamEventKind = "reasoning"
	StreamEventContent   StreamEventKind = "content"
)

// StreamEvent is one delta delivered to a ChatStream callback.
type StreamEvent struct {
	Kind  StreamEventKind
	Delta string
}

// FunctionDef describes one callable function/tool exposed to the LLM
// for chat_function_calls, mirroring the OpenAI "tools" function shape.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"` // JSON schema
}

// FunctionCall is one function invocation the model chose to make.
type FunctionCall struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

// ErrInterrupted wraps the partial content streamed before a ChatStream
// consumer hung up (onEvent returned false).
type ErrInterrupted struct {
	Partial string
}

func (e *ErrInterrupted) Error() string { return "llm: stream interrupted" }

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "lmstudio":
		return NewLMStudio(cfg), nil
	case "openrouter":
		return NewOpenRouter(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "groq":
		return NewGroq(cfg), nil
	case "xai":
		return NewXAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
