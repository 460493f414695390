package llm

import "context"

// ollamaProvider implements Provider for Ollama through its
// OpenAI-compatible endpoint.
type ollamaProvider struct {
	base openAICompatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{base: newOpenAICompatClient(cfg)}
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *ollamaProvider) ChatStream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent) bool) (*ChatResponse, error) {
	return p.base.chatStream(ctx, req, onEvent)
}

func (p *ollamaProvider) FunctionCalls(ctx context.Context, messages []Message, functions []FunctionDef) ([]FunctionCall, error) {
	return p.base.functionCalls(ctx, messages, functions)
}
