package llm

import "context"

// xaiProvider implements Provider for xAI (Grok).
// xAI uses the OpenAI-compatible API format.
type xaiProvider struct {
	base openAICompatClient
}

// NewXAI creates a provider for xAI (Grok).
func NewXAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}
	return &xaiProvider{base: newOpenAICompatClient(cfg)}
}

func (p *xaiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *xaiProvider) ChatStream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent) bool) (*ChatResponse, error) {
	return p.base.chatStream(ctx, req, onEvent)
}

func (p *xaiProvider) FunctionCalls(ctx context.Context, messages []Message, functions []FunctionDef) ([]FunctionCall, error) {
	return p.base.functionCalls(ctx, messages, functions)
}
