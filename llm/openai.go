package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// openAIProvider implements Provider for the OpenAI API through the
// official github.com/sashabaranov/go-openai client, which natively
// speaks SSE streaming and the tools/tool_calls protocol. The other
// OpenAI-compatible providers keep the hand-rolled compat client since
// their dialects drift from the official SDK's expectations.
//
// API key: set via config, OPENAI_API_KEY env var, or the server's
// AITER_CHAT_API_KEY env var.
type openAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL + "/v1"

	return &openAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (p *openAIProvider) buildRequest(req ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}
	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// ChatStream relays deltas through onEvent via the SDK's native SSE
// stream. onEvent returning false closes the stream and surfaces the
// partial content as ErrInterrupted.
func (p *openAIProvider) ChatStream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent) bool) (*ChatResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: opening chat stream: %w", err)
	}
	defer stream.Close()

	var content, model, finishReason string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai: reading chat stream: %w", err)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		delta := choice.Delta.Content
		if delta == "" {
			continue
		}
		content += delta
		if onEvent != nil && !onEvent(StreamEvent{Kind: StreamEventContent, Delta: delta}) {
			return nil, &ErrInterrupted{Partial: content}
		}
	}

	return &ChatResponse{Content: content, Model: model, FinishReason: finishReason}, nil
}

// FunctionCalls exposes functions as tools and returns whichever calls
// the model makes; parallel tool calls come back as multiple entries.
func (p *openAIProvider) FunctionCalls(ctx context.Context, messages []Message, functions []FunctionDef) ([]FunctionCall, error) {
	req := p.buildRequest(ChatRequest{Messages: messages})
	req.Tools = make([]openai.Tool, len(functions))
	for i, f := range functions {
		req.Tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: function calls: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var out []FunctionCall
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		out = append(out, FunctionCall{
			Name:      tc.Function.Name,
			Arguments: parseCallArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}
