package chat

import (
	"context"

	"github.com/brunobiangulo/aiter/llm"
)

// streamAnswer relays the answer stream outward: the LLM
// call streams ReasoningContent and StreamContent deltas, which this
// relays as ReasoningStart/ReasoningContent/ReasoningEnd and
// StreamContent events, inserting a single "\n\n" separator exactly
// once reasoning ends and content begins. Returns the assembled
// content, reasoning text, and the model name the response reports.
func (o *Orchestrator) streamAnswer(ctx context.Context, chatLLM llm.Provider, messages []llm.Message, opts Options, out chan<- ChatEvent) (content, reasoning, modelUsed string, err error) {
	temperature := TemperatureDefault
	if opts.Strict {
		temperature = TemperatureStable
	}

	var (
		reasoningStarted bool
		reasoningEnded   bool
		aborted          bool
	)

	resp, streamErr := chatLLM.ChatStream(ctx, llm.ChatRequest{
		Messages:    messages,
		Temperature: temperature,
	}, func(ev llm.StreamEvent) bool {
		if aborted {
			return false
		}
		switch ev.Kind {
		case llm.StreamEventReasoning:
			if !reasoningStarted {
				reasoningStarted = true
				if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventReasoningStart}) {
					aborted = true
					return false
				}
			}
			reasoning += ev.Delta
			if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventReasoningContent, Delta: ev.Delta}) {
				aborted = true
				return false
			}
		case llm.StreamEventContent:
			if reasoningStarted && !reasoningEnded {
				reasoningEnded = true
				if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventReasoningEnd}) {
					aborted = true
					return false
				}
				if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamContent, Delta: "\n\n"}) {
					aborted = true
					return false
				}
			}
			content += ev.Delta
			if !o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamContent, Delta: ev.Delta}) {
				aborted = true
				return false
			}
		}
		return true
	})

	if reasoningStarted && !reasoningEnded {
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventReasoningEnd})
	}

	if streamErr != nil {
		if ie, ok := streamErr.(*llm.ErrInterrupted); ok {
			// Partial content may only have been tracked locally up to
			// the abort point; prefer whatever the provider reports.
			if ie.Partial != "" {
				content = ie.Partial
			}
			return content, reasoning, modelUsed, ie
		}
		return "", "", "", streamErr
	}
	if resp != nil {
		modelUsed = resp.Model
		if resp.Content != "" {
			content = resp.Content
		}
	}
	if aborted {
		return content, reasoning, modelUsed, &llm.ErrInterrupted{Partial: content}
	}
	return content, reasoning, modelUsed, nil
}
