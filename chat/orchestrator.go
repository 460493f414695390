package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/aiter/digest"
	"github.com/brunobiangulo/aiter/llm"
	"github.com/brunobiangulo/aiter/retrieval"
	"github.com/brunobiangulo/aiter/store"
)

// Orchestrator runs the retrieval-augmented chat pipeline over one
// store.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator from cfg. cfg.Tools may be nil, in which
// case skill dispatch is skipped entirely (step 9 is a no-op).
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// Chat implements the chat operation, returning a lazy, finite
// stream of ChatEvent values.
// The returned channel is always closed, with EventStreamEnd (or a
// terminal error wrapped in it) as the final event.
func (o *Orchestrator) Chat(ctx context.Context, question string, opts Options) (<-chan ChatEvent, error) {
	question = sanitizeQuery(question)
	if question == "" {
		return nil, errEmptyQuestion
	}
	opts.normalize()

	out := make(chan ChatEvent, ChannelBufferDefault)
	inFlight.register(opts.Exchange)
	go o.run(ctx, question, opts, out)
	return out, nil
}

// send delivers ev on out and reports whether the exchange is still
// active; false means the caller should stop producing.
func (o *Orchestrator) send(ctx context.Context, out chan<- ChatEvent, exchange string, ev ChatEvent) bool {
	// The terminal StreamEnd is still delivered after an abort so the
	// stream always ends with it.
	if !inFlight.isActive(exchange) && ev.Kind != EventStreamEnd {
		return false
	}
	select {
	case out <- ev:
		return inFlight.isActive(exchange)
	case <-ctx.Done():
		return false
	default:
		// Channel full: wait for the consumer to make room; only
		// context cancellation stops the producer here.
		select {
		case out <- ev:
			return inFlight.isActive(exchange)
		case <-ctx.Done():
			return false
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, question string, opts Options, out chan<- ChatEvent) {
	defer close(out)
	defer inFlight.unregister(opts.Exchange)

	s := o.cfg.Store
	assistantID := o.cfg.AssistantID

	// Step 1: retrace prior turns of the session, oldest first.
	history, err := s.ListSessionHistory(ctx, assistantID, opts.Session, opts.Retrace)
	if err != nil {
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd, Err: fmt.Errorf("chat: loading history: %w", err)})
		return
	}

	// Step 2: persist the user turn.
	if _, err := s.InsertHistoryTurn(ctx, store.HistoryChatTurn{
		AssistantID: assistantID, ExchangeID: opts.Exchange, Session: opts.Session,
		Role: RoleUser, Content: question,
	}); err != nil {
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd, Err: fmt.Errorf("chat: persisting user turn: %w", err)})
		return
	}

	// Step 3: persist the bot placeholder, keep its ID for later update.
	botRowID, err := s.InsertHistoryTurn(ctx, store.HistoryChatTurn{
		AssistantID: assistantID, ExchangeID: opts.Exchange, Session: opts.Session,
		Role: RoleBot, Content: "",
	})
	if err != nil {
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd, Err: fmt.Errorf("chat: persisting bot placeholder: %w", err)})
		return
	}

	o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamStart})

	chatLLM := o.cfg.ChatLLM
	if opts.Deep && o.cfg.ReasonLLM != nil {
		chatLLM = o.cfg.ReasonLLM
	}

	result, modelUsed, pipelineErr := o.retrieveAndAnswer(ctx, chatLLM, question, opts, history, out)
	if pipelineErr != nil {
		if interrupted, ok := asInterrupted(pipelineErr); ok {
			// Step 12: caller closed the downstream channel mid-stream;
			// persist whatever was streamed so far and report success.
			o.persistFinal(ctx, botRowID, finalRecord{Content: interrupted.Partial})
			o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd})
			return
		}
		// Step 13: any other error deletes the placeholder row.
		if delErr := s.DeleteHistoryTurn(ctx, botRowID); delErr != nil {
			slog.Warn("chat: deleting bot placeholder after failure", "error", delErr)
		}
		o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd, Err: pipelineErr})
		return
	}

	// Step 11: finalize the bot row.
	o.persistFinal(ctx, botRowID, *result)

	if err := s.LogChat(ctx, store.ChatLogEntry{
		AssistantID: assistantID, Query: question, Answer: result.Content,
		RetrievalMethod: "hybrid", ModelUsed: modelUsed,
	}); err != nil {
		// Ambient audit log; never fails the exchange.
		slog.Debug("chat: logging chat_log entry", "error", err)
	}

	o.send(ctx, out, opts.Exchange, ChatEvent{Kind: EventStreamEnd})
}

func (o *Orchestrator) persistFinal(ctx context.Context, rowID string, rec finalRecord) {
	blob, _ := json.Marshal(rec)
	if err := o.cfg.Store.UpdateHistoryTurn(ctx, rowID, rec.Content, string(blob)); err != nil {
		slog.Warn("chat: updating bot placeholder", "error", err)
	}
}

func asInterrupted(err error) (*llm.ErrInterrupted, bool) {
	ie, ok := err.(*llm.ErrInterrupted)
	return ie, ok
}

// retrieveAndAnswer runs intent expansion, retrieval, skill dispatch,
// and answer streaming, returning the final record to persist or a
// pipeline error (possibly *llm.ErrInterrupted).
func (o *Orchestrator) retrieveAndAnswer(ctx context.Context, chatLLM llm.Provider, question string, opts Options, history []store.HistoryChatTurn, out chan<- ChatEvent) (*finalRecord, string, error) {
	related := o.expandIntent(ctx, chatLLM, question)

	ftsHits, err := o.cfg.Retrieval.Retrieve(ctx, retrieval.Fts, question, related, opts.Deep)
	if err != nil {
		return nil, "", fmt.Errorf("chat: FTS retrieval: %w", err)
	}
	if len(ftsHits) == 0 {
		if simplified := o.simplifyQueries(ctx, chatLLM, append([]string{question}, related...)); len(simplified) > 0 {
			related = append(related, simplified...)
			ftsHits, err = o.cfg.Retrieval.Retrieve(ctx, retrieval.Fts, question, related, opts.Deep)
			if err != nil {
				return nil, "", fmt.Errorf("chat: FTS retrieval retry: %w", err)
			}
		}
	}

	vecHits, err := o.cfg.Retrieval.Retrieve(ctx, retrieval.Vec, question, related, opts.Deep)
	if err != nil {
		return nil, "", fmt.Errorf("chat: vector retrieval: %w", err)
	}

	candidates := unionStrings(ftsHits, vecHits)

	var callTools []CallToolTask
	if o.cfg.Tools != nil {
		toolResults, tasks, err := o.dispatchSkills(ctx, chatLLM, question, related, opts, out)
		if err != nil {
			return nil, "", fmt.Errorf("chat: skill dispatch: %w", err)
		}
		candidates = append(candidates, toolResults...)
		callTools = tasks
	}

	prompt := buildAnswerPrompt(question, candidates, opts.Strict)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: mapHistoryRole(h.Role), Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	content, reasoning, modelUsed, err := o.streamAnswer(ctx, chatLLM, messages, opts, out)
	if err != nil {
		return nil, modelUsed, err
	}

	return &finalRecord{Content: content, Reasoning: reasoning, CallTools: callTools}, modelUsed, nil
}

// mapHistoryRole translates a stored role to the wire role the LLM
// provider expects; func/tool turns are folded into "assistant" since
// most OpenAI-compatible providers don't carry a 5-way role enum.
func mapHistoryRole(role string) string {
	switch role {
	case RoleUser:
		return "user"
	case RoleBot:
		return "assistant"
	default:
		return "assistant"
	}
}

// expandIntent asks the LLM for the queries implicit in the user's
// question, degrading to no related queries (not a hard failure) if
// the call or JSON parse fails.
func (o *Orchestrator) expandIntent(ctx context.Context, chatLLM llm.Provider, question string) []string {
	resp, err := chatLLM.Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: buildIntentPrompt(question)}},
		Temperature: TemperatureStable,
	})
	if err != nil {
		slog.Debug("chat: intent expansion call failed", "error", err)
		return nil
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := digest.ParseJSONLoose(ctx, chatLLM, "", resp.Content, &parsed); err != nil {
		slog.Debug("chat: intent expansion JSON unparseable", "error", err)
		return nil
	}
	return dedupNonEmpty(parsed.Queries)
}

// simplifyQueries asks the LLM for simpler rephrasings of queries
// that retrieved nothing.
func (o *Orchestrator) simplifyQueries(ctx context.Context, chatLLM llm.Provider, queries []string) []string {
	resp, err := chatLLM.Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: buildSimplifyPrompt(queries)}},
		Temperature: TemperatureStable,
	})
	if err != nil {
		slog.Debug("chat: simplify call failed", "error", err)
		return nil
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := digest.ParseJSONLoose(ctx, chatLLM, "", resp.Content, &parsed); err != nil {
		slog.Debug("chat: simplify JSON unparseable", "error", err)
		return nil
	}
	return dedupNonEmpty(parsed.Queries)
}

func dedupNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = sanitizeQuery(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// unionStrings merges two ranked candidate lists, de-duplicating by
// exact text while preserving FTS-then-vector order (both are already
// truncated and ranked by retrieval.Engine.Retrieve).
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
