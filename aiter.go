// Package aiter is a personal knowledge engine: it ingests documents
// into a per-assistant SQLite store, digests them through a multi-stage
// LLM pipeline into summaries, implicit facts, and question triggers,
// and answers questions over them with hybrid keyword/minhash retrieval
// and a streaming chat orchestrator.
package aiter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/aiter/chat"
	"github.com/brunobiangulo/aiter/digest"
	"github.com/brunobiangulo/aiter/llm"
	"github.com/brunobiangulo/aiter/parser"
	"github.com/brunobiangulo/aiter/parser/content"
	"github.com/brunobiangulo/aiter/reader"
	"github.com/brunobiangulo/aiter/retrieval"
	"github.com/brunobiangulo/aiter/signature"
	"github.com/brunobiangulo/aiter/store"
)

// defaultAssistantName is the reserved row name backing the default
// store; user-supplied names may never begin with '~', which keeps this
// collision-free.
const defaultAssistantName = "~default"

// Engine is the main entry point for the aiter knowledge core.
type Engine interface {
	// ReadDoc parses, hashes, splits, and stores a document. Returns the
	// doc ID and whether an identical doc (by content hash) already
	// existed, in which case nothing is written.
	ReadDoc(ctx context.Context, path string, opts ...ReadOption) (docID string, exists bool, err error)

	// Digest runs the batched LLM digestion pipeline over every
	// not-yet-digested doc in the store.
	Digest(ctx context.Context, opts ...DigestOption) error

	// Chat answers a question over the digested knowledge, returning a
	// finite stream of events ending with a stream-end event.
	Chat(ctx context.Context, question string, opts ...ChatOption) (<-chan chat.ChatEvent, error)

	// Abort interrupts an in-flight chat exchange. Never fails, even
	// for unknown or already-finished exchange IDs.
	Abort(exchange string)

	// History returns up to limit turns of one chat session, oldest
	// first. An empty session returns the most recent turns across all
	// sessions.
	History(ctx context.Context, session string, limit int) ([]store.HistoryChatTurn, error)

	// ListDocs returns every doc in the store.
	ListDocs(ctx context.Context) ([]store.Doc, error)

	// DeleteDoc removes a doc, all its descendant rows, and its kept
	// blob if one exists.
	DeleteDoc(ctx context.Context, docID string) error

	// PullDoc returns the original bytes kept for a doc read with
	// WithKeep.
	PullDoc(ctx context.Context, docID string) ([]byte, error)

	// RegisterSkill makes a tool searchable for chat-time dispatch.
	RegisterSkill(ctx context.Context, sk SkillSpec) error

	// BindToolRunner installs the external tool-execution collaborator;
	// without one, chat skips skill dispatch.
	BindToolRunner(r chat.ToolRunner)

	// Stats returns per-table row counts for diagnostics.
	Stats(ctx context.Context) (*store.Stats, error)

	// Store exposes the underlying store for diagnostics.
	Store() *store.Store

	// Close shuts the engine down, stopping the store's writer.
	Close() error
}

// SkillSpec describes one tool binding to register for retrieval.
type SkillSpec struct {
	ToolsetID   string
	ToolsetName string
	ToolID      string
	Name        string
	Description string
	Triggers    []string
}

// ReadOption configures ReadDoc.
type ReadOption func(*reader.Options)

// WithFilename overrides the source name recorded on the doc.
func WithFilename(name string) ReadOption {
	return func(o *reader.Options) { o.Filename = name }
}

// WithFormat overrides file-extension format detection.
func WithFormat(format string) ReadOption {
	return func(o *reader.Options) { o.Format = format }
}

// WithKeep copies the original file bytes into the store's blob
// directory for later PullDoc.
func WithKeep() ReadOption {
	return func(o *reader.Options) { o.Keep = true }
}

// WithReadProgress receives one message per inserted segment; a message
// that finds the channel full is dropped.
func WithReadProgress(ch chan<- string) ReadOption {
	return func(o *reader.Options) { o.Progress = ch }
}

// DigestOption configures Digest.
type DigestOption func(*digest.Options, *chan<- digest.Progress)

// WithBatch sets doc-level parallelism.
func WithBatch(n int) DigestOption {
	return func(o *digest.Options, _ *chan<- digest.Progress) { o.Batch = n }
}

// WithConcurrent sets per-doc stage parallelism.
func WithConcurrent(n int) DigestOption {
	return func(o *digest.Options, _ *chan<- digest.Progress) { o.Concurrent = n }
}

// WithDeep enables fragment-level question digestion.
func WithDeep() DigestOption {
	return func(o *digest.Options, _ *chan<- digest.Progress) { o.Deep = true }
}

// WithRetry resets terminal-skipped rows before digesting. Callers must
// ensure no digest workers are running against this store.
func WithRetry() DigestOption {
	return func(o *digest.Options, _ *chan<- digest.Progress) { o.Retry = true }
}

// WithDigestProgress receives sub-task descriptions as digestion runs.
func WithDigestProgress(ch chan<- digest.Progress) DigestOption {
	return func(_ *digest.Options, p *chan<- digest.Progress) { *p = ch }
}

// ChatOption configures Chat.
type ChatOption func(*chat.Options)

// WithSession scopes the exchange to a named session for retrace.
func WithSession(session string) ChatOption {
	return func(o *chat.Options) { o.Session = session }
}

// WithExchange pins the exchange ID instead of minting a fresh one, so
// the caller can Abort it.
func WithExchange(exchange string) ChatOption {
	return func(o *chat.Options) { o.Exchange = exchange }
}

// WithRetrace replays up to n prior turns of the session.
func WithRetrace(n int) ChatOption {
	return func(o *chat.Options) { o.Retrace = n }
}

// WithStrict forbids the LLM from answering outside retrieved context.
func WithStrict() ChatOption {
	return func(o *chat.Options) { o.Strict = true }
}

// WithDeepChat doubles the fragment-surround window and routes the
// exchange to the reasoning LLM if one is configured.
func WithDeepChat() ChatOption {
	return func(o *chat.Options) { o.Deep = true }
}

// ValidateAssistantName enforces the naming rules: non-empty after
// trimming, and not beginning with the reserved '~' or '@' prefixes.
func ValidateAssistantName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewError(KindInvalid, "AI name cannot be empty", nil)
	}
	if strings.HasPrefix(name, "~") || strings.HasPrefix(name, "@") {
		return NewError(KindInvalid, fmt.Sprintf("AI name cannot begin with %q", name[:1]), nil)
	}
	return nil
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg         Config
	dataDir     string
	store       *store.Store
	assistantID string
	chatLLM     llm.Provider
	reasonLLM   llm.Provider
	parsers     *parser.Registry
	retriever   *retrieval.Engine
	tools       chat.ToolRunner
}

// New creates an aiter Engine over one assistant's store.
func New(cfg Config) (Engine, error) {
	name := strings.TrimSpace(cfg.AssistantName)
	if name != "" {
		if err := ValidateAssistantName(name); err != nil {
			return nil, err
		}
	}

	if cfg.SignatureDims == 0 {
		cfg.SignatureDims = 256
	}

	ctx := context.Background()
	dataDir := cfg.resolveDataDir()
	s, err := store.New(ctx, cfg.resolveDBPath(), cfg.SignatureDims)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rowName := name
	if rowName == "" {
		rowName = defaultAssistantName
	}
	assistantID, err := s.EnsureAssistant(ctx, rowName)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("ensuring assistant row: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	var reasonLLM llm.Provider
	if cfg.Reasoning.Provider != "" {
		reasonLLM, err = llm.NewProvider(llm.Config{
			Provider: cfg.Reasoning.Provider,
			Model:    cfg.Reasoning.Model,
			BaseURL:  cfg.Reasoning.BaseURL,
			APIKey:   cfg.Reasoning.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating reasoning provider: %w", err)
		}
	}

	return &engine{
		cfg:         cfg,
		dataDir:     dataDir,
		store:       s,
		assistantID: assistantID,
		chatLLM:     chatLLM,
		reasonLLM:   reasonLLM,
		parsers:     parser.NewRegistry(),
		retriever:   retrieval.New(s),
	}, nil
}

func (e *engine) ReadDoc(ctx context.Context, path string, opts ...ReadOption) (string, bool, error) {
	var options reader.Options
	for _, o := range opts {
		o(&options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("resolving path: %w", err)
	}

	budget := content.SplitBudget{
		SegTokens:  e.cfg.SplitTokensOfSeg,
		FragTokens: e.cfg.SplitTokensOfFrag,
	}

	start := time.Now()
	docID, exists, err := reader.ReadDoc(ctx, e.store, e.parsers, e.assistantID, absPath, e.dataDir, options, budget, e.cfg.SignatureDims)
	if err != nil {
		return "", false, err
	}
	if exists {
		slog.Info("read: doc already ingested", "file", filepath.Base(absPath), "doc_id", docID)
		return docID, true, nil
	}
	slog.Info("read: doc ingested",
		"file", filepath.Base(absPath), "doc_id", docID,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return docID, false, nil
}

func (e *engine) Digest(ctx context.Context, opts ...DigestOption) error {
	options := digest.Options{
		Batch:                   e.cfg.DigestBatch,
		Concurrent:              e.cfg.DigestConcurrent,
		Deep:                    e.cfg.Deep,
		RetryLimit:              e.cfg.DigestRetryLimit,
		TruncateProgressMessage: e.cfg.TruncateProgressMessage,
		FilterInformativeTokens: e.cfg.FilterInformativeTokens,
		SplitTokensOfSeg:        e.cfg.SplitTokensOfSeg,
	}
	var progress chan<- digest.Progress
	for _, o := range opts {
		o(&options, &progress)
	}

	start := time.Now()
	if err := digest.Digest(ctx, e.store, e.assistantID, e.chatLLM, options, progress); err != nil {
		return err
	}
	slog.Info("digest: run complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (e *engine) Chat(ctx context.Context, question string, opts ...ChatOption) (<-chan chat.ChatEvent, error) {
	var options chat.Options
	for _, o := range opts {
		o(&options)
	}

	orch := chat.New(chat.Config{
		Store:       e.store,
		Retrieval:   e.retriever,
		ChatLLM:     e.chatLLM,
		ReasonLLM:   e.reasonLLM,
		Tools:       e.tools,
		AssistantID: e.assistantID,
	})
	return orch.Chat(ctx, question, options)
}

func (e *engine) Abort(exchange string) {
	chat.Abort(exchange)
}

func (e *engine) History(ctx context.Context, session string, limit int) ([]store.HistoryChatTurn, error) {
	if session != "" {
		return e.store.ListSessionHistory(ctx, e.assistantID, session, limit)
	}
	return e.store.ListHistory(ctx, e.assistantID, limit)
}

func (e *engine) ListDocs(ctx context.Context) ([]store.Doc, error) {
	return e.store.ListDocs(ctx, e.assistantID)
}

func (e *engine) DeleteDoc(ctx context.Context, docID string) error {
	if err := e.store.DeleteDoc(ctx, docID); err != nil {
		if err == store.ErrNotFound {
			return NewError(KindNotFound, fmt.Sprintf("doc %s", docID), nil)
		}
		return err
	}
	// A missing blob is fine: the doc may never have been kept.
	if err := os.Remove(e.blobPath(docID)); err != nil && !os.IsNotExist(err) {
		slog.Warn("delete: removing kept blob", "doc_id", docID, "error", err)
	}
	return nil
}

func (e *engine) PullDoc(ctx context.Context, docID string) ([]byte, error) {
	if _, err := e.store.GetDoc(ctx, docID); err != nil {
		if err == store.ErrNotFound {
			return nil, NewError(KindNotFound, fmt.Sprintf("doc %s", docID), nil)
		}
		return nil, err
	}
	data, err := os.ReadFile(e.blobPath(docID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(KindNotFound, fmt.Sprintf("no kept blob for doc %s", docID), nil)
		}
		return nil, err
	}
	return data, nil
}

func (e *engine) blobPath(docID string) string {
	return filepath.Join(e.dataDir, fmt.Sprintf("docs_%s", e.assistantID), docID)
}

func (e *engine) RegisterSkill(ctx context.Context, sk SkillSpec) error {
	if strings.TrimSpace(sk.ToolID) == "" {
		return NewError(KindInvalid, "skill tool_id cannot be empty", nil)
	}
	toolsetID := sk.ToolsetID
	if toolsetID == "" {
		toolsetID = "default"
	}
	toolsetName := sk.ToolsetName
	if toolsetName == "" {
		toolsetName = toolsetID
	}
	if err := e.store.EnsureToolset(ctx, toolsetID, toolsetName); err != nil {
		return fmt.Errorf("ensuring toolset: %w", err)
	}

	trigger := sk.Name + " " + sk.Description + " " + strings.Join(sk.Triggers, " ")
	sig := skillSignature(trigger, e.cfg.SignatureDims)
	_, err := e.store.UpsertSkill(ctx, store.Skill{
		ToolsetID:      toolsetID,
		ToolID:         sk.ToolID,
		Name:           sk.Name,
		Description:    sk.Description,
		TriggerPhrases: sk.Triggers,
	}, sig)
	return err
}

// skillSignature sketches a skill's trigger text; an all-separator
// trigger yields no signature, so the skill stays FTS-only.
func skillSignature(trigger string, dims int) []float32 {
	sig, err := signature.MinHash(signature.Tokenize(trigger), dims)
	if err != nil {
		return nil
	}
	return sig
}

func (e *engine) BindToolRunner(r chat.ToolRunner) {
	e.tools = r
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx, e.assistantID)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}
