// Package chat implements the retrieval-augmented chat orchestrator:
// question decomposition, hybrid retrieval, skill dispatch, streaming
// LLM answer generation, and history persistence.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/brunobiangulo/aiter/llm"
	"github.com/brunobiangulo/aiter/retrieval"
	"github.com/brunobiangulo/aiter/store"
)

// ChannelBufferDefault is the bounded chat-event channel capacity.
const ChannelBufferDefault = 64

// Default and deterministic LLM temperatures.
const (
	TemperatureDefault = 0.6
	TemperatureStable  = 0.0
)

// ChatHistoryLimit bounds Options.Retrace.
const ChatHistoryLimit = 100

// Roles stored on history_chat rows.
const (
	RoleUser   = "user"
	RoleBot    = "bot"
	RoleSystem = "system"
	RoleFunc   = "func"
	RoleTool   = "tool"
)

// ToolRunner is the external tool-execution collaborator.
// Implementations dispatch to AHP/MCP-bound tools; this package only
// calls it through the interface, never implements it.
type ToolRunner interface {
	Run(ctx context.Context, toolID string, args map[string]string) (string, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store       *store.Store
	Retrieval   *retrieval.Engine
	ChatLLM     llm.Provider
	ReasonLLM   llm.Provider // used instead of ChatLLM when Options.Deep is set and configured
	Tools       ToolRunner   // may be nil; skill dispatch is skipped if so
	AssistantID string
}

// Options configures one Chat call.
type Options struct {
	Deep     bool
	Exchange string // if empty, a fresh ULID is generated
	Session  string
	Retrace  int // [0, ChatHistoryLimit]
	Strict   bool
	// LLMOptions carries opaque provider tuning strings, not
	// interpreted by the orchestrator itself.
	LLMOptions []string
}

func (o *Options) normalize() {
	if o.Retrace < 0 {
		o.Retrace = 0
	}
	if o.Retrace > ChatHistoryLimit {
		o.Retrace = ChatHistoryLimit
	}
	if o.Exchange == "" {
		o.Exchange = NewULID()
	}
}

// NewULID mints a fresh ULID string, used for exchange IDs and
// CallToolTask IDs alike.
func NewULID() string {
	return ulid.Make().String()
}

// EventKind enumerates the ChatEvent vocabulary.
type EventKind string

const (
	EventStreamStart      EventKind = "stream_start"
	EventReasoningStart   EventKind = "reasoning_start"
	EventReasoningContent EventKind = "reasoning_content"
	EventReasoningEnd     EventKind = "reasoning_end"
	EventStreamContent    EventKind = "stream_content"
	EventStreamEnd        EventKind = "stream_end"
	EventCallToolStart    EventKind = "call_tool_start"
	EventCallToolEnd      EventKind = "call_tool_end"
	EventCallToolError    EventKind = "call_tool_error"
)

// CallToolTask describes one in-flight tool invocation dispatched from
// a skill match.
type CallToolTask struct {
	ID     string
	ToolID string
	Name   string
	Args   map[string]string
}

// ChatEvent is one value on the stream Chat returns.
type ChatEvent struct {
	Kind  EventKind
	Delta string // for ReasoningContent / StreamContent

	Task   *CallToolTask // for CallToolStart
	TaskID string        // for CallToolEnd / CallToolError
	Result string        // for CallToolEnd
	Err    error         // for CallToolError

	// Err also carries a terminal pipeline error when Kind ==
	// EventStreamEnd and the exchange failed outright; a nil Err on
	// StreamEnd means success, including the interrupted case.
}

// finalRecord is the JSON blob persisted on the bot placeholder row
// at StreamEnd; unmarshalling it reproduces content and reasoning
// exactly as streamed.
type finalRecord struct {
	Content   string         `json:"content"`
	Reasoning string         `json:"reasoning,omitempty"`
	CallTools []CallToolTask `json:"call_tools,omitempty"`
}

// sanitizeQuery trims a user or LLM-derived query string before it is
// used as a retrieval sub-query or logged.
func sanitizeQuery(q string) string {
	return strings.TrimSpace(q)
}

var errEmptyQuestion = fmt.Errorf("chat: question must not be empty")
