package store

import "time"

// Doc represents a row in the docs table.
type Doc struct {
	ID          string
	AssistantID string
	Path        string
	Format      string
	ContentHash string
	Content     []byte // compressed DocContent, see parser/content
	ContentSig  []byte // serialized minhash signature, see signature package
	Title       string
	Preview     string // first ~100 chars of the canonical text
	Summary     string // set by the digestor's doc-level roll-up
	BlobPath    string
	Metadata    string
	DigestStart *time.Time
	DigestEnd   *time.Time
	DigestRetry int
	DigestError string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocPart represents a row in the doc_parts table.
type DocPart struct {
	ID          string
	DocID       string
	Position    int
	Heading     string
	Summary     string
	ContentHash string
	DigestStart *time.Time
	DigestEnd   *time.Time
	DigestRetry int
	DigestError string
}

// DocSeg represents a row in the doc_segs table, the retrievable unit.
type DocSeg struct {
	ID          string
	DocID       string
	PartID      string
	Position    int
	Content     string
	Kind        string // "text" | "sheet", gates digest prompt shape and implicit extraction
	TokenCount  int
	Summary     string
	ContentHash string
	DigestStart *time.Time
	DigestEnd   *time.Time
	DigestRetry int
	DigestError string
}

// DocFrag represents a row in the doc_frags table.
type DocFrag struct {
	ID          string
	DocID       string
	SegID       string
	Position    int
	Content     string
	ContentHash string
	DigestStart *time.Time
	DigestEnd   *time.Time
	DigestRetry int
	DigestError string
}

// DocImplicit represents a distilled implicit-knowledge statement.
type DocImplicit struct {
	ID         string
	DocID      string
	SourceKind string // "seg" | "part" | "doc"
	SourceID   string
	Content    string
}

// DocRef is a tagged pointer into the content hierarchy, used by DocKnl.
type DocRef struct {
	Kind string // "implicit" | "frag" | "seg" | "part" | "doc"
	ID   string
}

// DocKnl represents a question a piece of content could answer.
type DocKnl struct {
	ID       string
	DocID    string
	DocRef   DocRef
	Question string
}

// Skill represents a callable tool registered for retrieval-driven dispatch.
type Skill struct {
	ID             string
	ToolsetID      string
	ToolID         string
	Name           string
	Description    string
	TriggerPhrases []string // JSON-encoded on write
}

// HistoryChatTurn represents a row in the history_chat table.
type HistoryChatTurn struct {
	ID          string
	AssistantID string
	ExchangeID  string
	Session     string
	Role        string
	Content     string
	Sources     string // JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatLogEntry is an ambient audit record for a completed chat exchange.
type ChatLogEntry struct {
	AssistantID      string
	Query            string
	Answer           string
	RetrievalMethod  string
	ModelUsed        string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// RetrievalResult holds a retrieved row with its score and
// provenance; Table names the knowledge table it came from. Signature
// is the row's stored minhash sketch, so callers can recompute the
// Jaccard similarity against a query signature.
type RetrievalResult struct {
	Table     string    `json:"table"`
	ID        string    `json:"id"`
	DocID     string    `json:"doc_id"`
	Content   string    `json:"content"`
	Context   string    `json:"context"` // e.g. heading, or the skill name for a skill
	Score     float64   `json:"score"`
	Signature []float32 `json:"-"`
	DocRef    DocRef    `json:"doc_ref,omitempty"`
}

// Stats is a diagnostic snapshot of row counts per table.
type Stats struct {
	Docs         int64
	Parts        int64
	Segs         int64
	Frags        int64
	Implicits    int64
	Knls         int64
	Skills       int64
	HistoryChats int64
}
