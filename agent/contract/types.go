package contract

import (
	"time"
)

// ToolKind distinguishes where a tool's implementation lives.
type ToolKind string

const (
	ToolKindLocal   ToolKind = "local"
	ToolKindGateway ToolKind = "gateway"
)

type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// ToolCall is one requested tool invocation inside a turn.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	TurnID string         `json:"turn_id,omitempty"`
}

// ToolResult is the terminal outcome of exactly one ToolCall. A failed
// handler yields Status=error with Detail set; it never aborts the turn.
type ToolResult struct {
	Tool        string      `json:"tool"`
	Status      ToolStatus  `json:"status"`
	Payload     any         `json:"payload,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	MemoryPatch MemoryPatch `json:"memory_patch,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// MemoryPatch carries customer-memory field updates produced by a tool.
// Conflicting keys across results merge last-write-by-CompletedAt.
type MemoryPatch map[string]string

// Namespace classifies extracted memory content.
type Namespace string

const (
	NamespaceSummary    Namespace = "summary"
	NamespacePreference Namespace = "preference"
	NamespaceSemantic   Namespace = "semantic"
)

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceSummary, NamespacePreference, NamespaceSemantic:
		return true
	}
	return false
}

// MemoryEvent is one append-only entry in the raw conversation log.
// Namespace assignment happens during extraction, not at write time.
type MemoryEvent struct {
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemoryRecord is one row of a derived, eventually consistent namespace view.
type MemoryRecord struct {
	Namespace Namespace `json:"namespace"`
	Content   string    `json:"content"`
	Relevance float64   `json:"relevance"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryContext is the best-effort personalization context fetched before
// planning. Empty slices mean "nothing extracted yet", never an error.
type MemoryContext struct {
	Summary     []MemoryRecord `json:"summary,omitempty"`
	Preferences []MemoryRecord `json:"preferences,omitempty"`
	Facts       []MemoryRecord `json:"facts,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// Snippet is one grounding result from the knowledge retrieval service.
type Snippet struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance_score"`
}

// RetrievalResult degrades to Degraded=true with no snippets when the
// backend is unreachable; retrieval never fails a turn.
type RetrievalResult struct {
	Snippets []Snippet `json:"snippets"`
	Degraded bool      `json:"degraded"`
}

// PlanRequest is what the inference collaborator sees before tool execution.
type PlanRequest struct {
	CustomerID string        `json:"customer_id"`
	Utterance  string        `json:"utterance"`
	Memory     MemoryContext `json:"memory"`
	History    []TurnRecord  `json:"history,omitempty"`
	Now        time.Time     `json:"now"`
}

// PlanResponse is either a set of desired tool calls or a direct answer.
type PlanResponse struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	FinalText string     `json:"final_text,omitempty"`
}

// RespondRequest asks the inference collaborator to synthesize the final
// reply from the merged turn context.
type RespondRequest struct {
	CustomerID  string        `json:"customer_id"`
	Utterance   string        `json:"utterance"`
	Memory      MemoryContext `json:"memory"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Snippets    []Snippet     `json:"snippets,omitempty"`
	Degraded    []string      `json:"degraded,omitempty"`
}

// TurnRecord is one completed request/response cycle kept on the session.
type TurnRecord struct {
	TurnID    string    `json:"turn_id"`
	Utterance string    `json:"utterance"`
	Reply     string    `json:"reply"`
	At        time.Time `json:"at"`
}
