// Package trace handles the append-only JSONL files vendor CLIs write
// while a spawn runs: locating them under the state root, appending
// canonical events, tailing raw lines as they arrive, and sealing a
// finished trace with a hash chain.
package trace

import (
	"time"
)

// Canonical event types. Provider adapters normalize raw vendor output
// into these; the spawn engine and daemon write them directly.
const (
	EventText        = "text"
	EventToolCall    = "tool_call"
	EventToolResult  = "tool_result"
	EventUsage       = "usage"
	EventContextInit = "context_init"
	EventStateChange = "state_change"
	EventDaemon      = "daemon"
)

// Context cases for the boundary event the spawn engine prepends before
// any vendor output.
const (
	ContextWake   = "WAKE"
	ContextResume = "RESUME"
)

// Event is one canonical trace entry. Only the fields relevant to the
// event type are set.
type Event struct {
	Type        string         `json:"type"`
	Agent       string         `json:"agent,omitempty"`
	Text        string         `json:"text,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	IsError     bool           `json:"is_error,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
	ContextCase string         `json:"context_case,omitempty"`
	Note        string         `json:"note,omitempty"`
	Timestamp   time.Time      `json:"ts"`
}

// Usage is the token accounting attached to usage events and summed for
// the spawn row.
type Usage struct {
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	CacheRead     int64  `json:"cache_read"`
	CacheCreation int64  `json:"cache_creation"`
	Model         string `json:"model,omitempty"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheRead += other.CacheRead
	u.CacheCreation += other.CacheCreation
	if other.Model != "" {
		u.Model = other.Model
	}
}

// ContextInit builds the boundary event marking the start of a wake or
// resume context.
func ContextInit(agent, contextCase string) Event {
	return Event{
		Type:        EventContextInit,
		Agent:       agent,
		ContextCase: contextCase,
		Timestamp:   time.Now().UTC(),
	}
}

// DaemonNote builds a synthetic lifecycle note, e.g. "starting" or
// "resuming".
func DaemonNote(agent, note string) Event {
	return Event{
		Type:      EventDaemon,
		Agent:     agent,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
}
