// Package provider adapts the vendor CLIs (claude, codex, gemini) to one
// interface: building launch argv, normalizing raw trace lines into
// canonical events, capturing session ids, and accounting token usage.
package provider

import (
	"encoding/json"

	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
)

// Abstract tool capabilities adapters translate to vendor tool names.
const (
	CapShell  = "shell"
	CapRead   = "read"
	CapWrite  = "write"
	CapEdit   = "edit"
	CapLS     = "ls"
	CapGlob   = "glob"
	CapGrep   = "grep"
	CapFetch  = "fetch"
	CapSearch = "search"
)

// DefaultCapabilities is the working set granted to spawns when the caller
// does not restrict tools.
func DefaultCapabilities() []string {
	return []string{CapShell, CapRead, CapWrite, CapEdit, CapLS, CapGlob, CapGrep, CapFetch, CapSearch}
}

// ToolMap tracks tool_use_id → tool_name across one trace so tool results
// can be attributed to the call that produced them. One map lives per
// monitored spawn.
type ToolMap map[string]string

// CommandRequest carries everything an adapter needs to build a launch.
type CommandRequest struct {
	Model   string
	Context string
	Dir     string

	// SessionID resumes an existing vendor session when non-empty.
	SessionID string

	// AssignSessionID pre-assigns the session id on a fresh launch, for
	// vendors that accept one. The authoritative value is still captured
	// from the trace.
	AssignSessionID string

	// AllowedTools lists abstract capabilities; nil grants the default set.
	AllowedTools []string

	// Images are file paths attached to the opening message, for vendors
	// that accept them.
	Images []string
}

// Command is a ready-to-exec vendor CLI invocation.
type Command struct {
	Argv []string

	// Stdin is fed to the process when non-nil; the engine materializes it
	// to a file first.
	Stdin []byte
}

// Adapter is implemented once per vendor.
type Adapter interface {
	Name() string

	// BuildCommand translates a request into argv and optional stdin.
	BuildCommand(req CommandRequest) (Command, error)

	// NormalizeEvent turns one raw trace line into zero or more canonical
	// events, updating tools as tool calls appear. Undecodable lines yield
	// nothing.
	NormalizeEvent(raw []byte, agent string, tools ToolMap) []trace.Event

	// SessionCapture extracts the vendor session id from a raw line.
	SessionCapture(raw []byte) (string, bool)

	// ParseUsage sums token accounting over a completed trace file.
	ParseUsage(tracePath string) (trace.Usage, error)

	// InputTokensFromEvent reports the context size a raw line implies, or
	// zero when the line carries no usage.
	InputTokensFromEvent(raw []byte) int64
}

// Registry resolves adapters by provider name or by model.
type Registry struct {
	adapters map[string]Adapter
	catalog  Catalog
}

// NewRegistry builds the registry with every vendor adapter and the
// embedded model catalog.
func NewRegistry() (*Registry, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		adapters: map[string]Adapter{},
		catalog:  catalog,
	}
	for _, a := range []Adapter{newClaude(), newCodex(), newGemini()} {
		r.adapters[a.Name()] = a
	}
	return r, nil
}

// ForName returns the adapter for a provider name.
func (r *Registry) ForName(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, types.NotFoundf("unknown provider %q", name)
	}
	return a, nil
}

// ForModel resolves a model name through the catalog to its adapter.
func (r *Registry) ForModel(model string) (Adapter, error) {
	name, err := r.catalog.ProviderFor(model)
	if err != nil {
		return nil, err
	}
	return r.ForName(name)
}

// ProviderFor reports which provider serves model.
func (r *Registry) ProviderFor(model string) (string, error) {
	return r.catalog.ProviderFor(model)
}

func canonicalType(t string) bool {
	switch t {
	case trace.EventText, trace.EventToolCall, trace.EventToolResult, trace.EventUsage,
		trace.EventContextInit, trace.EventStateChange, trace.EventDaemon:
		return true
	}
	return false
}

// passthrough recognizes lines that are already canonical events: the
// context_init boundary and daemon notes the engine writes into the same
// file the vendor appends to.
func passthrough(raw []byte) (trace.Event, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || !canonicalType(probe.Type) {
		return trace.Event{}, false
	}
	var ev trace.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return trace.Event{}, false
	}
	return ev, true
}

func translateTools(table map[string]string, caps []string) []string {
	var out []string
	for _, c := range caps {
		if name, ok := table[c]; ok {
			out = append(out, name)
		}
	}
	return out
}
