// Package space provides a minimal public API for building Go
// extensions on the ledger.
//
// Most extensions should shell out to the space CLI (every command
// takes --json) or query the SQLite database directly. This package
// exports only what a Go program needs to open the ledger
// programmatically and work with its rows.
package space

import (
	"context"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

// Store is the SQLite-backed ledger. All methods are safe for
// concurrent use.
type Store = sqlite.Store

// Open opens the ledger database at path, creating and migrating it
// when needed.
func Open(ctx context.Context, path string) (*Store, error) {
	return sqlite.New(ctx, path)
}

// DefaultRoot returns the state root, ~/.space unless SPACE_DOT_SPACE
// overrides it.
func DefaultRoot() (string, error) {
	return config.DefaultRoot()
}

// Paths derives the well-known file locations under a state root.
type Paths = config.Paths

// Ledger rows from internal/types.
type (
	Agent    = types.Agent
	Project  = types.Project
	Decision = types.Decision
	Insight  = types.Insight
	Task     = types.Task
	Reply    = types.Reply
	Spawn    = types.Spawn
	Citation = types.Citation

	AgentID    = types.AgentID
	ProjectID  = types.ProjectID
	DecisionID = types.DecisionID
	InsightID  = types.InsightID
	TaskID     = types.TaskID
	ReplyID    = types.ReplyID
	SpawnID    = types.SpawnID

	AgentFilter    = types.AgentFilter
	DecisionFilter = types.DecisionFilter
	InsightFilter  = types.InsightFilter
	TaskFilter     = types.TaskFilter
	SpawnFilter    = types.SpawnFilter

	CreateDecisionArgs = sqlite.CreateDecisionArgs
	CreateInsightArgs  = sqlite.CreateInsightArgs
	CreateTaskArgs     = sqlite.CreateTaskArgs
	CreateReplyArgs    = sqlite.CreateReplyArgs

	Ref          = types.Ref
	SearchResult = types.SearchResult
	InboxItem    = types.InboxItem
	Stats        = types.Stats
)

// Agent type constants
const (
	AgentHuman  = types.AgentHuman
	AgentAI     = types.AgentAI
	AgentSystem = types.AgentSystem
)

// Project type constants
const (
	ProjectStandard = types.ProjectStandard
	ProjectProto    = types.ProjectProto
	ProjectCustomer = types.ProjectCustomer
)

// Task status constants
const (
	TaskPending   = types.TaskPending
	TaskActive    = types.TaskActive
	TaskDone      = types.TaskDone
	TaskCancelled = types.TaskCancelled
)

// Decision status constants (derived from timestamps, never stored)
const (
	DecisionProposed  = types.DecisionProposed
	DecisionCommitted = types.DecisionCommitted
	DecisionActioned  = types.DecisionActioned
	DecisionRejected  = types.DecisionRejected
)

// Spawn lifecycle constants
const (
	SpawnActive   = types.SpawnActive
	SpawnDone     = types.SpawnDone
	ModeSovereign = types.ModeSovereign
	ModeDirected  = types.ModeDirected
)

// Provider names, matching the vendor CLI binaries
const (
	ProviderClaude = types.ProviderClaude
	ProviderCodex  = types.ProviderCodex
	ProviderGemini = types.ProviderGemini
)

// GlobalProject is the sentinel project that always exists.
const GlobalProject = types.GlobalProject

// MaxInsightLen is the hard cap on insight content length.
const MaxInsightLen = types.MaxInsightLen

// ParseRef parses a short reference like i/a1b2c3d4 into its type and
// hex fragment.
func ParseRef(s string) (Ref, error) {
	return types.ParseRef(s)
}

// ShortID returns the 8-char display form of a full 32-hex id.
func ShortID(id string) string {
	return types.ShortID(id)
}

// Error kinds, for dispatching on ledger errors without parsing
// messages.
type Kind = types.Kind

const (
	KindNotFound   = types.KindNotFound
	KindConflict   = types.KindConflict
	KindValidation = types.KindValidation
	KindState      = types.KindState
	KindPermission = types.KindPermission
	KindAmbiguous  = types.KindAmbiguous
)

// KindOf extracts the taxonomy kind from any error in the chain.
func KindOf(err error) Kind {
	return types.KindOf(err)
}
