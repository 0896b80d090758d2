package types

import "time"

// Agent is a registered actor: a human, an AI with a provider model, or a
// system principal. Handle is the externally visible name.
type Agent struct {
	ID            AgentID    `json:"id"`
	Handle        string     `json:"handle"`
	Type          AgentType  `json:"type"`
	Model         string     `json:"model,omitempty"`
	IdentityName  string     `json:"identity_name,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	MergedInto    *AgentID   `json:"merged_into,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastSpawnedAt *time.Time `json:"last_spawned_at,omitempty"`
}

// Archived reports whether the agent has been archived (including merges).
func (a *Agent) Archived() bool { return a.ArchivedAt != nil }

// Project groups ledger artifacts. The sentinel project _global always
// exists.
type Project struct {
	ID         ProjectID   `json:"id"`
	Name       string      `json:"name"`
	Type       ProjectType `json:"type"`
	RepoPath   string      `json:"repo_path,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	ArchivedAt *time.Time  `json:"archived_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Spawn is one invocation of a vendor CLI as a child process, with a
// durable row and a trace file on disk.
type Spawn struct {
	ID            SpawnID     `json:"id"`
	AgentID       AgentID     `json:"agent_id"`
	CallerSpawnID *SpawnID    `json:"caller_spawn_id,omitempty"`
	Status        SpawnStatus `json:"status"`
	Mode          SpawnMode   `json:"mode"`
	PID           *int        `json:"pid,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	Summary       string      `json:"summary,omitempty"`
	Error         string      `json:"error,omitempty"`
	TraceHash     string      `json:"trace_hash,omitempty"`
	ResumeCount   int         `json:"resume_count"`
	CreatedAt     time.Time   `json:"created_at"`
	LastActiveAt  *time.Time  `json:"last_active_at,omitempty"`
	DeletedAt     *time.Time  `json:"deleted_at,omitempty"`
}

// Resumable reports whether the spawn can be relaunched against its vendor
// session: done, with a captured session id.
func (s *Spawn) Resumable() bool {
	return s.Status == SpawnDone && s.SessionID != ""
}

// Decision records a choice with its required rationale. Its status is
// derived from the three timestamps.
type Decision struct {
	ID          DecisionID `json:"id"`
	ProjectID   ProjectID  `json:"project_id"`
	AgentID     AgentID    `json:"agent_id"`
	SpawnID     *SpawnID   `json:"spawn_id,omitempty"`
	Content     string     `json:"content"`
	Rationale   string     `json:"rationale"`
	Reversible  *bool      `json:"reversible,omitempty"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
	ActionedAt  *time.Time `json:"actioned_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	Refs        string     `json:"refs,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Status derives the decision state machine position: proposed until
// committed, then actioned or rejected terminally.
func (d *Decision) Status() DecisionStatus {
	switch {
	case d.ActionedAt != nil:
		return DecisionActioned
	case d.RejectedAt != nil:
		return DecisionRejected
	case d.CommittedAt != nil:
		return DecisionCommitted
	default:
		return DecisionProposed
	}
}

// Insight is a short (≤280 chars) observation. Open insights are questions
// surfaced in inboxes until closed.
type Insight struct {
	ID             InsightID   `json:"id"`
	ProjectID      ProjectID   `json:"project_id"`
	AgentID        AgentID     `json:"agent_id"`
	SpawnID        *SpawnID    `json:"spawn_id,omitempty"`
	DecisionID     *DecisionID `json:"decision_id,omitempty"`
	Domain         string      `json:"domain"`
	Content        string      `json:"content"`
	Open           bool        `json:"open"`
	Mentions       []string    `json:"mentions,omitempty"`
	Provenance     Provenance  `json:"provenance"`
	Counterfactual *bool       `json:"counterfactual,omitempty"`
	ArchivedAt     *time.Time  `json:"archived_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MaxInsightLen is the hard cap on insight content length.
const MaxInsightLen = 280

// Task is a unit of assignable work.
type Task struct {
	ID         TaskID      `json:"id"`
	ProjectID  ProjectID   `json:"project_id"`
	CreatorID  AgentID     `json:"creator_id"`
	AssigneeID *AgentID    `json:"assignee_id,omitempty"`
	DecisionID *DecisionID `json:"decision_id,omitempty"`
	SpawnID    *SpawnID    `json:"spawn_id,omitempty"`
	Content    string      `json:"content"`
	Status     TaskStatus  `json:"status"`
	Result     string      `json:"result,omitempty"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Reply is threaded commentary on an insight, decision, or task.
type Reply struct {
	ID         ReplyID      `json:"id"`
	ParentType ArtifactType `json:"parent_type"`
	ParentID   string       `json:"parent_id"`
	AuthorID   AgentID      `json:"author_id"`
	SpawnID    *SpawnID     `json:"spawn_id,omitempty"`
	ProjectID  *ProjectID   `json:"project_id,omitempty"`
	Content    string       `json:"content"`
	Mentions   []string     `json:"mentions,omitempty"`
	DeletedAt  *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Citation is a derived edge from free text to an insight or decision,
// matched by the i/xxxxxxxx and d/xxxxxxxx forms.
type Citation struct {
	SourceType    ArtifactType `json:"source_type"`
	SourceID      string       `json:"source_id"`
	TargetType    ArtifactType `json:"target_type"`
	TargetShortID string       `json:"target_short_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// InboxItem is one entry of an agent's derived inbox.
type InboxItem struct {
	Kind       string       `json:"kind"` // mention, task, question
	Type       ArtifactType `json:"type"`
	ID         string       `json:"id"`
	Preview    string       `json:"preview"`
	FromHandle string       `json:"from,omitempty"`
	Project    string       `json:"project,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Ref renders the short-reference form (i/a1b2c3d4) of the item.
func (it *InboxItem) Ref() string {
	return ArtifactType(it.Type).RefPrefix() + "/" + ShortID(it.ID)
}

// SearchResult is one full-text hit across the searchable primitives.
// Score follows bm25: lower is better.
type SearchResult struct {
	Type    ArtifactType `json:"type"`
	ID      string       `json:"id"`
	Agent   string       `json:"agent,omitempty"`
	Project string       `json:"project,omitempty"`
	Snippet string       `json:"snippet"`
	Score   float64      `json:"score"`
}

// Usage aggregates token counts parsed from a trace.
type Usage struct {
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	CacheRead     int    `json:"cache_read"`
	CacheCreation int    `json:"cache_creation"`
	Model         string `json:"model,omitempty"`
}

// ProjectActivity pairs a project with its artifact count and the
// timestamp of its newest artifact, for spawn context and status views.
type ProjectActivity struct {
	Project      *Project   `json:"project"`
	Artifacts    int        `json:"artifacts"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Stats is the ledger snapshot the daemon periodically writes to the
// public stats file.
type Stats struct {
	Agents        int            `json:"agents"`
	Projects      int            `json:"projects"`
	Decisions     int            `json:"decisions"`
	Insights      int            `json:"insights"`
	Tasks         int            `json:"tasks"`
	Replies       int            `json:"replies"`
	Citations     int            `json:"citations"`
	OpenQuestions int            `json:"open_questions"`
	ActiveSpawns  int            `json:"active_spawns"`
	SpawnsToday   int            `json:"spawns_today"`
	Provenance    map[string]int `json:"provenance"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Filters. Nil pointer fields mean "do not filter".

type AgentFilter struct {
	Type            *AgentType
	IncludeArchived bool
}

type ProjectFilter struct {
	Type            *ProjectType
	IncludeArchived bool
}

type SpawnFilter struct {
	AgentID        *AgentID
	Status         *SpawnStatus
	Mode           *SpawnMode
	IncludeDeleted bool
	Limit          int
}

type DecisionFilter struct {
	ProjectID       *ProjectID
	AgentID         *AgentID
	Status          *DecisionStatus
	IncludeArchived bool
	IncludeDeleted  bool
	Limit           int
}

type InsightFilter struct {
	ProjectID       *ProjectID
	AgentID         *AgentID
	Domain          *string
	Open            *bool
	IncludeArchived bool
	IncludeDeleted  bool
	Limit           int
}

type TaskFilter struct {
	ProjectID      *ProjectID
	AssigneeID     *AgentID
	CreatorID      *AgentID
	Status         *TaskStatus
	IncludeDeleted bool
	Limit          int
}

type ReplyFilter struct {
	ParentType     *ArtifactType
	ParentID       *string
	AuthorID       *AgentID
	IncludeDeleted bool
	Limit          int
}
