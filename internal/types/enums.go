package types

// AgentType classifies who (or what) an agent is.
type AgentType string

const (
	AgentHuman  AgentType = "human"
	AgentAI     AgentType = "ai"
	AgentSystem AgentType = "system"
)

// ParseAgentType validates the SQL-serialized form.
func ParseAgentType(s string) (AgentType, error) {
	switch t := AgentType(s); t {
	case AgentHuman, AgentAI, AgentSystem:
		return t, nil
	}
	return "", Validationf("invalid agent type %q (want human, ai, or system)", s)
}

// ProjectType classifies a project.
type ProjectType string

const (
	ProjectStandard ProjectType = "standard"
	ProjectProto    ProjectType = "proto"
	ProjectCustomer ProjectType = "customer"
)

func ParseProjectType(s string) (ProjectType, error) {
	switch t := ProjectType(s); t {
	case ProjectStandard, ProjectProto, ProjectCustomer:
		return t, nil
	}
	return "", Validationf("invalid project type %q (want standard, proto, or customer)", s)
}

// SpawnStatus is the lifecycle state of a spawn row.
type SpawnStatus string

const (
	SpawnActive SpawnStatus = "active"
	SpawnDone   SpawnStatus = "done"
)

// SpawnMode distinguishes daemon-scheduled spawns from human-initiated ones.
type SpawnMode string

const (
	ModeSovereign SpawnMode = "sovereign"
	ModeDirected  SpawnMode = "directed"
)

// TaskStatus with its transition table. pending and active flip freely;
// done and cancelled are terminal.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch t := TaskStatus(s); t {
	case TaskPending, TaskActive, TaskDone, TaskCancelled:
		return t, nil
	}
	return "", Validationf("invalid task status %q", s)
}

// CanTransition reports whether a task may move from its current status to
// next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskActive || next == TaskDone || next == TaskCancelled
	case TaskActive:
		return next == TaskPending || next == TaskDone || next == TaskCancelled
	default:
		return false
	}
}

// DecisionStatus is derived from a decision's timestamp columns, never
// stored.
type DecisionStatus string

const (
	DecisionProposed  DecisionStatus = "proposed"
	DecisionCommitted DecisionStatus = "committed"
	DecisionActioned  DecisionStatus = "actioned"
	DecisionRejected  DecisionStatus = "rejected"
)

// Provenance classifies an insight's intellectual origin from its
// cross-agent citations at creation time.
type Provenance string

const (
	ProvenanceSolo          Provenance = "solo"
	ProvenanceCollaborative Provenance = "collaborative"
	ProvenanceSynthesis     Provenance = "synthesis"
)

// ArtifactType names a citable or readable ledger primitive.
type ArtifactType string

const (
	ArtifactInsight  ArtifactType = "insight"
	ArtifactDecision ArtifactType = "decision"
	ArtifactTask     ArtifactType = "task"
	ArtifactReply    ArtifactType = "reply"
	ArtifactSpawn    ArtifactType = "spawn"
)

// ParseParentType validates reply parents, which exclude replies and spawns.
func ParseParentType(s string) (ArtifactType, error) {
	switch t := ArtifactType(s); t {
	case ArtifactInsight, ArtifactDecision, ArtifactTask:
		return t, nil
	}
	return "", Validationf("invalid reply parent type %q (want insight, decision, or task)", s)
}

// Table returns the SQL table an artifact type lives in.
func (t ArtifactType) Table() string {
	switch t {
	case ArtifactInsight:
		return "insights"
	case ArtifactDecision:
		return "decisions"
	case ArtifactTask:
		return "tasks"
	case ArtifactSpawn:
		return "spawns"
	case ArtifactReply:
		return "replies"
	}
	return ""
}

// RefPrefix returns the one-letter short-reference prefix (i/, d/, t/, s/,
// r/) for the artifact type.
func (t ArtifactType) RefPrefix() string {
	switch t {
	case ArtifactInsight:
		return "i"
	case ArtifactDecision:
		return "d"
	case ArtifactTask:
		return "t"
	case ArtifactSpawn:
		return "s"
	case ArtifactReply:
		return "r"
	}
	return "?"
}

// Well-known insight domains the daemon treats specially.
const (
	DomainRoutine = "routine"
	DomainStatus  = "status"
	DomainStream  = "stream"
)

// Provider names. These match the vendor CLI binaries.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderGemini = "gemini"
)

// Providers lists every supported provider, in lookup order.
func Providers() []string {
	return []string{ProviderClaude, ProviderCodex, ProviderGemini}
}

// GlobalProject is the sentinel project that always exists.
const GlobalProject = "_global"

// HumanMention is the handle wildcard that expands to every human agent.
const HumanMention = "human"
