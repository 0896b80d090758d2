package sqlite

// schema is the baseline DDL. Every statement is idempotent; evolution
// beyond the baseline happens in migrations.go. Invariants that can be
// expressed in SQL live here as CHECK constraints and partial unique
// indexes so no read-then-write path can violate them.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL CHECK (type IN ('human','ai','system')),
    model TEXT,
    identity_name TEXT,
    archived_at DATETIME,
    merged_into TEXT REFERENCES agents(id),
    created_at DATETIME NOT NULL,
    last_spawned_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_short ON agents (substr(id, 1, 8));

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'standard' CHECK (type IN ('standard','proto','customer')),
    repo_path TEXT,
    tags TEXT NOT NULL DEFAULT '[]',
    archived_at DATETIME,
    created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_short ON projects (substr(id, 1, 8));
CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_repo_path ON projects (repo_path)
    WHERE repo_path IS NOT NULL;

CREATE TABLE IF NOT EXISTS spawns (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    caller_spawn_id TEXT REFERENCES spawns(id),
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','done')),
    mode TEXT NOT NULL DEFAULT 'sovereign' CHECK (mode IN ('sovereign','directed')),
    pid INTEGER,
    session_id TEXT,
    summary TEXT,
    error TEXT,
    trace_hash TEXT,
    resume_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_active_at DATETIME,
    deleted_at DATETIME,
    CHECK (status <> 'done' OR summary IS NOT NULL OR error IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_spawns_short ON spawns (substr(id, 1, 8));
CREATE UNIQUE INDEX IF NOT EXISTS idx_spawns_active_sovereign ON spawns (agent_id)
    WHERE status = 'active' AND mode = 'sovereign' AND deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_spawns_agent_created ON spawns (agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_spawns_status ON spawns (status) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    spawn_id TEXT REFERENCES spawns(id),
    content TEXT NOT NULL CHECK (content <> ''),
    rationale TEXT NOT NULL CHECK (rationale <> ''),
    reversible INTEGER,
    committed_at DATETIME,
    actioned_at DATETIME,
    rejected_at DATETIME,
    outcome TEXT,
    refs TEXT,
    archived_at DATETIME,
    deleted_at DATETIME,
    created_at DATETIME NOT NULL,
    CHECK (NOT (actioned_at IS NOT NULL AND rejected_at IS NOT NULL)),
    CHECK (actioned_at IS NULL OR committed_at IS NOT NULL),
    CHECK (rejected_at IS NULL OR committed_at IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_short ON decisions (substr(id, 1, 8));
CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_dup ON decisions (project_id, content)
    WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_decisions_project ON decisions (project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions (agent_id, created_at);

CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    spawn_id TEXT REFERENCES spawns(id),
    decision_id TEXT REFERENCES decisions(id),
    domain TEXT NOT NULL DEFAULT 'general',
    content TEXT NOT NULL CHECK (content <> '' AND length(content) <= 280),
    open INTEGER NOT NULL DEFAULT 0,
    mentions TEXT NOT NULL DEFAULT '[]',
    provenance TEXT NOT NULL DEFAULT 'solo' CHECK (provenance IN ('solo','collaborative','synthesis')),
    counterfactual INTEGER,
    archived_at DATETIME,
    deleted_at DATETIME,
    created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_insights_short ON insights (substr(id, 1, 8));
CREATE INDEX IF NOT EXISTS idx_insights_project ON insights (project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_insights_agent ON insights (agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_insights_open ON insights (domain) WHERE open = 1 AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    creator_id TEXT NOT NULL REFERENCES agents(id),
    assignee_id TEXT REFERENCES agents(id),
    decision_id TEXT REFERENCES decisions(id),
    spawn_id TEXT REFERENCES spawns(id),
    content TEXT NOT NULL CHECK (content <> ''),
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','active','done','cancelled')),
    result TEXT,
    deleted_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_short ON tasks (substr(id, 1, 8));
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks (assignee_id, status) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id, created_at);

CREATE TABLE IF NOT EXISTS replies (
    id TEXT PRIMARY KEY,
    parent_type TEXT NOT NULL CHECK (parent_type IN ('insight','decision','task')),
    parent_id TEXT NOT NULL,
    author_id TEXT NOT NULL REFERENCES agents(id),
    spawn_id TEXT REFERENCES spawns(id),
    project_id TEXT REFERENCES projects(id),
    content TEXT NOT NULL CHECK (content <> ''),
    mentions TEXT NOT NULL DEFAULT '[]',
    deleted_at DATETIME,
    created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_replies_short ON replies (substr(id, 1, 8));
CREATE INDEX IF NOT EXISTS idx_replies_parent ON replies (parent_type, parent_id, created_at);

CREATE TABLE IF NOT EXISTS citations (
    source_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_type TEXT NOT NULL CHECK (target_type IN ('insight','decision')),
    target_short_id TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (source_type, source_id, target_type, target_short_id)
);
CREATE INDEX IF NOT EXISTS idx_citations_target ON citations (target_type, target_short_id);

CREATE TABLE IF NOT EXISTS artifact_reads (
    agent_id TEXT NOT NULL REFERENCES agents(id),
    artifact_type TEXT NOT NULL,
    artifact_id TEXT NOT NULL,
    read_at DATETIME NOT NULL,
    PRIMARY KEY (agent_id, artifact_type, artifact_id)
);

CREATE TABLE IF NOT EXISTS artifact_resolutions (
    artifact_type TEXT NOT NULL,
    artifact_id TEXT NOT NULL,
    resolved_at DATETIME NOT NULL,
    PRIMARY KEY (artifact_type, artifact_id)
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(
    content, rationale,
    content='decisions', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS decisions_fts_ai AFTER INSERT ON decisions BEGIN
    INSERT INTO decisions_fts(rowid, content, rationale)
    VALUES (new.rowid, new.content, new.rationale);
END;
CREATE TRIGGER IF NOT EXISTS decisions_fts_ad AFTER DELETE ON decisions BEGIN
    INSERT INTO decisions_fts(decisions_fts, rowid, content, rationale)
    VALUES ('delete', old.rowid, old.content, old.rationale);
END;
CREATE TRIGGER IF NOT EXISTS decisions_fts_au AFTER UPDATE OF content, rationale ON decisions BEGIN
    INSERT INTO decisions_fts(decisions_fts, rowid, content, rationale)
    VALUES ('delete', old.rowid, old.content, old.rationale);
    INSERT INTO decisions_fts(rowid, content, rationale)
    VALUES (new.rowid, new.content, new.rationale);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS insights_fts USING fts5(
    content,
    content='insights', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS insights_fts_ai AFTER INSERT ON insights BEGIN
    INSERT INTO insights_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS insights_fts_ad AFTER DELETE ON insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS insights_fts_au AFTER UPDATE OF content ON insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO insights_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
    content,
    content='tasks', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS tasks_fts_ai AFTER INSERT ON tasks BEGIN
    INSERT INTO tasks_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS tasks_fts_ad AFTER DELETE ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS tasks_fts_au AFTER UPDATE OF content ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO tasks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS replies_fts USING fts5(
    content,
    content='replies', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS replies_fts_ai AFTER INSERT ON replies BEGIN
    INSERT INTO replies_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS replies_fts_ad AFTER DELETE ON replies BEGIN
    INSERT INTO replies_fts(replies_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS replies_fts_au AFTER UPDATE OF content ON replies BEGIN
    INSERT INTO replies_fts(replies_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO replies_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`
