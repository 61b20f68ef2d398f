package store

// The schema ships with the binary. migrations is applied in order; the
// schema_migrations table records the current version. A database written by
// a newer binary (version greater than len(migrations)) aborts startup.
var migrations = []string{
	// v1: core hive schema.
	`
CREATE TABLE IF NOT EXISTS tasks (
	task_id        TEXT PRIMARY KEY,
	title          TEXT NOT NULL CHECK (length(title) > 0),
	description    TEXT NOT NULL CHECK (length(description) > 0),
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'in_progress', 'completed', 'failed', 'cancelled')),
	priority       TEXT NOT NULL DEFAULT 'medium'
		CHECK (priority IN ('low', 'medium', 'high', 'critical')),
	assigned_to    TEXT,
	created_by     TEXT NOT NULL,
	parent_task_id TEXT REFERENCES tasks(task_id),
	metadata       TEXT NOT NULL DEFAULT '{}',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP,
	completed_at   TIMESTAMP,
	CHECK (status != 'in_progress' OR started_at IS NOT NULL),
	CHECK (status NOT IN ('completed', 'failed', 'cancelled') OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id            TEXT NOT NULL REFERENCES tasks(task_id),
	depends_on_task_id TEXT NOT NULL REFERENCES tasks(task_id),
	dep_type           TEXT NOT NULL DEFAULT 'blocks'
		CHECK (dep_type IN ('blocks', 'related', 'subtask')),
	created_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (task_id, depends_on_task_id),
	CHECK (task_id != depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS task_assignments (
	assignment_id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL REFERENCES tasks(task_id),
	assignee      TEXT NOT NULL,
	assigner      TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'primary'
		CHECK (role IN ('primary', 'reviewer', 'collaborator')),
	status        TEXT NOT NULL DEFAULT 'active'
		CHECK (status IN ('active', 'reassigned', 'completed')),
	assigned_at   TIMESTAMP NOT NULL,
	accepted_at   TIMESTAMP,
	completed_at  TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assignments_task ON task_assignments(task_id);

CREATE TABLE IF NOT EXISTS bee_messages (
	message_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	from_bee        TEXT NOT NULL,
	to_bee          TEXT NOT NULL,
	message_type    TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL CHECK (length(content) > 0),
	task_id         TEXT REFERENCES tasks(task_id),
	priority        TEXT NOT NULL DEFAULT 'normal'
		CHECK (priority IN ('low', 'normal', 'high', 'urgent')),
	processed       INTEGER NOT NULL DEFAULT 0,
	processed_at    TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	expires_at      TIMESTAMP,
	reply_to        INTEGER REFERENCES bee_messages(message_id),
	sender_cli_used INTEGER NOT NULL DEFAULT 0,
	conversation_id TEXT,
	CHECK (processed = 0 OR processed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_messages_to_bee ON bee_messages(to_bee, processed);
CREATE INDEX IF NOT EXISTS idx_messages_created ON bee_messages(created_at);

CREATE TABLE IF NOT EXISTS bee_states (
	bee_name          TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'idle'
		CHECK (status IN ('idle', 'busy', 'waiting', 'offline', 'error')),
	current_task_id   TEXT REFERENCES tasks(task_id),
	last_activity     TIMESTAMP NOT NULL,
	last_heartbeat    TIMESTAMP NOT NULL,
	workload_score    INTEGER NOT NULL DEFAULT 0 CHECK (workload_score BETWEEN 0 AND 100),
	performance_score INTEGER NOT NULL DEFAULT 100 CHECK (performance_score BETWEEN 0 AND 100),
	capabilities      TEXT NOT NULL DEFAULT '[]',
	updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS task_activity (
	activity_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL REFERENCES tasks(task_id),
	bee_name      TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	description   TEXT NOT NULL,
	old_value     TEXT,
	new_value     TEXT,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_task ON task_activity(task_id);

CREATE TABLE IF NOT EXISTS injection_log (
	injection_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session      TEXT NOT NULL,
	pane         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	dry_run      INTEGER NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
`,
	// v2: read-only query views.
	`
CREATE VIEW IF NOT EXISTS active_tasks AS
SELECT t.*,
	(SELECT COUNT(*) FROM task_dependencies d WHERE d.task_id = t.task_id) AS dependency_count,
	(SELECT COUNT(*) FROM tasks c WHERE c.parent_task_id = t.task_id) AS child_count
FROM tasks t
WHERE t.status IN ('pending', 'in_progress');

CREATE VIEW IF NOT EXISTS pending_messages AS
SELECT m.*
FROM bee_messages m
WHERE m.processed = 0
	AND (m.expires_at IS NULL OR m.expires_at > CURRENT_TIMESTAMP)
ORDER BY
	CASE m.priority
		WHEN 'urgent' THEN 3
		WHEN 'high' THEN 2
		WHEN 'normal' THEN 1
		ELSE 0
	END DESC,
	m.created_at ASC;

CREATE VIEW IF NOT EXISTS agent_workload AS
SELECT s.bee_name,
	s.status,
	(SELECT COUNT(*) FROM tasks t
		WHERE t.assigned_to = s.bee_name AND t.status IN ('pending', 'in_progress')) AS active_tasks,
	(SELECT COUNT(*) FROM task_assignments a
		WHERE a.assignee = s.bee_name AND a.status = 'active') AS active_assignments,
	(SELECT COUNT(*) FROM bee_messages m
		WHERE m.to_bee = s.bee_name AND m.processed = 0) AS unread_messages
FROM bee_states s;
`,
}
