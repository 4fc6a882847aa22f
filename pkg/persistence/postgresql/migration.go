package postgresql

// migrations returns the schema migrations keyed by version. Never edit an
// applied migration; add a new version instead.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id VARCHAR(26) PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				schema JSONB,
				states JSONB NOT NULL,
				transitions JSONB NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id VARCHAR(26) PRIMARY KEY,
				definition_id VARCHAR(26) NOT NULL REFERENCES workflow_definitions(id),
				definition_version INTEGER NOT NULL DEFAULT 1,
				current_state TEXT NOT NULL,
				subject_type TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				data JSONB,
				is_locked BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_subject
				ON workflow_instances(subject_type, subject_id);

			CREATE TABLE IF NOT EXISTS tasks (
				id VARCHAR(26) PRIMARY KEY,
				workflow_id VARCHAR(26) NOT NULL REFERENCES workflow_instances(id),
				state_name TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				assigned_user_id TEXT,
				assigned_role TEXT,
				status VARCHAR(16) NOT NULL,
				priority TEXT,
				due_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				completed_by TEXT,
				action TEXT,
				comment TEXT,
				metadata JSONB
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_workflow_state
				ON tasks(workflow_id, state_name);
			CREATE INDEX IF NOT EXISTS idx_tasks_assignee
				ON tasks(assigned_user_id) WHERE status = 'pending';
			CREATE INDEX IF NOT EXISTS idx_tasks_due
				ON tasks(due_at) WHERE status = 'pending' AND due_at IS NOT NULL;

			CREATE TABLE IF NOT EXISTS delegations (
				id VARCHAR(26) PRIMARY KEY,
				delegator_id TEXT NOT NULL,
				delegatee_id TEXT NOT NULL,
				starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_delegations_delegator
				ON delegations(delegator_id, starts_at, ends_at);

			CREATE TABLE IF NOT EXISTS timers (
				id VARCHAR(26) PRIMARY KEY,
				workflow_id VARCHAR(26) NOT NULL REFERENCES workflow_instances(id),
				type VARCHAR(32) NOT NULL,
				trigger_at TIMESTAMP WITH TIME ZONE NOT NULL,
				action JSONB NOT NULL,
				cron_expression TEXT,
				fired BOOLEAN NOT NULL DEFAULT FALSE,
				fired_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_timers_due
				ON timers(trigger_at) WHERE fired = FALSE;

			CREATE TABLE IF NOT EXISTS workflow_history (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(26) NOT NULL UNIQUE,
				workflow_id VARCHAR(26) NOT NULL REFERENCES workflow_instances(id),
				transition TEXT,
				from_state TEXT,
				to_state TEXT,
				actor_id TEXT,
				comment TEXT,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_history_workflow
				ON workflow_history(workflow_id, seq);
		`,
		2: `
			ALTER TABLE tasks ADD COLUMN IF NOT EXISTS approver_id TEXT;
		`,
	}
}
