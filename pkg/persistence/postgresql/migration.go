package postgresql

// migrations returns the schema migrations for the engine's stores, keyed by
// version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS schedules (
				id UUID PRIMARY KEY,
				owner TEXT NOT NULL,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				content_ref TEXT NOT NULL DEFAULT '',
				list_ref TEXT NOT NULL DEFAULT '',
				channel TEXT NOT NULL DEFAULT '',
				workflow_id TEXT NOT NULL DEFAULT '',
				recurrence_rule JSONB,
				drip_steps JSONB,
				next_execution_at TIMESTAMP WITH TIME ZONE,
				run_retries INTEGER NOT NULL DEFAULT 0,
				settings JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_schedules_due
				ON schedules (next_execution_at)
				WHERE status = 'scheduled';
		`,
		2: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL DEFAULT '[]',
				owner TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS workflow_instances (
				id UUID PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				schedule_id TEXT NOT NULL DEFAULT '',
				recipient_id TEXT NOT NULL,
				cursor TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				resume_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				trigger_data JSONB,
				abort_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_instances_resumable
				ON workflow_instances (resume_at)
				WHERE status = 'waiting';

			CREATE INDEX IF NOT EXISTS idx_instances_frequency
				ON workflow_instances (workflow_id, recipient_id, created_at);
		`,
		4: `
			ALTER TABLE workflow_instances
				ADD COLUMN IF NOT EXISTS max_retries INTEGER NOT NULL DEFAULT 0;
		`,
	}
}
