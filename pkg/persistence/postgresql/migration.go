package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(64) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT false,
				actions JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_workspace ON workflows(workspace_id);
			CREATE INDEX idx_workflows_trigger ON workflows(workspace_id, trigger_type) WHERE is_active AND deleted_at IS NULL;
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workspace_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				trigger_context JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(32) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				outcomes JSONB NOT NULL DEFAULT '[]',
				continuation JSONB,
				resume_at TIMESTAMP WITH TIME ZONE,
				cancel_requested BOOLEAN NOT NULL DEFAULT false,
				claimed_by VARCHAR(255) NOT NULL DEFAULT '',
				claimed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_executions_due ON workflow_executions(status, resume_at) WHERE claimed_by = '';
			CREATE INDEX idx_executions_claimed_at ON workflow_executions(claimed_at) WHERE claimed_by <> '';
		`,
		2: `
			CREATE TABLE custom_field_values (
				workspace_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				field_id VARCHAR(255) NOT NULL,
				value JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workspace_id, entity_id, field_id)
			);
		`,
	}
}
