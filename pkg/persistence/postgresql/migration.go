package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions: tenant-scoped, one row per version.
			CREATE TABLE workflow_definitions (
				id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				published_by VARCHAR(255),
				PRIMARY KEY (tenant_id, id, version)
			);

			CREATE INDEX idx_definitions_tenant ON workflow_definitions(tenant_id);
			CREATE INDEX idx_definitions_status ON workflow_definitions(status);

			-- Workflow instances. The version column backs the optimistic
			-- concurrency check: updates carry WHERE version = expected.
			CREATE TABLE workflow_instances (
				id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				definition_id UUID NOT NULL,
				definition_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'cancelled', 'suspended')),
				current_node_ids JSONB NOT NULL DEFAULT '[]',
				context JSONB NOT NULL DEFAULT '{}',
				error_message TEXT,
				started_by VARCHAR(255),
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_instances_definition ON workflow_instances(tenant_id, definition_id);
			CREATE INDEX idx_instances_status ON workflow_instances(status);

			-- Human tasks.
			CREATE TABLE workflow_tasks (
				id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id UUID NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('created', 'assigned', 'claimed', 'in_progress', 'completed', 'failed', 'cancelled')),
				assignee_id VARCHAR(255),
				assignee_role VARCHAR(255),
				claimed_by VARCHAR(255),
				due_at TIMESTAMP WITH TIME ZONE,
				task_data JSONB,
				completion_data JSONB,
				completed_by VARCHAR(255),
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_tasks_instance ON workflow_tasks(tenant_id, instance_id);
			CREATE INDEX idx_tasks_status ON workflow_tasks(status);
			CREATE INDEX idx_tasks_assignee ON workflow_tasks(assignee_id);
			CREATE INDEX idx_tasks_role ON workflow_tasks(assignee_role);

			-- Append-only audit log.
			CREATE TABLE workflow_events (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id UUID NOT NULL,
				type VARCHAR(100) NOT NULL,
				name VARCHAR(100) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_events_instance ON workflow_events(tenant_id, instance_id, created_at);

			-- Outbox rows. The unique idempotency key is what makes
			-- replayed emissions collapse into a single delivery.
			CREATE TABLE outbox_messages (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				idempotency_key UUID NOT NULL UNIQUE,
				event_type VARCHAR(255) NOT NULL,
				payload JSONB NOT NULL,
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				retry_count INTEGER NOT NULL DEFAULT 0,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				processed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_outbox_unprocessed ON outbox_messages(processed, next_retry_at, created_at);

			-- Timer subscriptions polled by the scheduler.
			CREATE TABLE timer_subscriptions (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id UUID NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				fired BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_timers_due ON timer_subscriptions(fired, fire_at);
			CREATE INDEX idx_timers_instance ON timer_subscriptions(tenant_id, instance_id, node_id);
		`,
	}
}
