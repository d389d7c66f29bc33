package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied at service start. Statements are idempotent so every
// instance can run them on boot.
const schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	job_id          UUID PRIMARY KEY,
	name            TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	template_id     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	auto_approve    BOOLEAN NOT NULL DEFAULT FALSE,
	concurrency     INT NOT NULL DEFAULT 2,
	delivery_method TEXT NOT NULL DEFAULT 'dm',
	pause_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tasks (
	task_id           UUID PRIMARY KEY,
	job_id            UUID NOT NULL REFERENCES batch_jobs(job_id) ON DELETE CASCADE,
	company_id        TEXT NOT NULL DEFAULT '',
	company_name      TEXT NOT NULL DEFAULT '',
	contact_url       TEXT NOT NULL DEFAULT '',
	dm_handle         TEXT NOT NULL DEFAULT '',
	template_id       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	sub_status        TEXT NOT NULL DEFAULT '',
	generated_content TEXT NOT NULL DEFAULT '',
	delivery_method   TEXT NOT NULL DEFAULT 'dm',
	retry_count       INT NOT NULL DEFAULT 0,
	retry_history     JSONB NOT NULL DEFAULT '[]',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_job_status ON tasks (job_id, status);

CREATE TABLE IF NOT EXISTS delivery_queue (
	item_id        UUID PRIMARY KEY,
	seq            BIGSERIAL,
	task_id        UUID NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
	status         TEXT NOT NULL,
	scheduled_at   TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	status_message TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One active delivery attempt per task.
CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_queue_active
	ON delivery_queue (task_id)
	WHERE status IN ('pending', 'processing');

CREATE INDEX IF NOT EXISTS idx_delivery_queue_due
	ON delivery_queue (scheduled_at, seq)
	WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS error_log (
	entry_id   UUID PRIMARY KEY,
	job_id     UUID NOT NULL,
	task_id    TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	context    TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT 'new',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_error_log_job ON error_log (job_id, created_at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
