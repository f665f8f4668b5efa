package store

// schemaV1 is portable between SQLite and Postgres. Statements are executed
// one at a time because prepared statements cannot carry several.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id                    TEXT PRIMARY KEY,
		tenant_id             TEXT NOT NULL,
		title                 TEXT NOT NULL DEFAULT '',
		booking_date          TEXT,
		form_validated_legacy BOOLEAN NOT NULL DEFAULT FALSE,
		invoice_sent          BOOLEAN NOT NULL DEFAULT FALSE,
		task_ids              TEXT NOT NULL DEFAULT '[]',
		created_at            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_tenant ON bookings(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS forms (
		id         TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		status     TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_forms_booking ON forms(booking_id)`,

	`CREATE TABLE IF NOT EXISTS contracts (
		id         TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		status     TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_booking ON contracts(booking_id)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id                      TEXT PRIMARY KEY,
		rule_id                 TEXT NOT NULL DEFAULT '',
		entity_id               TEXT NOT NULL,
		entity_type             TEXT NOT NULL,
		tenant_id               TEXT NOT NULL,
		display_name            TEXT NOT NULL,
		description             TEXT NOT NULL DEFAULT '',
		priority                TEXT NOT NULL,
		automatic               BOOLEAN NOT NULL,
		completed               BOOLEAN NOT NULL DEFAULT FALSE,
		completed_automatically BOOLEAN NOT NULL DEFAULT FALSE,
		completion_reason       TEXT NOT NULL DEFAULT '',
		due_date                TEXT NOT NULL,
		created_at              TEXT NOT NULL,
		completed_at            TEXT,
		metadata                TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_entity ON tasks(tenant_id, entity_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_open_automatic
		ON tasks(entity_id, rule_id)
		WHERE automatic AND NOT completed`,
}
