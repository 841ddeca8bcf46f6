package state

// schemaStatements creates the reserved tables from spec.md 6 if they
// don't already exist. Column and key shapes are taken verbatim from
// the spec's schema listing.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS __puffgres_migrations (
		version INT NOT NULL,
		mapping_name TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE(version, mapping_name)
	)`,
	`CREATE TABLE IF NOT EXISTS __puffgres_checkpoints (
		mapping_name TEXT PRIMARY KEY,
		lsn BIGINT NOT NULL,
		events_processed BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS __puffgres_dlq (
		id SERIAL PRIMARY KEY,
		mapping_name TEXT NOT NULL,
		lsn BIGINT NOT NULL,
		event_json JSONB,
		error_message TEXT,
		error_kind TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS __puffgres_backfill (
		mapping_name TEXT PRIMARY KEY,
		last_id TEXT,
		total_rows BIGINT NOT NULL DEFAULT 0,
		processed_rows BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS __puffgres_transforms (
		mapping_name TEXT NOT NULL,
		version INT NOT NULL,
		source TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		PRIMARY KEY(mapping_name, version)
	)`,
}
