package store

// schemaStatements returns the DDL for the core tables, adapting column
// types to the dialect (Postgres has JSONB/TIMESTAMPTZ; SQLite stores both
// as TEXT).
func schemaStatements(dialect Dialect) []string {
	jsonType := "TEXT"
	tsType := "TEXT"
	blobType := "BLOB"
	if dialect == DialectPostgres {
		jsonType = "JSONB"
		tsType = "TIMESTAMPTZ"
		blobType = "BYTEA"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls ` + jsonType + `,
			tool_call_id TEXT,
			created_at ` + tsType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv_created
			ON conversation_messages (conversation_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS memory_blocks (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			tier TEXT NOT NULL,
			label TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding ` + blobType + `,
			permission TEXT NOT NULL,
			pinned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + tsType + ` NOT NULL,
			updated_at ` + tsType + ` NOT NULL,
			UNIQUE (owner, label)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_blocks_owner_tier
			ON memory_blocks (owner, tier)`,

		`CREATE TABLE IF NOT EXISTS memory_events (
			id TEXT PRIMARY KEY,
			block_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			old_content TEXT,
			new_content TEXT,
			created_at ` + tsType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_events_block
			ON memory_events (block_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS pending_mutations (
			id TEXT PRIMARY KEY,
			block_id TEXT NOT NULL,
			proposed_content TEXT NOT NULL,
			reason TEXT,
			status TEXT NOT NULL,
			feedback TEXT,
			created_at ` + tsType + ` NOT NULL,
			resolved_at ` + tsType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_mutations_block
			ON pending_mutations (block_id)`,
	}
}
