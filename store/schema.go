package store

// Schemas returns the DDL executed on every open. All statements are
// idempotent so multiple processes can race on startup.
func Schemas() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS namespaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id TEXT NOT NULL,
			cluster_name TEXT NOT NULL,
			namespace_name TEXT NOT NULL,
			UNIQUE (app_id, cluster_name, namespace_name)
		)`,

		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace_id INTEGER NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			line_num INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_namespace ON items (namespace_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_namespace_key
			ON items (namespace_id, key) WHERE key <> ''`,

		`CREATE TABLE IF NOT EXISTS releases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			release_key TEXT NOT NULL,
			name TEXT NOT NULL,
			app_id TEXT NOT NULL,
			cluster_name TEXT NOT NULL,
			namespace_name TEXT NOT NULL,
			configurations TEXT NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			is_abandoned INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_modified_by TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_releases_namespace
			ON releases (app_id, cluster_name, namespace_name, id)`,
		`CREATE INDEX IF NOT EXISTS idx_releases_key ON releases (release_key)`,

		`CREATE TABLE IF NOT EXISTS release_histories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id TEXT NOT NULL,
			cluster_name TEXT NOT NULL,
			namespace_name TEXT NOT NULL,
			branch_cluster_name TEXT NOT NULL,
			release_id INTEGER NOT NULL,
			previous_release_id INTEGER NOT NULL,
			operation INTEGER NOT NULL,
			operation_context BLOB,
			operator TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_histories_namespace
			ON release_histories (app_id, cluster_name, namespace_name, id)`,

		`CREATE TABLE IF NOT EXISTS gray_release_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id TEXT NOT NULL,
			cluster_name TEXT NOT NULL,
			namespace_name TEXT NOT NULL,
			branch_name TEXT NOT NULL,
			rules TEXT NOT NULL DEFAULT '[]',
			release_id INTEGER NOT NULL DEFAULT 0,
			updated_by TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (app_id, cluster_name, namespace_name)
		)`,

		`CREATE TABLE IF NOT EXISTS namespace_locks (
			namespace_id INTEGER PRIMARY KEY,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS release_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_content ON release_messages (content, id)`,

		`CREATE TABLE IF NOT EXISTS app_namespaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			app_id TEXT NOT NULL,
			is_public INTEGER NOT NULL DEFAULT 0,
			UNIQUE (app_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_app_namespaces_name ON app_namespaces (name)`,

		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_kind TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			operation TEXT NOT NULL,
			operator TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
}
