package store

// initSchema creates the persistent tables. Idempotent; safe on every open.
func (g *Gateway) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		novel_id TEXT NOT NULL,
		genre TEXT NOT NULL,
		main_character TEXT NOT NULL,
		current_chapter INTEGER NOT NULL DEFAULT 0,
		total_planned_chapters INTEGER NOT NULL,
		target_chapter_length INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		model_preference TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	CREATE INDEX IF NOT EXISTS idx_projects_novel ON projects(novel_id);

	CREATE TABLE IF NOT EXISTS novels (
		id TEXT PRIMARY KEY,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outlines (
		project_id TEXT PRIMARY KEY,
		tagline TEXT NOT NULL DEFAULT '',
		world_description TEXT NOT NULL DEFAULT '',
		power_system TEXT NOT NULL DEFAULT '',
		main_character_name TEXT NOT NULL DEFAULT '',
		main_character_motivation TEXT NOT NULL DEFAULT '',
		arc_outlines_json TEXT NOT NULL DEFAULT '[]',
		chapter_outlines_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS chapters (
		id TEXT PRIMARY KEY,
		novel_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		UNIQUE(novel_id, chapter_number)
	);
	CREATE INDEX IF NOT EXISTS idx_chapters_status ON chapters(status);

	CREATE TABLE IF NOT EXISTS chapter_summaries (
		project_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		PRIMARY KEY (project_id, chapter_number)
	);

	CREATE TABLE IF NOT EXISTS canon_facts (
		project_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		first_chapter INTEGER NOT NULL,
		last_confirmed_chapter INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (project_id, subject, predicate, object)
	);
	CREATE INDEX IF NOT EXISTS idx_canon_subject ON canon_facts(project_id, subject);

	CREATE TABLE IF NOT EXISTS beat_ledger (
		project_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		beat_type TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		intensity INTEGER NOT NULL DEFAULT 5,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_beats_window ON beat_ledger(project_id, chapter_number);

	CREATE TABLE IF NOT EXISTS power_events (
		project_id TEXT NOT NULL,
		character TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		realm TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		skill TEXT NOT NULL DEFAULT '',
		item TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_power_character ON power_events(project_id, character);

	CREATE TABLE IF NOT EXISTS cost_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		at DATETIME NOT NULL,
		day_key TEXT NOT NULL,
		task TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_costs_day ON cost_records(project_id, day_key);

	CREATE TABLE IF NOT EXISTS write_queue (
		project_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		scheduled_at DATETIME NOT NULL,
		slot TEXT NOT NULL DEFAULT 'morning',
		priority INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		claimed_day TEXT NOT NULL DEFAULT '',
		lease_expires_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (project_id, chapter_number)
	);
	CREATE INDEX IF NOT EXISTS idx_queue_claim ON write_queue(status, scheduled_at, priority);

	CREATE TABLE IF NOT EXISTS publish_queue (
		chapter_id TEXT PRIMARY KEY,
		scheduled_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		retries INTEGER NOT NULL DEFAULT 0,
		next_attempt_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		published_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_publish_due ON publish_queue(status, scheduled_at);

	CREATE TABLE IF NOT EXISTS factory_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_running INTEGER NOT NULL DEFAULT 1,
		max_workers INTEGER NOT NULL DEFAULT 10,
		max_active_projects INTEGER NOT NULL DEFAULT 200,
		chapters_per_project_per_day INTEGER NOT NULL DEFAULT 3,
		session_budget_usd REAL NOT NULL DEFAULT 5.0,
		daily_budget_usd REAL NOT NULL DEFAULT 10.0
	);
	INSERT OR IGNORE INTO factory_config (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS semantic_sections (
		project_id TEXT NOT NULL,
		chapter_number INTEGER NOT NULL,
		section_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		terms TEXT NOT NULL,
		PRIMARY KEY (project_id, chapter_number, section_index)
	);
	`

	if _, err := g.db.Exec(schema); err != nil {
		return err
	}
	return nil
}
