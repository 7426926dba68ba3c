package store

// ddl returns every CREATE TABLE/INDEX statement, dialect-adjusted. IDs are
// TEXT (UUIDs) so both dialects share one statement list; only the
// timestamp column type varies (TIMESTAMP on SQLite, TIMESTAMPTZ on
// Postgres), and hour-bucket timestamps use that type too.
func (s *Store) ddl() []string {
	ts := "TIMESTAMP"
	if s.Dialect == "postgres" {
		ts = "TIMESTAMPTZ"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS organization (
			id TEXT PRIMARY KEY,
			credits NUMERIC NOT NULL DEFAULT 0,
			dev_plan_credits_limit NUMERIC NOT NULL DEFAULT 0,
			dev_plan_credits_used NUMERIC NOT NULL DEFAULT 0,
			retention_level TEXT NOT NULL DEFAULT 'full',
			referred_by TEXT,
			referral_earnings NUMERIC NOT NULL DEFAULT 0,
			auto_top_up_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			auto_top_up_threshold NUMERIC NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS api_key (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			usage_total NUMERIC NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS log (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			api_key_id TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			time_to_first_token_ms BIGINT,
			requested_model TEXT NOT NULL,
			requested_provider TEXT,
			used_model TEXT NOT NULL,
			used_provider TEXT NOT NULL,
			used_model_mapping TEXT,
			response_size BIGINT NOT NULL DEFAULT 0,
			content TEXT,
			reasoning_content TEXT,
			tools TEXT,
			tool_choice TEXT,
			tool_results TEXT,
			finish_reason TEXT,
			unified_finish_reason TEXT NOT NULL,
			prompt_tokens BIGINT NOT NULL DEFAULT 0,
			completion_tokens BIGINT NOT NULL DEFAULT 0,
			reasoning_tokens BIGINT NOT NULL DEFAULT 0,
			cached_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost NUMERIC NOT NULL DEFAULT 0,
			input_cost NUMERIC NOT NULL DEFAULT 0,
			output_cost NUMERIC NOT NULL DEFAULT 0,
			cached_input_cost NUMERIC NOT NULL DEFAULT 0,
			request_cost NUMERIC NOT NULL DEFAULT 0,
			image_input_cost NUMERIC NOT NULL DEFAULT 0,
			image_output_cost NUMERIC NOT NULL DEFAULT 0,
			web_search_cost NUMERIC NOT NULL DEFAULT 0,
			estimated_cost BOOLEAN NOT NULL DEFAULT FALSE,
			discount NUMERIC,
			service_fee NUMERIC,
			pricing_tier TEXT,
			canceled BOOLEAN NOT NULL DEFAULT FALSE,
			streamed BOOLEAN NOT NULL DEFAULT FALSE,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			mode TEXT NOT NULL DEFAULT 'credits',
			used_mode TEXT NOT NULL DEFAULT 'credits',
			source TEXT,
			has_error BOOLEAN NOT NULL DEFAULT FALSE,
			error_details TEXT,
			routing_metadata TEXT,
			data_storage_cost NUMERIC NOT NULL DEFAULT 0,
			data_retention_cleaned_up BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at ` + ts + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_unprocessed ON log (created_at) WHERE processed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_log_retention ON log (created_at) WHERE data_retention_cleaned_up = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_log_project_hour ON log (project_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS project_hourly_stats (
			project_id TEXT NOT NULL,
			hour_timestamp ` + ts + ` NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost NUMERIC NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			cache_count BIGINT NOT NULL DEFAULT 0,
			updated_at ` + ts + ` NOT NULL,
			PRIMARY KEY (project_id, hour_timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS project_hourly_model_stats (
			project_id TEXT NOT NULL,
			hour_timestamp ` + ts + ` NOT NULL,
			used_model TEXT NOT NULL,
			used_provider TEXT NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost NUMERIC NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			updated_at ` + ts + ` NOT NULL,
			PRIMARY KEY (project_id, hour_timestamp, used_model, used_provider)
		)`,

		`CREATE TABLE IF NOT EXISTS api_key_hourly_stats (
			api_key_id TEXT NOT NULL,
			hour_timestamp ` + ts + ` NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost NUMERIC NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			updated_at ` + ts + ` NOT NULL,
			PRIMARY KEY (api_key_id, hour_timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS api_key_hourly_model_stats (
			api_key_id TEXT NOT NULL,
			hour_timestamp ` + ts + ` NOT NULL,
			used_model TEXT NOT NULL,
			used_provider TEXT NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost NUMERIC NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			updated_at ` + ts + ` NOT NULL,
			PRIMARY KEY (api_key_id, hour_timestamp, used_model, used_provider)
		)`,

		`CREATE TABLE IF NOT EXISTS lock (
			key TEXT PRIMARY KEY,
			updated_at ` + ts + ` NOT NULL
		)`,
	}
}
