package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_verifications",
		SQL: `CREATE TABLE IF NOT EXISTS verifications (
  verification_id     UUID        NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL,
  expires_at          TIMESTAMPTZ NOT NULL,
  requester_email     TEXT        NOT NULL,
  requester_given     TEXT        NOT NULL DEFAULT '',
  requester_family    TEXT        NOT NULL DEFAULT '',
  document_key        TEXT        NOT NULL,
  document_size       BIGINT      NOT NULL DEFAULT 0 CHECK (document_size >= 0),
  selfie_key          TEXT        NOT NULL,
  selfie_size         BIGINT      NOT NULL DEFAULT 0 CHECK (selfie_size >= 0),
  resized_document_key  TEXT,
  resized_document_size BIGINT,
  resized_selfie_key    TEXT,
  resized_selfie_size   BIGINT,
  document_fields     JSONB,
  moderation_result   JSONB,
  face_match_result   JSONB,
  status              TEXT        NOT NULL,
  status_rank         SMALLINT    NOT NULL,
  failure_reason      TEXT        NOT NULL DEFAULT '',
  document_uploaded   BOOLEAN     NOT NULL DEFAULT FALSE,
  selfie_uploaded     BOOLEAN     NOT NULL DEFAULT FALSE,
  workflow_run_id     UUID,
  workflow_started_at TIMESTAMPTZ,
  last_updated        TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (verification_id, created_at)
);`,
	},
	{
		Name: "create_unique_index_verifications_id",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS uq_verifications_id ON verifications (verification_id);`,
	},
	{
		Name: "create_index_verifications_expires_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_verifications_expires_at ON verifications (expires_at);`,
	},
	{
		Name: "create_index_verifications_status",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_verifications_status ON verifications (status);`,
	},
}

// EnsureMigrated creates the verifications schema when the sentinel table is missing.
func EnsureMigrated(ctx context.Context, db *sql.DB, log zerolog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("event", "db_migration_check").Msg("checking schema")

	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT to_regclass('public.verifications') IS NOT NULL").Scan(&exists); err != nil {
		log.Error().Err(err).
			Str("event", "db_migration_failed").
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("failed to check sentinel table")
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info().
			Str("event", "db_migration_skip").
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("schema already exists, skipping migration")
		return nil
	}

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error().Err(err).
				Str("event", "db_migration_failed").
				Str("migration_step", step.Name).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Msg("migration step failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		log.Debug().
			Str("event", "db_migration_step").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Msg("migration step applied")
	}

	log.Info().
		Str("event", "db_migration_success").
		Int("steps", len(steps)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("schema migrated")

	return nil
}
