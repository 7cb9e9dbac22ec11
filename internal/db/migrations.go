package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS vehicle_identities (
		id              UUID PRIMARY KEY,
		canonical_plate TEXT NOT NULL,
		best_confidence DOUBLE PRECISION,
		state           TEXT NOT NULL,
		last_toggle_at  TIMESTAMPTZ,
		last_seen_at    TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_identities_canonical_plate ON vehicle_identities(canonical_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_identities_last_seen ON vehicle_identities(last_seen_at);`,
	`CREATE TABLE IF NOT EXISTS raw_logs (
		id              BIGSERIAL PRIMARY KEY,
		event_id        UUID NOT NULL,
		camera_id       TEXT NOT NULL,
		frame_id        TEXT NOT NULL,
		plate_text      TEXT NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL,
		captured_at     TIMESTAMPTZ NOT NULL,
		bbox_x          DOUBLE PRECISION,
		bbox_y          DOUBLE PRECISION,
		bbox_w          DOUBLE PRECISION,
		bbox_h          DOUBLE PRECISION,
		image_ref       TEXT,
		raw_payload     JSONB,
		outcome         TEXT NOT NULL,
		identity_id     UUID,
		similarity      DOUBLE PRECISION,
		ambiguous       BOOLEAN NOT NULL DEFAULT false,
		note            TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_logs_event_id ON raw_logs(event_id);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_logs_camera_time ON raw_logs(camera_id, captured_at);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_logs_plate_time ON raw_logs(plate_text, captured_at);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_logs_outcome ON raw_logs(outcome);`,
	`CREATE TABLE IF NOT EXISTS toggle_events (
		id              UUID PRIMARY KEY,
		identity_id     UUID NOT NULL REFERENCES vehicle_identities(id),
		mode            TEXT NOT NULL,
		captured_at     TIMESTAMPTZ NOT NULL,
		raw_ref         UUID NOT NULL,
		confidence      DOUBLE PRECISION,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_toggle_events_identity_time ON toggle_events(identity_id, captured_at);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               UUID PRIMARY KEY,
		identity_id      UUID NOT NULL REFERENCES vehicle_identities(id),
		status           TEXT NOT NULL,
		entry_ref        UUID,
		exit_ref         UUID,
		entered_at       TIMESTAMPTZ,
		exited_at        TIMESTAMPTZ,
		duration_minutes INT,
		fee              NUMERIC(10,2),
		needs_reconcile  BOOLEAN NOT NULL DEFAULT false,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity_id);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_entered_at ON sessions(entered_at);`,
}

func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
