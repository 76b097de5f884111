package postgres

import "context"

// The two partial unique indexes are the store-level enforcement of the
// at-most-one-active-session invariants: inserts race on them atomically
// instead of on a separate existence check.
const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	booking_id        UUID PRIMARY KEY,
	request_id        UUID UNIQUE,
	resource_type     TEXT NOT NULL,
	booking_date      TEXT NOT NULL,
	time_slot         TEXT NOT NULL,
	duration_hours    INT NOT NULL DEFAULT 1,
	customer_name     TEXT NOT NULL,
	customer_email    TEXT NOT NULL DEFAULT '',
	customer_phone    TEXT NOT NULL DEFAULT '',
	customer_telegram TEXT NOT NULL DEFAULT '',
	total_price       NUMERIC(12,2) NOT NULL CHECK (total_price >= 0),
	status            TEXT NOT NULL,
	confirmation_code TEXT NOT NULL DEFAULT '',
	user_id           TEXT,
	desk_number       INT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	version           BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS bookings_status_idx ON bookings (status);
CREATE INDEX IF NOT EXISTS bookings_date_idx ON bookings (booking_date);

CREATE TABLE IF NOT EXISTS sessions (
	session_id            UUID PRIMARY KEY,
	user_id               TEXT NOT NULL,
	booking_id            UUID,
	session_type          TEXT NOT NULL,
	start_time            TIMESTAMPTZ NOT NULL,
	end_time              TIMESTAMPTZ,
	duration_minutes      INT,
	status                TEXT NOT NULL,
	started_by            TEXT NOT NULL,
	ended_by              TEXT NOT NULL DEFAULT '',
	confirmation_required BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_booking_idx
	ON sessions (booking_id) WHERE status = 'active';
CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_subscriber_idx
	ON sessions (user_id) WHERE status = 'active' AND session_type = 'subscription';

CREATE TABLE IF NOT EXISTS outbox_events (
	seq          BIGSERIAL PRIMARY KEY,
	event_id     UUID NOT NULL UNIQUE,
	collection   TEXT NOT NULL,
	entity_id    UUID NOT NULL,
	type         TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
