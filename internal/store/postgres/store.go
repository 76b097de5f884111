package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cp-docblog/nodmee/internal/models"
	"github.com/cp-docblog/nodmee/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time

	// visibilityLag holds outbox rows back from cursor reads until every
	// transaction that could hold an earlier sequence number has committed.
	// It must exceed the longest mutation transaction.
	visibilityLag time.Duration
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now, visibilityLag: time.Second}
}

const bookingColumns = `booking_id, request_id, resource_type, booking_date, time_slot, duration_hours,
	customer_name, customer_email, customer_phone, customer_telegram, total_price,
	status, confirmation_code, user_id, desk_number, created_at, updated_at, version`

const sessionColumns = `session_id, user_id, booking_id, session_type, start_time, end_time,
	duration_minutes, status, started_by, ended_by, confirmation_required`

func (s *Store) CreateBooking(ctx context.Context, input store.CreateBookingInput) (models.Booking, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Booking{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findBookingByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Booking{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Booking{}, false, err
		}
		return existing, false, nil
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	booking := models.Booking{
		BookingID:        uuid.NewString(),
		RequestID:        input.RequestID,
		ResourceType:     input.ResourceType,
		Date:             input.Date,
		TimeSlot:         input.TimeSlot,
		DurationHours:    input.DurationHours,
		CustomerName:     input.CustomerName,
		CustomerEmail:    input.CustomerEmail,
		CustomerPhone:    input.CustomerPhone,
		CustomerTelegram: input.CustomerTelegram,
		TotalPrice:       input.TotalPrice,
		Status:           models.StatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
		Version:          1,
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (
			booking_id, request_id, resource_type, booking_date, time_slot, duration_hours,
			customer_name, customer_email, customer_phone, customer_telegram, total_price,
			status, user_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING booking_id, status, version
	`, booking.BookingID, nullIfEmpty(input.RequestID), input.ResourceType, input.Date, input.TimeSlot,
		input.DurationHours, input.CustomerName, input.CustomerEmail, input.CustomerPhone,
		input.CustomerTelegram, input.TotalPrice, models.StatusPending, nullIfEmpty(input.UserID), createdAt)

	if err = row.Scan(&booking.BookingID, &booking.Status, &booking.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the request_id race: another actor committed first,
			// replay their record.
			_ = tx.Rollback(ctx)
			err = nil
			row := s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE request_id = $1`, input.RequestID)
			existing, scanErr := scanBooking(row)
			if scanErr != nil {
				return models.Booking{}, false, scanErr
			}
			return existing, false, nil
		}
		return models.Booking{}, false, err
	}
	if input.UserID != "" {
		userID := input.UserID
		booking.UserID = &userID
	}

	if err = insertOutboxEvent(ctx, tx, s.now(), store.CollectionBookings, booking.BookingID, store.EventBookingCreated, store.BookingEventPayload(booking)); err != nil {
		return models.Booking{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Booking{}, false, err
	}

	return booking, true, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, bookingID)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, store.ErrBookingNotFound
		}
		return models.Booking{}, err
	}
	return booking, nil
}

func (s *Store) ListBookings(ctx context.Context, filter store.BookingFilter) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $1`
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		if len(args) == 1 {
			query += ` AND booking_date = $1`
		} else {
			query += ` AND booking_date = $2`
		}
	}
	query += ` ORDER BY created_at ASC, booking_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) TransitionBooking(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
	if !store.ValidTransition(input.ExpectedStatus, input.TargetStatus) {
		return models.Booking{}, store.ErrInvalidTransition
	}

	code := input.ConfirmationCode
	if input.TargetStatus == models.StatusCodeSent {
		if code == "" {
			generated, err := store.GenerateConfirmationCode()
			if err != nil {
				return models.Booking{}, err
			}
			code = generated
		} else if !store.ValidConfirmationCode(code) {
			return models.Booking{}, store.ErrInvalidCode
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Booking{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	// Single conditional update keyed on the expected status: concurrent
	// actors race on this statement and exactly one observes a row.
	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
			confirmation_code = CASE
				WHEN $3 = 'code_sent' THEN $4
				WHEN $3 IN ('rejected', 'cancelled') THEN ''
				ELSE confirmation_code
			END,
			desk_number = CASE WHEN $3 = 'confirmed' THEN COALESCE($5, desk_number) ELSE desk_number END,
			updated_at = $6,
			version = version + 1
		WHERE booking_id = $1 AND status = $2
		RETURNING `+bookingColumns+`
	`, input.BookingID, input.ExpectedStatus, input.TargetStatus, code, input.DeskNumber, occurredAt)

	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			var exists bool
			if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE booking_id = $1)`, input.BookingID).Scan(&exists); err != nil {
				return models.Booking{}, err
			}
			_ = tx.Rollback(ctx)
			if !exists {
				return models.Booking{}, store.ErrBookingNotFound
			}
			return models.Booking{}, store.ErrConflict
		}
		return models.Booking{}, err
	}

	if err = insertOutboxEvent(ctx, tx, s.now(), store.CollectionBookings, booking.BookingID, store.BookingEventType(booking.Status), store.BookingEventPayload(booking)); err != nil {
		return models.Booking{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Booking{}, err
	}

	return booking, nil
}

func (s *Store) StartSession(ctx context.Context, input store.StartSessionInput) (models.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Session{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	userID := input.UserID
	var booking *models.Booking
	var bookingID *string
	if input.SessionType == models.SessionTypeBooking {
		row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, input.BookingID)
		found, scanErr := scanBooking(row)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				err = store.ErrBookingNotFound
				return models.Session{}, err
			}
			err = scanErr
			return models.Session{}, err
		}
		if found.Status != models.StatusConfirmed {
			err = store.ErrBookingNotStartable
			return models.Session{}, err
		}
		booking = &found
		if userID == "" && found.UserID != nil {
			userID = *found.UserID
		}
		id := input.BookingID
		bookingID = &id
	}

	startedAt := input.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now().UTC()
	}

	session := models.Session{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		BookingID:   bookingID,
		SessionType: input.SessionType,
		StartTime:   startedAt,
		Status:      models.SessionStatusActive,
		StartedBy:   input.StartedBy,
	}

	// The partial unique indexes reject a second active session for the
	// same booking or subscriber; ON CONFLICT turns that into an empty
	// result instead of an error, keeping check and insert one statement.
	row := tx.QueryRow(ctx, `
		INSERT INTO sessions (session_id, user_id, booking_id, session_type, start_time, status, started_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT DO NOTHING
		RETURNING session_id
	`, session.SessionID, session.UserID, session.BookingID, session.SessionType, session.StartTime, session.Status, session.StartedBy)
	if err = row.Scan(&session.SessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSessionActive
		}
		return models.Session{}, err
	}

	if err = insertOutboxEvent(ctx, tx, s.now(), store.CollectionSessions, session.SessionID, store.EventSessionStarted, store.SessionEventPayload(session, booking)); err != nil {
		return models.Session{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func (s *Store) EndSession(ctx context.Context, input store.EndSessionInput) (models.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Session{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Commit-time clock; elapsed minutes round up.
	endTime := s.now().UTC()
	row := tx.QueryRow(ctx, `
		UPDATE sessions
		SET status = 'completed',
			end_time = $2,
			duration_minutes = GREATEST(0, CEIL(EXTRACT(EPOCH FROM ($2::timestamptz - start_time)) / 60.0))::int,
			ended_by = $3,
			confirmation_required = TRUE
		WHERE session_id = $1 AND status = 'active'
		RETURNING `+sessionColumns+`
	`, input.SessionID, endTime, input.EndedBy)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			var exists bool
			if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, input.SessionID).Scan(&exists); err != nil {
				return models.Session{}, err
			}
			_ = tx.Rollback(ctx)
			if !exists {
				return models.Session{}, store.ErrSessionNotFound
			}
			return models.Session{}, store.ErrSessionEnded
		}
		return models.Session{}, err
	}

	var booking *models.Booking
	if session.BookingID != nil {
		row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, *session.BookingID)
		found, scanErr := scanBooking(row)
		if scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
			err = scanErr
			return models.Session{}, err
		}
		if scanErr == nil {
			booking = &found
		}
	}

	if err = insertOutboxEvent(ctx, tx, s.now(), store.CollectionSessions, session.SessionID, store.EventSessionEnded, store.SessionEventPayload(session, booking)); err != nil {
		return models.Session{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []interface{}{}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += ` AND user_id = $1`
	}
	if filter.BookingID != "" {
		args = append(args, filter.BookingID)
		if len(args) == 1 {
			query += ` AND booking_id = $1`
		} else {
			query += ` AND booking_id = $2`
		}
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		switch len(args) {
		case 1:
			query += ` AND status = $1`
		case 2:
			query += ` AND status = $2`
		default:
			query += ` AND status = $3`
		}
	}
	query += ` ORDER BY start_time ASC, session_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) GetActiveSession(ctx context.Context, bookingID, userID string) (models.Session, bool, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'active' AND booking_id = $1 LIMIT 1`
	arg := bookingID
	if bookingID == "" {
		query = `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'active' AND user_id = $1 LIMIT 1`
		arg = userID
	}
	row := s.pool.QueryRow(ctx, query, arg)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	return session, true, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	// The cursor walks the sequence, not timestamps: created_at is stamped
	// inside the transaction, so a stalled writer can commit an older
	// timestamp after a newer one is already visible. seq is assigned by
	// the insert too, so rows are additionally held back for visibilityLag,
	// after which every writer holding an earlier seq has committed.
	horizon := s.now().UTC().Add(-s.visibilityLag)
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, collection, entity_id, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1 AND created_at > $2 AND created_at <= $3
		ORDER BY seq ASC
		LIMIT $4
	`, after.AfterSeq, after.AfterTime, horizon, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Collection, &event.EntityID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func findBookingByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Booking, bool, error) {
	if requestID == "" {
		return models.Booking{}, false, nil
	}
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE request_id = $1`, requestID)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, false, nil
		}
		return models.Booking{}, false, err
	}
	return booking, true, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, now time.Time, collection, entityID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, collection, entity_id, type, payload_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.NewString(), collection, entityID, eventType, payload, now.UTC())
	return err
}

func scanBooking(row pgx.Row) (models.Booking, error) {
	var booking models.Booking
	var requestIDNull sql.NullString
	var userIDNull sql.NullString
	var deskNull sql.NullInt32
	if err := row.Scan(
		&booking.BookingID, &requestIDNull, &booking.ResourceType, &booking.Date, &booking.TimeSlot,
		&booking.DurationHours, &booking.CustomerName, &booking.CustomerEmail, &booking.CustomerPhone,
		&booking.CustomerTelegram, &booking.TotalPrice, &booking.Status, &booking.ConfirmationCode,
		&userIDNull, &deskNull, &booking.CreatedAt, &booking.UpdatedAt, &booking.Version,
	); err != nil {
		return models.Booking{}, err
	}
	if requestIDNull.Valid {
		booking.RequestID = requestIDNull.String
	}
	if userIDNull.Valid {
		userID := userIDNull.String
		booking.UserID = &userID
	}
	if deskNull.Valid {
		desk := int(deskNull.Int32)
		booking.DeskNumber = &desk
	}
	return booking, nil
}

func scanSession(row pgx.Row) (models.Session, error) {
	var session models.Session
	var bookingIDNull sql.NullString
	var endTimeNull sql.NullTime
	var durationNull sql.NullInt32
	if err := row.Scan(
		&session.SessionID, &session.UserID, &bookingIDNull, &session.SessionType, &session.StartTime,
		&endTimeNull, &durationNull, &session.Status, &session.StartedBy, &session.EndedBy,
		&session.ConfirmationRequired,
	); err != nil {
		return models.Session{}, err
	}
	if bookingIDNull.Valid {
		bookingID := bookingIDNull.String
		session.BookingID = &bookingID
	}
	if endTimeNull.Valid {
		endTime := endTimeNull.Time
		session.EndTime = &endTime
	}
	if durationNull.Valid {
		duration := int(durationNull.Int32)
		session.DurationMinutes = &duration
	}
	return session, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
