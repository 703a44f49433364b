package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dheovanwa/serenity/internal/capacity"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, psychiatrist_id, patient_name, psychiatrist_name, method,
	to_char(scheduled_date, 'YYYY-MM-DD'), scheduled_time, price::text, status, payment_token, created_at, updated_at`

const sessionColumns = `appointment_id, ended, rating::int, rated_by::text, rated_at, created_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanPsychiatrist(row pgx.Row) (*Psychiatrist, error) {
	var p Psychiatrist

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.DailyChatQuota,
		&p.Ratings,
		&p.Rating,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPsychiatristNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var method, status, price string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PsychiatristID,
		&a.PatientName,
		&a.PsychiatristName,
		&method,
		&a.Date,
		&a.Time,
		&price,
		&status,
		&a.PaymentToken,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Method = Method(method)
	a.Status = AppointmentStatus(status)
	a.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}

	return &a, nil
}

// scanConditional is scanAppointment for UPDATE ... WHERE status = $from
// statements, where an empty result means somebody else moved the row first.
func scanConditional(row pgx.Row) (*Appointment, error) {
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func scanSessionRecord(row pgx.Row) (*SessionRecord, error) {
	var r SessionRecord
	var ratedBy *string

	err := row.Scan(&r.AppointmentID, &r.Ended, &r.Rating, &ratedBy, &r.RatedAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionRecordNotFound
		}
		return nil, err
	}

	if ratedBy != nil {
		id, err := uuid.Parse(*ratedBy)
		if err != nil {
			return nil, fmt.Errorf("parse rated_by: %w", err)
		}
		r.RatedBy = &id
	}

	return &r, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// releaseCapacity gives back what the booking reserved for a.
func releaseCapacity(ctx context.Context, q capacity.Querier, a *Appointment) error {
	ledger := capacity.NewLedger(q)
	if a.Method == MethodChat {
		_, err := ledger.ApplyDelta(ctx, capacity.Key{PsychiatristID: a.PsychiatristID, Date: a.Date}, -1)
		return err
	}
	_, err := ledger.ReleaseRange(ctx, a.ID)
	return err
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPsychiatristByID(ctx context.Context, id uuid.UUID) (*Psychiatrist, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, daily_chat_quota, ratings, rating::float8, created_at, updated_at
		FROM psychiatrists
		WHERE id = $1
	`, id)
	return scanPsychiatrist(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 OR psychiatrist_id = $1
		ORDER BY scheduled_date DESC, created_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListOpenAppointments(ctx context.Context) ([]Appointment, error) {
	statuses := make([]string, 0, len(OpenStatuses))
	for _, s := range OpenStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		ORDER BY scheduled_date, id
	`, statuses)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, psychiatrist_id, patient_name, psychiatrist_name, method,
			scheduled_date, scheduled_time, price, status, payment_token, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9::numeric, $10, $11, $12, now())
		RETURNING `+appointmentColumns,
		in.ID, in.Patient.ID, in.Psychiatrist.ID, in.Patient.Name, in.Psychiatrist.Name, string(in.Method),
		in.Date, in.Time, in.Price.String(), string(StatusAwaitingPayment), in.PaymentToken, in.CreatedAt,
	)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	ledger := capacity.NewLedger(tx)
	key := capacity.Key{PsychiatristID: in.Psychiatrist.ID, Date: in.Date}

	switch in.Method {
	case MethodChat:
		booked, err := ledger.ApplyDelta(ctx, key, 1)
		if err != nil {
			return nil, err
		}
		if booked > in.Psychiatrist.DailyChatQuota {
			return nil, ErrFullyBooked
		}
	case MethodVideo:
		if in.Range == nil {
			return nil, ErrInvalidTimeRange
		}
		if err := ledger.ReserveRange(ctx, key, appt.ID, in.Range.Start, in.Range.End); err != nil {
			if errors.Is(err, capacity.ErrRangeTaken) {
				return nil, ErrSlotTaken
			}
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanConditional(row)
}

func (r *PgRepository) SettlePayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    payment_token = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(StatusScheduled), string(StatusAwaitingPayment))

	return scanConditional(row)
}

func (r *PgRepository) TransitionAndRelease(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    payment_token = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	appt, err := scanConditional(row)
	if err != nil {
		return nil, err
	}

	if err := releaseCapacity(ctx, tx, appt); err != nil {
		return nil, fmt.Errorf("release capacity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetSessionRecord(ctx context.Context, appointmentID uuid.UUID) (*SessionRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chats WHERE appointment_id = $1`, appointmentID)
	return scanSessionRecord(row)
}

func (r *PgRepository) EnsureSessionRecord(ctx context.Context, appointmentID uuid.UUID) (*SessionRecord, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO chats (appointment_id)
		VALUES ($1)
		ON CONFLICT (appointment_id) DO UPDATE SET appointment_id = EXCLUDED.appointment_id
		RETURNING `+sessionColumns,
		appointmentID)
	return scanSessionRecord(row)
}

func (r *PgRepository) EndSession(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (appointment_id, ended)
		VALUES ($1, true)
		ON CONFLICT (appointment_id) DO UPDATE SET ended = true
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("mark session ended: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		appointmentID, string(StatusFinished), string(StatusInProgress))

	appt, err := scanConditional(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
