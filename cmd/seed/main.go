package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/capacity"
	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/db"
	"github.com/dheovanwa/serenity/internal/logger"
)

type person struct {
	id   uuid.UUID
	name string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal("open postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	psychiatrists, err := seedPsychiatrists(context.Background(), log, pool, faker, getInt("SEED_PSYCHIATRISTS", 20))
	if err != nil {
		log.Fatal("seed psychiatrists", zap.Error(err))
	}
	patients, err := seedPatients(context.Background(), log, pool, faker, getInt("SEED_PATIENTS", 500))
	if err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}
	if err := seedAppointments(context.Background(), log, pool, faker, cfg.Timezone, patients, psychiatrists); err != nil {
		log.Fatal("seed appointments", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedPsychiatrists(ctx context.Context, log *zap.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]person, error) {
	log.Info("seeding psychiatrists", zap.Int("count", count))

	specialties := []string{
		"Anxiety",
		"Depression",
		"Addiction",
		"Child and Adolescent",
		"Trauma",
		"Sleep",
		"Eating Disorders",
		"Family Therapy",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]person, 0, count)
	for i := 0; i < count; i++ {
		p := person{id: uuid.New(), name: "dr. " + faker.Name()}
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO psychiatrists (id, name, specialty, daily_chat_quota, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, p.id, p.name, spec, faker.Number(5, 15))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info("psychiatrists seeded")
	return out, nil
}

func seedPatients(ctx context.Context, log *zap.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]person, error) {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	out := make([]person, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			p := person{id: uuid.New(), name: faker.Name()}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, p.id, p.name, faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			out = append(out, p)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return out, nil
}

// videoSlots are the one-hour blocks handed out to seeded video appointments.
var videoSlots = []string{"08.00 - 08.59", "09.00 - 09.59", "10.00 - 10.59", "13.00 - 13.59", "15.00 - 15.59", "19.00 - 19.59"}

// seedAppointments gives every psychiatrist a spread of appointments from
// yesterday to next week, in every lifecycle state, with capacity reserved for
// the ones that still hold it.
func seedAppointments(ctx context.Context, log *zap.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, loc *time.Location, patients, psychiatrists []person) error {
	if len(patients) == 0 {
		return nil
	}

	today := time.Now().In(loc)
	created := 0

	for _, psy := range psychiatrists {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		ledger := capacity.NewLedger(tx)

		for day := -1; day <= 7; day++ {
			date := today.AddDate(0, 0, day).Format(appointment.DateLayout)

			for i, slot := range videoSlots {
				if !faker.Bool() {
					continue
				}
				patient := patients[faker.Number(0, len(patients)-1)]
				status := statusFor(faker, day)
				id, err := insertAppointment(ctx, tx, faker, patient, psy, appointment.MethodVideo, date, slot, status)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				if status.HoldsCapacity() {
					tr, err := appointment.ParseTimeRange(slot)
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
					if err := ledger.ReserveRange(ctx, capacity.Key{PsychiatristID: psy.id, Date: date}, id, tr.Start, tr.End); err != nil {
						_ = tx.Rollback(ctx)
						return fmt.Errorf("reserve slot %d on %s: %w", i, date, err)
					}
				}
				if err := seedChat(ctx, tx, faker, id, status, patient, psy); err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				created++
			}

			for n := faker.Number(0, 3); n > 0; n-- {
				patient := patients[faker.Number(0, len(patients)-1)]
				status := statusFor(faker, day)
				id, err := insertAppointment(ctx, tx, faker, patient, psy, appointment.MethodChat, date, "", status)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				if status.HoldsCapacity() {
					if _, err := ledger.ApplyDelta(ctx, capacity.Key{PsychiatristID: psy.id, Date: date}, 1); err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
				if err := seedChat(ctx, tx, faker, id, status, patient, psy); err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				created++
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Info("appointments seeded", zap.Int("count", created))
	return nil
}

// statusFor picks a lifecycle state consistent with how far the day is from today.
func statusFor(faker *gofakeit.Faker, day int) appointment.AppointmentStatus {
	switch {
	case day < 0:
		return []appointment.AppointmentStatus{
			appointment.StatusFinished,
			appointment.StatusFinished,
			appointment.StatusCancelled,
			appointment.StatusPaymentFailed,
		}[faker.Number(0, 3)]
	case day == 0:
		return []appointment.AppointmentStatus{
			appointment.StatusScheduled,
			appointment.StatusInProgress,
			appointment.StatusAwaitingPayment,
		}[faker.Number(0, 2)]
	default:
		return []appointment.AppointmentStatus{
			appointment.StatusScheduled,
			appointment.StatusScheduled,
			appointment.StatusAwaitingPayment,
			appointment.StatusCancelled,
		}[faker.Number(0, 3)]
	}
}

func insertAppointment(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, patient, psy person, method appointment.Method, date, slot string, status appointment.AppointmentStatus) (uuid.UUID, error) {
	id := uuid.New()
	price := strconv.Itoa(faker.Number(10, 50) * 10000)

	var token *string
	if status == appointment.StatusAwaitingPayment {
		t := faker.UUID()
		token = &t
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, psychiatrist_id, patient_name, psychiatrist_name,
			method, scheduled_date, scheduled_time, price, status, payment_token, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9::numeric, $10, $11, now(), now())
	`, id, patient.id, psy.id, patient.name, psy.name, string(method), date, slot, price, string(status), token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert appointment: %w", err)
	}
	return id, nil
}

// seedChat writes a short conversation for sessions that have started, and a
// rating on about half of the finished ones.
func seedChat(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, id uuid.UUID, status appointment.AppointmentStatus, patient, psy person) error {
	if status != appointment.StatusInProgress && status != appointment.StatusFinished {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO chats (appointment_id, ended)
		VALUES ($1, $2)
	`, id, status == appointment.StatusFinished)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	for i := faker.Number(2, 8); i > 0; i-- {
		sender := patient
		if i%2 == 0 {
			sender = psy
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, sender_name, text, time_label, sender_read, receiver_read)
			VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		`, uuid.New(), id, sender.id, sender.name, faker.Phrase(),
			fmt.Sprintf("%02d.%02d", faker.Number(8, 20), faker.Number(0, 59)),
			status == appointment.StatusFinished || faker.Bool())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if status != appointment.StatusFinished || !faker.Bool() {
		return nil
	}

	stars := faker.Number(3, 5)
	_, err = tx.Exec(ctx, `
		UPDATE chats SET rating = $2, rated_by = $3, rated_at = now()
		WHERE appointment_id = $1
	`, id, stars, patient.id)
	if err != nil {
		return fmt.Errorf("rate chat: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE psychiatrists
		SET ratings = array_append(ratings, $2::int),
		    rating = round((SELECT avg(r) FROM unnest(array_append(ratings, $2::int)) AS r), 1),
		    updated_at = now()
		WHERE id = $1
	`, psy.id, stars)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
