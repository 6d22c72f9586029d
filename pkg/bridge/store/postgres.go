package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and applies pending migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	// Closing the derived *sql.DB does not close the pool.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const userColumns = `id, phone_number, COALESCE(name, ''), COALESCE(recovery_program, ''), created_at, updated_at`

func (p *Postgres) EnsureUser(ctx context.Context, phoneNumber string) (User, error) {
	// The upsert keeps the insert-or-fetch in one round trip; the no-op
	// update is what makes RETURNING yield the existing row.
	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (phone_number)
		VALUES ($1)
		ON CONFLICT (phone_number) DO UPDATE SET updated_at = now()
		RETURNING `+userColumns,
		phoneNumber,
	)
	var u User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.RecoveryProgram, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return u, nil
}

const callColumns = `id, user_id, COALESCE(call_sid, ''), call_type, status, started_at, ended_at, duration_seconds, created_at`

func scanCall(row pgx.Row) (Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.UserID, &c.CallSID, &c.CallType, &c.Status, &c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.CreatedAt)
	return c, err
}

func (p *Postgres) CreateCall(ctx context.Context, userID, callType string) (Call, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO calls (user_id, call_type, status)
		VALUES ($1, $2, $3)
		RETURNING `+callColumns,
		userID, callType, CallStatusInitiated,
	)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, fmt.Errorf("create call: %w", err)
	}
	return c, nil
}

func (p *Postgres) SetCallDialSID(ctx context.Context, callID, sid string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE calls SET call_sid = $2 WHERE id = $1`, callID, sid)
	if err != nil {
		return fmt.Errorf("set call sid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetCallStatus(ctx context.Context, callID, status string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE calls SET status = $2 WHERE id = $1`, callID, status)
	if err != nil {
		return fmt.Errorf("set call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetCall(ctx context.Context, callID string) (Call, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, callID)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (p *Postgres) GetCallBySID(ctx context.Context, sid string) (Call, error) {
	if sid == "" {
		return Call{}, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE call_sid = $1`, sid)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call by sid: %w", err)
	}
	return c, nil
}

func (p *Postgres) FinishCall(ctx context.Context, callID, status string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE calls
		SET status = $2,
		    ended_at = now(),
		    duration_seconds = EXTRACT(EPOCH FROM (now() - started_at))::int
		WHERE id = $1`,
		callID, status,
	)
	if err != nil {
		return fmt.Errorf("finish call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveTranscription(ctx context.Context, callID, content string) (Transcription, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO transcriptions (call_id, content)
		VALUES ($1, $2)
		RETURNING id, call_id, content, created_at`,
		callID, content,
	)
	var t Transcription
	if err := row.Scan(&t.ID, &t.CallID, &t.Content, &t.CreatedAt); err != nil {
		return Transcription{}, fmt.Errorf("save transcription: %w", err)
	}
	return t, nil
}

func (p *Postgres) GetTranscriptionByCall(ctx context.Context, callID string) (Transcription, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, call_id, content, created_at
		FROM transcriptions
		WHERE call_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		callID,
	)
	var t Transcription
	err := row.Scan(&t.ID, &t.CallID, &t.Content, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transcription{}, ErrNotFound
	}
	if err != nil {
		return Transcription{}, fmt.Errorf("get transcription: %w", err)
	}
	return t, nil
}

func (p *Postgres) CreateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO call_schedules (user_id, days_of_week, time_of_day, timezone, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		s.UserID, s.DaysOfWeek, s.TimeOfDay, s.Timezone, s.Active,
	)
	if err := row.Scan(&s.ID, &s.CreatedAt); err != nil {
		return Schedule{}, fmt.Errorf("create schedule: %w", err)
	}
	return s, nil
}

func (p *Postgres) ActiveSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, days_of_week, time_of_day, timezone, active, created_at
		FROM call_schedules
		WHERE active
		ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.UserID, &s.DaysOfWeek, &s.TimeOfDay, &s.Timezone, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
