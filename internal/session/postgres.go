package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/shuttle-presence/internal/models"
)

const pqUniqueViolation = "23505"

// PostgresStore persists sessions in a sessions table with a partial unique
// index on (user_id) WHERE state='ACTIVE', which makes the one-active-session
// invariant hold even across multiple server processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const sessionColumns = `id, user_id, role, state, location_ref_id, started_at, ended_at, last_location_update_at`

func (p *PostgresStore) Start(ctx context.Context, userID string, role models.Role, locationRefID string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:                   uuid.NewString(),
		UserID:               userID,
		Role:                 role,
		State:                models.StateActive,
		LocationRefID:        locationRefID,
		StartedAt:            now,
		LastLocationUpdateAt: now,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, role, state, location_ref_id, started_at, last_location_update_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.UserID, sess.Role, sess.State, sess.LocationRefID, sess.StartedAt, sess.LastLocationUpdateAt)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == pqUniqueViolation {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

func (p *PostgresStore) Stop(ctx context.Context, userID string) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE sessions SET state=$1, ended_at=now()
		 WHERE user_id=$2 AND state=$3
		 RETURNING `+sessionColumns,
		models.StateEnded, userID, models.StateActive)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	return sess, nil
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, userID, locationRefID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET location_ref_id=$1, last_location_update_at=now()
		 WHERE user_id=$2 AND state=$3 AND location_ref_id <> $1`,
		locationRefID, userID, models.StateActive)
	if err != nil {
		return false, fmt.Errorf("update location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) GetActive(ctx context.Context, userID string) (*models.Session, error) {
	return p.getOne(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id=$1 AND state=$2`,
		userID, models.StateActive)
}

func (p *PostgresStore) GetLast(ctx context.Context, userID string) (*models.Session, error) {
	return p.getOne(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id=$1 ORDER BY started_at DESC LIMIT 1`,
		userID)
}

// getOne runs an idempotent single-row read, retrying once on failure.
func (p *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*models.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := scanSession(p.db.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err == nil {
			return sess, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("read session: %w", lastErr)
}

func (p *PostgresStore) ActiveByLocation(ctx context.Context, role models.Role) (map[string][]*models.Session, error) {
	active, err := p.ActiveSessions(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*models.Session)
	for _, sess := range active {
		out[sess.LocationRefID] = append(out[sess.LocationRefID], sess)
	}
	return out, nil
}

func (p *PostgresStore) ActiveSessions(ctx context.Context, role models.Role) ([]*models.Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE role=$1 AND state=$2 ORDER BY started_at ASC`,
		role, models.StateActive)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*models.Session, error) {
	var sess models.Session
	var endedAt sql.NullTime
	err := r.Scan(&sess.ID, &sess.UserID, &sess.Role, &sess.State,
		&sess.LocationRefID, &sess.StartedAt, &endedAt, &sess.LastLocationUpdateAt)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Time
	}
	return &sess, nil
}
