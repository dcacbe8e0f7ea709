package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-intake/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id           TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	data              JSONB NOT NULL,
	generation_status TEXT NOT NULL DEFAULT 'not_started',
	is_complete       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, session_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id  TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	data         JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_generation ON sessions(generation_status);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(user_id, session_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (user_id, session_id, data, generation_status, is_complete, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.UserID, sess.SessionID, string(data), string(sess.Generation.Status),
		sess.IsComplete, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert session %s", sess.SessionID)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data, generation_status FROM sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)

	var data []byte
	var genStatus string
	err := row.Scan(&data, &genStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan session %s", sessionID)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	sess.Generation.Status = model.GenerationStatus(genStatus)
	return &sess, nil
}

func (s *PostgresStore) PutSession(ctx context.Context, sess *model.Session, requireExists bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	if requireExists {
		tag, err := s.pool.Exec(ctx,
			`UPDATE sessions SET data = $1, generation_status = $2, is_complete = $3, updated_at = $4
			 WHERE user_id = $5 AND session_id = $6`,
			string(data), string(sess.Generation.Status), sess.IsComplete,
			time.Now().UTC(), sess.UserID, sess.SessionID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update session %s", sess.SessionID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("session not found: %s", sess.SessionID)
		}
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (user_id, session_id, data, generation_status, is_complete, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
		   data = excluded.data,
		   generation_status = excluded.generation_status,
		   is_complete = excluded.is_complete,
		   updated_at = excluded.updated_at`,
		sess.UserID, sess.SessionID, string(data), string(sess.Generation.Status),
		sess.IsComplete, sess.CreatedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert session %s", sess.SessionID)
}

func (s *PostgresStore) TransitionGeneration(ctx context.Context, userID, sessionID string, expected []model.GenerationStatus, next model.GenerationStatus) (bool, error) {
	if len(expected) == 0 {
		return false, eris.New("postgres: transition requires expected statuses")
	}

	args := []any{string(next), time.Now().UTC(), userID, sessionID}
	placeholders := make([]string, len(expected))
	for i, st := range expected {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE sessions SET generation_status = $1, updated_at = $2
		 WHERE user_id = $3 AND session_id = $4 AND generation_status IN (%s)`,
			strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition generation %s", sessionID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT data, generation_status FROM sessions WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if filter.Generation != "" {
		args = append(args, string(filter.Generation))
		query += fmt.Sprintf(` AND generation_status = $%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var data []byte
		var genStatus string
		if err := rows.Scan(&data, &genStatus); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session row")
		}
		var sess model.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session row")
		}
		sess.Generation.Status = model.GenerationStatus(genStatus)
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: iterate sessions")
}

func (s *PostgresStore) PutArtifact(ctx context.Context, cfg *model.CoachConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifact")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (artifact_id, user_id, session_id, data, generated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (artifact_id) DO UPDATE SET data = excluded.data`,
		cfg.ArtifactID, cfg.UserID, cfg.SessionID, string(data), cfg.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put artifact %s", cfg.ArtifactID)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (*model.CoachConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM artifacts WHERE artifact_id = $1`, artifactID,
	)

	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: scan artifact %s", artifactID)
	}

	var cfg model.CoachConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifact")
	}
	return &cfg, nil
}
