package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coach-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id           TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	data              TEXT NOT NULL,
	generation_status TEXT NOT NULL DEFAULT 'not_started',
	is_complete       INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	PRIMARY KEY (user_id, session_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id  TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	data         TEXT NOT NULL,
	generated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_generation ON sessions(generation_status);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(user_id, session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, session_id, data, generation_status, is_complete, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, sess.SessionID, string(data), string(sess.Generation.Status),
		boolToInt(sess.IsComplete), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert session %s", sess.SessionID)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, generation_status FROM sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	)

	var data, genStatus string
	err := row.Scan(&data, &genStatus)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: scan session %s", sessionID)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	// The column is the lock; it may be ahead of the JSON payload between a
	// transition and the follow-up PutSession.
	sess.Generation.Status = model.GenerationStatus(genStatus)
	return &sess, nil
}

func (s *SQLiteStore) PutSession(ctx context.Context, sess *model.Session, requireExists bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	if requireExists {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET data = ?, generation_status = ?, is_complete = ?, updated_at = ?
			 WHERE user_id = ? AND session_id = ?`,
			string(data), string(sess.Generation.Status), boolToInt(sess.IsComplete),
			time.Now().UTC(), sess.UserID, sess.SessionID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update session %s", sess.SessionID)
		}
		return checkRowsAffected(res, "session", sess.SessionID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, session_id, data, generation_status, is_complete, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
		   data = excluded.data,
		   generation_status = excluded.generation_status,
		   is_complete = excluded.is_complete,
		   updated_at = excluded.updated_at`,
		sess.UserID, sess.SessionID, string(data), string(sess.Generation.Status),
		boolToInt(sess.IsComplete), sess.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert session %s", sess.SessionID)
	}
	return nil
}

func (s *SQLiteStore) TransitionGeneration(ctx context.Context, userID, sessionID string, expected []model.GenerationStatus, next model.GenerationStatus) (bool, error) {
	if len(expected) == 0 {
		return false, eris.New("sqlite: transition requires expected statuses")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(expected)), ",")
	args := []any{string(next), time.Now().UTC(), userID, sessionID}
	for _, st := range expected {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sessions SET generation_status = ?, updated_at = ?
		 WHERE user_id = ? AND session_id = ? AND generation_status IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition generation %s", sessionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT data, generation_status FROM sessions WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Generation != "" {
		query += ` AND generation_status = ?`
		args = append(args, string(filter.Generation))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var data, genStatus string
		if err := rows.Scan(&data, &genStatus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session row")
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session row")
		}
		sess.Generation.Status = model.GenerationStatus(genStatus)
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

func (s *SQLiteStore) PutArtifact(ctx context.Context, cfg *model.CoachConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, user_id, session_id, data, generated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (artifact_id) DO UPDATE SET data = excluded.data`,
		cfg.ArtifactID, cfg.UserID, cfg.SessionID, string(data), cfg.GeneratedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put artifact %s", cfg.ArtifactID)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*model.CoachConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM artifacts WHERE artifact_id = ?`, artifactID,
	)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: scan artifact %s", artifactID)
	}

	var cfg model.CoachConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifact")
	}
	return &cfg, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
