package persist

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/boardgo/server/internal/config"
	"github.com/boardgo/server/internal/session"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const openPingTimeout = 5 * time.Second

// SessionStore is the Postgres-backed Store. One JSONB row per session
// id, replaced on every save; no history is kept.
type SessionStore struct {
	cfg  config.DatabaseConfig
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewSessionStore(cfg config.DatabaseConfig, log *zap.Logger) *SessionStore {
	return &SessionStore{cfg: cfg, log: log}
}

// Open connects the pool, checks it answers, and brings the sessions
// schema up to date before the store accepts traffic.
func (s *SessionStore) Open(ctx context.Context) error {
	pc, err := pgxpool.ParseConfig(s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("session store dsn: %w", err)
	}
	pc.MaxConns = int32(s.cfg.MaxOpenConns)
	pc.MinConns = int32(s.cfg.MaxIdleConns)
	pc.MaxConnLifetime = s.cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return fmt.Errorf("session store connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("session store ping: %w", err)
	}

	if err := migrateSessions(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	s.pool = pool
	s.log.Info("session store ready",
		zap.Int("max_conns", s.cfg.MaxOpenConns))
	return nil
}

// migrateSessions replays the embedded sessions migrations through a
// stdlib handle borrowed from the pool.
func migrateSessions(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("session store migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("session store migrations: %w", err)
	}
	return nil
}

func (s *SessionStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *SessionStore) Save(ctx context.Context, st session.State) error {
	data, err := st.ToJSON()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.SessionID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, state, version, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id)
		 DO UPDATE SET state = EXCLUDED.state, version = EXCLUDED.version, updated_at = now()`,
		st.SessionID, data, st.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, sessionID string) (*session.State, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	st, err := session.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &st, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
