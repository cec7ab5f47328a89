package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const stateTable = "kotoshop_state"

// SQL stores slices in a single key/value table. The same queries serve
// sqlite, postgres and mysql; only the upsert differs.
type SQL struct {
	db *sqlx.DB
}

// NewSQL opens driver ("sqlite3", "postgres" or "mysql") and migrates.
func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: %s DSN required", ErrConnection, driver)
	}
	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_journal=WAL&_timeout=5000"
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnection, driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLFromDB wraps an open handle and migrates.
func NewSQLFromDB(ctx context.Context, db *sqlx.DB) (*SQL, error) {
	s := &SQL{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+stateTable+` (
		slice_key VARCHAR(64) PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	return err
}

func (s *SQL) upsert() string {
	if s.db.DriverName() == "mysql" {
		return `INSERT INTO ` + stateTable + ` (slice_key, payload, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`
	}
	return s.db.Rebind(`INSERT INTO ` + stateTable + ` (slice_key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (slice_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`)
}

func (s *SQL) Load(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT payload FROM `+stateTable+` WHERE slice_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError(key)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(payload), nil
}

func (s *SQL) Save(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsert(), key, string(value), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM `+stateTable+` WHERE slice_key = ?`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
