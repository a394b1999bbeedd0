package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "unq/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	pk         INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	mode       TEXT    NOT NULL,
	enqueued   TEXT    NOT NULL,
	dispatched TEXT    NOT NULL,
	took_ms    INTEGER NOT NULL,
	ok         INTEGER NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS calls_id ON calls(id);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls(id, name, seq, mode, enqueued, dispatched, took_ms, ok, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, int64(e.Seq), e.Mode,
		e.Enqueued.Format(time.RFC3339Nano), e.Dispatched.Format(time.RFC3339Nano),
		e.TookMS, boolInt(e.OK), nullStr(e.Error),
	)
	if errors.Is(err, sql.ErrConnDone) {
		return ErrClosed
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, seq, mode, enqueued, dispatched, took_ms, ok, err
		 FROM (SELECT * FROM calls ORDER BY pk DESC LIMIT ?) ORDER BY pk ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			seq                  int64
			enqueued, dispatched string
			ok                   int
			errStr               sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &seq, &e.Mode, &enqueued, &dispatched, &e.TookMS, &ok, &errStr); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Enqueued, _ = time.Parse(time.RFC3339Nano, enqueued)
		e.Dispatched, _ = time.Parse(time.RFC3339Nano, dispatched)
		e.OK = ok != 0
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
