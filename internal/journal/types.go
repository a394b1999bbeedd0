package journal

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("journal closed")

// Config selects a backend. An empty Driver or "none" disables the journal.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one finished call. Keep it compact and schema-stable.
type Entry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Seq        uint64    `json:"seq"`
	Mode       string    `json:"mode"`
	Enqueued   time.Time `json:"enqueued"`
	Dispatched time.Time `json:"dispatched"`
	TookMS     int64     `json:"took_ms"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
