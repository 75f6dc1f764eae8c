// Package store persists reconciled metric rows keyed by their full
// dimensional tuple.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bilalbayram/adplan/internal/domain"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Scope selects the stored rows one re-sync of a single day replaces: the
// levels and breakdown keys that sync fetched. An empty breakdown key stands
// for the un-broken-down rows.
type Scope struct {
	AccountID     string
	Date          time.Time
	Levels        []domain.Level
	BreakdownKeys []string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.AccountID, s.Date.Format(domain.DateLayout))
}

func (s Scope) contains(row domain.MetricRow) bool {
	if row.AccountID != s.AccountID || !domain.Day(row.Date).Equal(domain.Day(s.Date)) {
		return false
	}
	levelOK := false
	for _, level := range s.Levels {
		if row.Level == level {
			levelOK = true
			break
		}
	}
	if !levelOK {
		return false
	}
	for _, key := range s.BreakdownKeys {
		if row.BreakdownKey == key {
			return true
		}
	}
	return false
}

func (s Scope) validate() error {
	if strings.TrimSpace(s.AccountID) == "" {
		return errors.New("scope account id is required")
	}
	if s.Date.IsZero() {
		return errors.New("scope date is required")
	}
	if len(s.Levels) == 0 || len(s.BreakdownKeys) == 0 {
		return errors.New("scope needs at least one level and one breakdown key")
	}
	return nil
}

// Query reads rows for one account over an inclusive day range. Breakdown
// rows are excluded unless IncludeBreakdowns is set.
type Query struct {
	AccountID         string
	From              time.Time
	To                time.Time
	Level             *domain.Level
	IncludeBreakdowns bool
}

func (q Query) matches(row domain.MetricRow) bool {
	if row.AccountID != q.AccountID {
		return false
	}
	date := domain.Day(row.Date)
	if !q.From.IsZero() && date.Before(domain.Day(q.From)) {
		return false
	}
	if !q.To.IsZero() && date.After(domain.Day(q.To)) {
		return false
	}
	if q.Level != nil && row.Level != *q.Level {
		return false
	}
	if !q.IncludeBreakdowns && row.HasBreakdown() {
		return false
	}
	return true
}

type Store interface {
	// Upsert inserts or replaces each row by key. Replaying the same rows is a no-op.
	Upsert(ctx context.Context, rows []domain.MetricRow) error
	// ReplaceScope atomically deletes the scope's stored rows and writes rows.
	ReplaceScope(ctx context.Context, scope Scope, rows []domain.MetricRow) error
	Rows(ctx context.Context, query Query) ([]domain.MetricRow, error)
	Close() error
}

// Open returns the store for driver. The postgres store also ensures its table.
func Open(ctx context.Context, driver string, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres store requires a dsn")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q; expected memory|postgres", driver)
	}
}

// WriteError reports a row that could not be written after its retry.
type WriteError struct {
	Key domain.RowKey
	Err error
}

func (e *WriteError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("write row %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
