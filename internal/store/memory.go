package store

import (
	"context"
	"sort"
	"sync"

	"github.com/bilalbayram/adplan/internal/domain"
)

type MemoryStore struct {
	mu   sync.RWMutex
	rows map[domain.RowKey]domain.MetricRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[domain.RowKey]domain.MetricRow)}
}

func (s *MemoryStore) Upsert(ctx context.Context, rows []domain.MetricRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rows[row.Key()] = cloneRow(row)
	}
	return nil
}

func (s *MemoryStore) ReplaceScope(ctx context.Context, scope Scope, rows []domain.MetricRow) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, existing := range s.rows {
		if scope.contains(existing) {
			delete(s.rows, key)
		}
	}
	for _, row := range rows {
		s.rows[row.Key()] = cloneRow(row)
	}
	return nil
}

func (s *MemoryStore) Rows(ctx context.Context, query Query) ([]domain.MetricRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MetricRow, 0)
	for _, row := range s.rows {
		if query.matches(row) {
			out = append(out, cloneRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRow(row domain.MetricRow) domain.MetricRow {
	row.Dimensions = append([]domain.Dimension(nil), row.Dimensions...)
	return row
}
