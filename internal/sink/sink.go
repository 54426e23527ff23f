// Package sink routes enriched turn streams to their destination: CSV or
// SQLite files on disk, a legacy YAML dump, or an in-memory dataset.
package sink

import (
	"context"

	"github.com/skit-ai/callsample/internal/model"
)

// Sink consumes a stream of enriched turns. Write is called once per turn in
// stream order; Close flushes and releases resources. Implementations are
// not safe for concurrent Write unless documented otherwise.
type Sink interface {
	Write(ctx context.Context, turn model.Turn) error
	Close() error
}

// Memory materializes the whole stream. Memory cost scales with result
// size; comfortable up to roughly 10-100k rows.
type Memory struct {
	rows []model.Turn
}

// NewMemory returns an empty in-memory dataset.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, turn model.Turn) error {
	m.rows = append(m.rows, turn)
	return nil
}

func (m *Memory) Close() error { return nil }

// Rows returns the materialized dataset.
func (m *Memory) Rows() []model.Turn { return m.rows }
