package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/skit-ai/callsample/internal/model"
)

// CSV streams turns into a delimited file, one row per turn, without holding
// the dataset in memory. Nested fields are JSON-encoded cells.
type CSV struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSV creates the output file and writes the header row.
func NewCSV(path string) (*CSV, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(model.Columns()); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("sink: write header: %w", err)
	}
	return &CSV{file: file, writer: writer}, nil
}

func (c *CSV) Write(_ context.Context, turn model.Turn) error {
	if err := c.writer.Write(turn.Record()); err != nil {
		return fmt.Errorf("sink: write row: %w", err)
	}
	return nil
}

func (c *CSV) Close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("sink: flush: %w", err)
	}
	return c.file.Close()
}

// Path returns the output file path.
func (c *CSV) Path() string { return c.file.Name() }
