package main

import (
	"context"
	"fmt"

	"github.com/skit-ai/callsample/internal/model"
	"github.com/skit-ai/callsample/internal/sink"
)

// newSink builds the single-file sink for the requested format.
func newSink(format, path string) (sink.Sink, error) {
	switch format {
	case "csv", "":
		return sink.NewCSV(path)
	case "sqlite":
		return sink.NewSQLite(path)
	case "yaml":
		return sink.NewYAML(path), nil
	default:
		return nil, fail("unknown output format %q (want csv, sqlite, or yaml)", format)
	}
}

// writeRows routes an in-memory dataset through a sink.
func writeRows(ctx context.Context, rows []model.Turn, out sink.Sink) error {
	for _, turn := range rows {
		if err := out.Write(ctx, turn); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}
