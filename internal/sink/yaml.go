package sink

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skit-ai/callsample/internal/model"
)

// YAML dumps the turn list as a YAML sequence. Legacy format kept for
// workflows that still read the old dump; it buffers the whole dataset, so
// prefer CSV for large samples.
type YAML struct {
	path  string
	turns []model.Turn
}

// NewYAML returns a YAML sink writing to path on Close.
func NewYAML(path string) *YAML {
	return &YAML{path: path}
}

func (y *YAML) Write(_ context.Context, turn model.Turn) error {
	y.turns = append(y.turns, turn)
	return nil
}

func (y *YAML) Close() error {
	file, err := os.Create(y.path)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", y.path, err)
	}
	encoder := yaml.NewEncoder(file)
	if err := encoder.Encode(y.turns); err != nil {
		_ = file.Close()
		return fmt.Errorf("sink: encode yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sink: close encoder: %w", err)
	}
	return file.Close()
}

// Path returns the output file path.
func (y *YAML) Path() string { return y.path }
