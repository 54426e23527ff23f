// Package assemble orchestrates a sampling run: size probe, fetch plan,
// batched retrieval, enrichment, and sink routing.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/skit-ai/callsample/internal/console"
	"github.com/skit-ai/callsample/internal/model"
	"github.com/skit-ai/callsample/internal/sample"
	"github.com/skit-ai/callsample/internal/sink"
	"github.com/skit-ai/callsample/internal/store"
	"github.com/skit-ai/callsample/internal/telemetry"
)

const scope = "github.com/skit-ai/callsample/internal/assemble"

// Mode selects the materialization strategy for console sampling.
type Mode string

const (
	// InMemory materializes the whole sample and returns it directly.
	InMemory Mode = "in-memory"

	// Files streams each page into its own CSV under a directory.
	Files Mode = "files"
)

// Assembler wires the fetch paths, the enricher, and the sinks together.
// Construct with New; the zero value is not usable.
type Assembler struct {
	console  *console.Client
	store    *store.Store
	enricher *model.Enricher
	logger   *slog.Logger
	tracer   trace.Tracer
	exported metric.Int64Counter
}

// New creates an Assembler. Either fetch path may be nil when unused.
func New(consoleClient *console.Client, st *store.Store, enricher *model.Enricher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if enricher == nil {
		enricher = &model.Enricher{}
	}
	exported, err := telemetry.Meter(scope).Int64Counter("callsample.turns.exported",
		metric.WithDescription("Turns written to a sink."))
	if err != nil {
		logger.Warn("exported-turns counter unavailable", "error", err)
	}
	return &Assembler{
		console:  consoleClient,
		store:    st,
		enricher: enricher,
		logger:   logger,
		tracer:   telemetry.Tracer(scope),
		exported: exported,
	}
}

// SampleRequest asks for a random sample from the console API.
type SampleRequest struct {
	Filter   console.Filter
	Quantity int
	Mode     Mode
	OutDir   string // Files mode output directory; created if needed.
}

// Result is the outcome of a console sampling run.
type Result struct {
	Rows    []model.Turn // InMemory mode.
	Path    string       // Files mode: the output directory.
	Skipped int          // Records dropped for integrity or corruption.
}

// Sample draws up to Quantity calls' turns from the console API. Each call
// occupies one listing page, so the page plan is the call plan: the full
// page range when Quantity covers the population, otherwise a uniform
// random subset.
func (a *Assembler) Sample(ctx context.Context, req SampleRequest) (*Result, error) {
	if a.console == nil {
		return nil, fmt.Errorf("%w: console client not configured", ErrInvalidArguments)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidArguments)
	}

	ctx, span := a.tracer.Start(ctx, "assemble.Sample")
	defer span.End()

	meta, err := a.console.Metadata(ctx, req.Filter)
	if err != nil {
		return nil, err
	}
	if meta.TotalItems == 0 {
		return nil, ErrEmptyResult
	}

	pages, err := sample.PagesToRead(meta.Page, meta.TotalPages, req.Quantity)
	if err != nil {
		return nil, err
	}
	a.logger.Info("sampling calls from console",
		"total_items", meta.TotalItems, "pages", len(pages), "mode", req.Mode)
	span.SetAttributes(
		attribute.Int("sample.total_items", meta.TotalItems),
		attribute.Int("sample.pages", len(pages)),
	)

	req.Filter.PageSize = 1

	switch req.Mode {
	case Files:
		return a.sampleToFiles(ctx, req, pages)
	default:
		return a.sampleInMemory(ctx, req, pages)
	}
}

func (a *Assembler) sampleInMemory(ctx context.Context, req SampleRequest, pages []int) (*Result, error) {
	raws, fetchSkipped, err := a.console.FetchTurns(ctx, req.Filter, pages)
	if err != nil {
		return nil, err
	}
	memory := sink.NewMemory()
	skipped, err := a.enrichInto(ctx, raws, memory, "console")
	if err != nil {
		return nil, err
	}
	return &Result{Rows: memory.Rows(), Skipped: fetchSkipped + skipped}, nil
}

func (a *Assembler) sampleToFiles(ctx context.Context, req SampleRequest, pages []int) (*Result, error) {
	dir := req.OutDir
	if dir == "" {
		created, err := os.MkdirTemp("", "callsample-")
		if err != nil {
			return nil, fmt.Errorf("assemble: create output dir: %w", err)
		}
		dir = created
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assemble: create output dir: %w", err)
	}

	var (
		mu      sync.Mutex
		skipped int
	)
	err := a.console.FetchPages(ctx, req.Filter, pages, func(page int, raws []model.RawTurn, fetchSkipped int) error {
		pageSink, err := sink.NewCSV(filepath.Join(dir, fmt.Sprintf("page-%d.csv", page)))
		if err != nil {
			return err
		}
		dropped, err := a.enrichInto(ctx, raws, pageSink, "console")
		if err != nil {
			_ = pageSink.Close()
			return err
		}
		mu.Lock()
		skipped += fetchSkipped + dropped
		mu.Unlock()
		return pageSink.Close()
	})
	if err != nil {
		return nil, err
	}
	return &Result{Path: dir, Skipped: skipped}, nil
}

// StoreRequest asks for a random sample from the database.
type StoreRequest struct {
	Filter   store.CallFilter
	Turn     store.TurnFilter
	Quantity int
}

// SampleStore draws a random sample through the database path, streaming
// enriched turns into the given sink. Returns the number of turns written.
func (a *Assembler) SampleStore(ctx context.Context, req StoreRequest, out sink.Sink) (int, error) {
	if a.store == nil {
		return 0, fmt.Errorf("%w: store not configured", ErrInvalidArguments)
	}
	if req.Quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidArguments)
	}

	ctx, span := a.tracer.Start(ctx, "assemble.SampleStore")
	defer span.End()

	ids, err := a.store.RandomCallIDs(ctx, req.Filter, req.Quantity)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrEmptyResult
	}
	a.logger.Info("sampling calls from store", "candidates", len(ids), "quantity", req.Quantity)

	written := 0
	err = a.store.Turns(ctx, ids, req.Turn, func(raws []model.RawTurn) error {
		n, skipped, err := a.writeBatch(ctx, raws, out, "store")
		written += n
		if skipped > 0 {
			a.logger.Warn("skipped unusable records in batch", "skipped", skipped)
		}
		return err
	})
	if err != nil {
		return written, err
	}
	return written, nil
}

// SelectRequest asks for specific calls rather than a random sample.
type SelectRequest struct {
	// CallIDs fetches exactly these calls. Takes precedence over UUIDs.
	CallIDs []int64

	// UUIDs are resolved to ids via the lookup query within OrgID's scope.
	UUIDs []string

	OrgID int64
	Turn  store.TurnFilter

	// WithHistory attaches each turn's ordered call-history prefix. The
	// whole selection is materialized before writing when set.
	WithHistory bool
}

// Select fetches the turns of explicitly identified calls and routes them to
// the sink. Returns the number of turns written.
func (a *Assembler) Select(ctx context.Context, req SelectRequest, out sink.Sink) (int, error) {
	if a.store == nil {
		return 0, fmt.Errorf("%w: store not configured", ErrInvalidArguments)
	}

	ctx, span := a.tracer.Start(ctx, "assemble.Select")
	defer span.End()

	ids := req.CallIDs
	if len(ids) == 0 {
		if len(req.UUIDs) == 0 {
			return 0, fmt.Errorf("%w: no call ids or uuids given", ErrInvalidArguments)
		}
		resolved, err := a.store.CallIDsFromUUIDs(ctx, req.OrgID, req.UUIDs)
		if err != nil {
			return 0, err
		}
		ids = resolved
	}
	if len(ids) == 0 {
		return 0, ErrEmptyResult
	}

	if !req.WithHistory {
		written := 0
		err := a.store.Turns(ctx, ids, req.Turn, func(raws []model.RawTurn) error {
			n, _, err := a.writeBatch(ctx, raws, out, "store")
			written += n
			return err
		})
		return written, err
	}

	// History needs the whole call in hand, so materialize first.
	var turns []model.Turn
	err := a.store.Turns(ctx, ids, req.Turn, func(raws []model.RawTurn) error {
		for _, raw := range raws {
			turn, err := a.enricher.Enrich(ctx, raw)
			if err != nil {
				if recoverable(err) {
					a.logger.Warn("skipping unusable record", "error", err)
					continue
				}
				return err
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	model.AttachHistory(turns)
	for _, turn := range turns {
		if err := out.Write(ctx, turn); err != nil {
			return 0, err
		}
	}
	a.count(ctx, len(turns), "store")
	return len(turns), nil
}

// enrichInto converts raw records and writes them to the sink, returning the
// number skipped for per-record failures.
func (a *Assembler) enrichInto(ctx context.Context, raws []model.RawTurn, out sink.Sink, source string) (int, error) {
	_, skipped, err := a.writeBatch(ctx, raws, out, source)
	return skipped, err
}

func (a *Assembler) writeBatch(ctx context.Context, raws []model.RawTurn, out sink.Sink, source string) (written, skipped int, err error) {
	for _, raw := range raws {
		turn, err := a.enricher.Enrich(ctx, raw)
		if err != nil {
			if recoverable(err) {
				a.logger.Warn("skipping unusable record", "error", err)
				skipped++
				continue
			}
			return written, skipped, err
		}
		if err := out.Write(ctx, turn); err != nil {
			return written, skipped, err
		}
		written++
	}
	a.count(ctx, written, source)
	return written, skipped, nil
}

func (a *Assembler) count(ctx context.Context, n int, source string) {
	if a.exported == nil || n == 0 {
		return
	}
	a.exported.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// recoverable reports per-record failures that batch processing skips over.
func recoverable(err error) bool {
	var malformed *model.MalformedFieldError
	var integrity *model.RecordIntegrityError
	return errors.As(err, &malformed) || errors.As(err, &integrity)
}
