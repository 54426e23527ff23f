// Package store is the Postgres fetch path: margin-inflated candidate-id
// sampling and batched turn retrieval with pacing and same-batch retry.
//
// Connections are deliberately short-lived: each batch opens one connection
// and closes it before the next batch starts, so a long sampling run never
// holds more than a single connection.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skit-ai/callsample/internal/model"
	"github.com/skit-ai/callsample/internal/retry"
	"github.com/skit-ai/callsample/internal/sample"
)

// Turn-level filter defaults mirroring what the product stores for audio
// exchanges.
var (
	defaultConversationTypes    = []string{"INPUT"}
	defaultConversationSubTypes = []string{"AUDIO"}
)

// runner executes one operator query and maps its rows. Split out from the
// batch loop so retry, pacing, and partitioning are testable without a live
// server; pgxRunner is the production implementation.
type runner interface {
	IDs(ctx context.Context, query string, args pgx.NamedArgs) ([]int64, error)
	Turns(ctx context.Context, query string, args pgx.NamedArgs) ([]model.RawTurn, error)
}

// Store runs the operator-supplied queries against Postgres.
type Store struct {
	run         runner
	queries     Queries
	batchSize   int
	delay       time.Duration
	idPolicy    retry.Policy
	batchPolicy retry.Policy
	logger      *slog.Logger
}

// Options tune batching and retry behavior; zero values take defaults.
type Options struct {
	BatchSize      int           // Call ids per turn query. Default 3000.
	BatchDelay     time.Duration // Pacing between batches. Default 500ms.
	BatchRetries   int           // Attempts per turn batch. Default 25.
	IDFetchRetries int           // Attempts for id resolution. Default 2.
	ConnRetryDelay time.Duration // Backoff for connection errors. Default 2s.
	Logger         *slog.Logger
}

// New creates a Store. It does not connect; connections are opened per
// batch.
func New(dsn string, queries Queries, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 3000
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = 500 * time.Millisecond
	}
	if opts.BatchRetries <= 0 {
		opts.BatchRetries = 25
	}
	if opts.IDFetchRetries <= 0 {
		opts.IDFetchRetries = 2
	}
	if opts.ConnRetryDelay <= 0 {
		opts.ConnRetryDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		run:       &pgxRunner{dsn: dsn},
		queries:   queries,
		batchSize: opts.BatchSize,
		delay:     opts.BatchDelay,
		logger:    logger,
		idPolicy: retry.Policy{
			MaxAttempts: opts.IDFetchRetries,
			DelayFor:    retry.PGDelays(opts.BatchDelay, opts.ConnRetryDelay),
			Retryable:   retry.Transient,
			Logger:      logger,
		},
		batchPolicy: retry.Policy{
			MaxAttempts: opts.BatchRetries,
			DelayFor:    retry.PGDelays(opts.BatchDelay, opts.ConnRetryDelay),
			Retryable:   retry.Transient,
			Logger:      logger,
		},
	}, nil
}

// CallFilter carries the call-level constraints for candidate-id sampling.
type CallFilter struct {
	OrgID           int64
	Start           string
	End             string
	CallType        string
	Lang            string
	UseCase         string
	FlowName        string
	MinDuration     float64
	Reported        bool
	ExcludedNumbers []string
}

func (f CallFilter) args(limit int) pgx.NamedArgs {
	excluded := append([]string{}, f.ExcludedNumbers...)
	excluded = append(excluded, "ev-connect", "0000000000")

	// Reported calls carry resolution status 0 until someone resolves them;
	// an unreported search leaves the flag unconstrained.
	var resolved any
	if f.Reported {
		resolved = 0
	}

	return pgx.NamedArgs{
		"id":               f.OrgID,
		"start":            f.Start,
		"end":              f.End,
		"call_type":        f.CallType,
		"lang":             nullable(f.Lang),
		"use_case":         nullable(f.UseCase),
		"flow_name":        nullable(f.FlowName),
		"min_duration":     nullableFloat(f.MinDuration),
		"resolved":         resolved,
		"excluded_numbers": excluded,
		"limit":            limit,
	}
}

// TurnFilter carries the turn-level constraints for the batched turn query.
type TurnFilter struct {
	ASRProvider          string
	States               []string
	Intents              []string
	ConversationTypes    []string
	ConversationSubTypes []string
}

func (f TurnFilter) args() pgx.NamedArgs {
	types := f.ConversationTypes
	if len(types) == 0 {
		types = defaultConversationTypes
	}
	subTypes := f.ConversationSubTypes
	if len(subTypes) == 0 {
		subTypes = defaultConversationSubTypes
	}
	return pgx.NamedArgs{
		"asr_provider":           nullable(f.ASRProvider),
		"states":                 nullableList(f.States),
		"intents":                nullableList(f.Intents),
		"conversation_types":     types,
		"conversation_sub_types": subTypes,
	}
}

// RandomCallIDs samples candidate call ids. The limit is inflated by the
// sampling margin to offset rows the turn-level filters will reject later.
// Retries are strictly bounded; exhaustion fails the run.
func (s *Store) RandomCallIDs(ctx context.Context, f CallFilter, limit int) ([]int64, error) {
	args := f.args(sample.MarginLimit(limit))
	var ids []int64
	err := s.idPolicy.Do(ctx, "random call ids", func() error {
		var err error
		ids, err = s.run.IDs(ctx, s.queries.RandomCallIDs, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sampled candidate call ids", "count", len(ids), "limit", limit)
	return ids, nil
}

// CallIDsFromUUIDs resolves explicit call uuids to internal ids within the
// given org scope.
func (s *Store) CallIDsFromUUIDs(ctx context.Context, orgID int64, uuids []string) ([]int64, error) {
	if s.queries.CallIDsFromUUIDs == "" {
		return nil, fmt.Errorf("store: CALL_IDS_FROM_UUIDS_QUERY is not configured")
	}
	args := pgx.NamedArgs{"id": orgID, "uuids": uuids}
	var ids []int64
	err := s.idPolicy.Do(ctx, "call ids from uuids", func() error {
		var err error
		ids, err = s.run.IDs(ctx, s.queries.CallIDsFromUUIDs, args)
		return err
	})
	return ids, err
}

// Turns streams turn rows for the given call ids in batches. Each batch
// opens its own connection, retries in place on transient failure, and is
// handed to emit before the next batch starts, so memory stays bounded by
// batch size. The inter-batch delay is mandatory pacing.
func (s *Store) Turns(ctx context.Context, callIDs []int64, f TurnFilter, emit func([]model.RawTurn) error) error {
	filterArgs := f.args()
	batches := Partition(callIDs, s.batchSize)
	s.logger.Debug("fetching turns", "calls", len(callIDs), "batches", len(batches))

	for i, batch := range batches {
		args := pgx.NamedArgs{"call_ids": batch}
		for k, v := range filterArgs {
			args[k] = v
		}

		var turns []model.RawTurn
		err := s.batchPolicy.Do(ctx, fmt.Sprintf("turn batch %d/%d", i+1, len(batches)), func() error {
			var err error
			turns, err = s.run.Turns(ctx, s.queries.Turns, args)
			return err
		})
		if err != nil {
			return err
		}
		if err := emit(turns); err != nil {
			return err
		}

		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}
	return nil
}

// Partition splits ids into chunks of at most size.
func Partition(ids []int64, size int) [][]int64 {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// pgxRunner opens one short-lived connection per query.
type pgxRunner struct {
	dsn string
}

func (r *pgxRunner) IDs(ctx context.Context, query string, args pgx.NamedArgs) ([]int64, error) {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("store: query ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("store: collect ids: %w", err)
	}
	return ids, nil
}

func (r *pgxRunner) Turns(ctx context.Context, query string, args pgx.NamedArgs) ([]model.RawTurn, error) {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("store: query turns: %w", err)
	}
	// Strict mapping: a template missing an expected column fails here
	// rather than producing silently incomplete records.
	mapped, err := pgx.CollectRows(rows, pgx.RowToStructByName[turnRow])
	if err != nil {
		return nil, fmt.Errorf("store: collect turns: %w", err)
	}

	turns := make([]model.RawTurn, len(mapped))
	for i, row := range mapped {
		turns[i] = row.raw()
	}
	return turns, nil
}

// turnRow is the strict view of one row from the turns template.
type turnRow struct {
	CallID           int64      `db:"call_id"`
	CallUUID         string     `db:"call_uuid"`
	ConversationID   int64      `db:"conversation_id"`
	ConversationUUID string     `db:"conversation_uuid"`
	CallURL          *string    `db:"call_url"`
	CallURLID        *string    `db:"call_url_id"`
	AudioBasePath    *string    `db:"turn_audio_base_path"`
	AudioPath        *string    `db:"turn_audio_path"`
	Reftime          *time.Time `db:"reftime"`
	State            *string    `db:"state"`
	Prediction       *string    `db:"prediction"`
	Utterances       *string    `db:"utterances"`
	Context          *string    `db:"context"`
	IntentsInfo      *string    `db:"intents_info"`
	Language         *string    `db:"language"`
	ASRProvider      *string    `db:"asr_provider"`
	VirtualNumber    *string    `db:"virtual_number"`
	FlowVersion      *string    `db:"flow_version"`
	ASRLatency       *float64   `db:"asr_latency"`
	SLULatency       *float64   `db:"slu_latency"`
	CallDuration     *float64   `db:"call_duration"`
}

func (r turnRow) raw() model.RawTurn {
	var reftime string
	if r.Reftime != nil {
		reftime = r.Reftime.Format(time.RFC3339Nano)
	}
	return model.RawTurn{
		CallID:           strconv.FormatInt(r.CallID, 10),
		CallUUID:         r.CallUUID,
		ConversationID:   r.ConversationID,
		ConversationUUID: r.ConversationUUID,
		CallURL:          deref(r.CallURL),
		CallURLID:        deref(r.CallURLID),
		AudioBasePath:    deref(r.AudioBasePath),
		AudioPath:        deref(r.AudioPath),
		Reftime:          reftime,
		State:            deref(r.State),
		Prediction:       deref(r.Prediction),
		Utterances:       deref(r.Utterances),
		Context:          deref(r.Context),
		IntentsInfo:      deref(r.IntentsInfo),
		Language:         deref(r.Language),
		ASRProvider:      deref(r.ASRProvider),
		VirtualNumber:    deref(r.VirtualNumber),
		FlowVersion:      deref(r.FlowVersion),
		ASRLatency:       floatText(r.ASRLatency),
		SLULatency:       floatText(r.SLULatency),
		CallDuration:     floatText(r.CallDuration),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatText(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func nullableList(vs []string) any {
	if len(vs) == 0 {
		return nil
	}
	return vs
}
