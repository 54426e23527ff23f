package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/skit-ai/callsample/internal/assemble"
	"github.com/skit-ai/callsample/internal/auth"
	"github.com/skit-ai/callsample/internal/config"
	"github.com/skit-ai/callsample/internal/store"
)

type storeFlags struct {
	startDate   string
	endDate     string
	lang        string
	token       string
	timezone    string
	quantity    int
	callType    string
	ignore      []string
	reported    bool
	useCase     string
	flowName    string
	minDuration float64
	asrProvider string
	states      []string
	intents     []string
	out         string
	format      string
}

func newStoreCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var flags storeFlags

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Randomly sample calls directly from the calls database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(cmd, cfg, logger, flags)
		},
	}

	cmd.Flags().StringVar(&flags.startDate, "start-date", "", "search calls made after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.endDate, "end-date", "", "search calls made before this date (default today)")
	cmd.Flags().StringVar(&flags.lang, "lang", "", "search calls made in this language")
	cmd.Flags().StringVar(&flags.token, "token", "", "gateway auth token carrying the org scope")
	cmd.Flags().StringVar(&flags.timezone, "timezone", cfg.Timezone, "timezone for date bounds and readable timestamps")
	cmd.Flags().IntVar(&flags.quantity, "call-quantity", 200, "number of calls to sample")
	cmd.Flags().StringVar(&flags.callType, "call-type", "INBOUND", "call type to filter")
	cmd.Flags().StringSliceVar(&flags.ignore, "ignore-callers", nil, "caller numbers to exclude")
	cmd.Flags().BoolVar(&flags.reported, "reported", false, "search only reported calls")
	cmd.Flags().StringVar(&flags.useCase, "use-case", "", "use-case identifier to filter")
	cmd.Flags().StringVar(&flags.flowName, "flow-name", "", "flow name to filter")
	cmd.Flags().Float64Var(&flags.minDuration, "min-duration", 0, "minimum call duration in seconds")
	cmd.Flags().StringVar(&flags.asrProvider, "asr-provider", "", "ASR provider to filter turns by")
	cmd.Flags().StringSliceVar(&flags.states, "states", nil, "turn states to keep")
	cmd.Flags().StringSliceVar(&flags.intents, "intents", nil, "turn intents to keep")
	cmd.Flags().StringVar(&flags.out, "out", "", "output file path")
	cmd.Flags().StringVar(&flags.format, "format", "csv", "output format: csv, sqlite, or yaml")
	_ = cmd.MarkFlagRequired("start-date")

	return cmd
}

func runStore(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, flags storeFlags) error {
	ctx := cmd.Context()

	token, err := resolveToken(flags.token)
	if err != nil {
		return err
	}
	orgID, err := auth.OrgID(token)
	if err != nil {
		return err
	}

	start, end, err := dateRange(flags.startDate, flags.endDate, flags.timezone)
	if err != nil {
		return err
	}

	assembler, err := buildStoreAssembler(cmd, cfg, logger, flags.timezone)
	if err != nil {
		return err
	}

	path := flags.out
	if path == "" {
		path = fmt.Sprintf("callsample-%s.%s", time.Now().UTC().Format("20060102-150405"), extension(flags.format))
	}
	out, err := newSink(flags.format, path)
	if err != nil {
		return err
	}

	written, err := assembler.SampleStore(ctx, assemble.StoreRequest{
		Filter: store.CallFilter{
			OrgID:           orgID,
			Start:           start,
			End:             end,
			CallType:        flags.callType,
			Lang:            flags.lang,
			UseCase:         flags.useCase,
			FlowName:        flags.flowName,
			MinDuration:     flags.minDuration,
			Reported:        flags.reported,
			ExcludedNumbers: flags.ignore,
		},
		Turn: store.TurnFilter{
			ASRProvider: flags.asrProvider,
			States:      flags.states,
			Intents:     flags.intents,
		},
		Quantity: flags.quantity,
	}, out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	logger.Info("sample saved", "path", path, "turns", written)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func buildStoreAssembler(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, timezone string) (*assemble.Assembler, error) {
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	queries, err := store.LoadQueries(cfg.RandomCallIDQueryPath, cfg.RandomCallDataQueryPath, cfg.CallIDsFromUUIDsQueryPath)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.DSN(), queries, store.Options{
		BatchSize:      cfg.BatchSize,
		BatchDelay:     cfg.BatchDelay,
		BatchRetries:   cfg.BatchRetries,
		IDFetchRetries: cfg.IDFetchRetries,
		ConnRetryDelay: cfg.ConnRetryDelay,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	enricher, err := buildEnricher(cmd.Context(), cfg, logger, timezone)
	if err != nil {
		return nil, err
	}
	return assemble.New(nil, st, enricher, logger), nil
}
