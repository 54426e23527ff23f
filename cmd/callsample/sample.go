package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skit-ai/callsample/internal/assemble"
	"github.com/skit-ai/callsample/internal/auth"
	"github.com/skit-ai/callsample/internal/config"
	"github.com/skit-ai/callsample/internal/console"
	"github.com/skit-ai/callsample/internal/mediastore"
	"github.com/skit-ai/callsample/internal/model"
)

type sampleFlags struct {
	startDate   string
	endDate     string
	lang        string
	url         string
	token       string
	timezone    string
	quantity    int
	callType    string
	ignore      []string
	reported    bool
	resolved    bool
	searchKey   string
	searchValue string
	save        string
	out         string
	format      string
}

func newSampleCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var flags sampleFlags

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Randomly sample calls from the console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(cmd, cfg, logger, flags)
		},
	}

	cmd.Flags().StringVar(&flags.startDate, "start-date", "", "search calls made after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.endDate, "end-date", "", "search calls made before this date (default today)")
	cmd.Flags().StringVar(&flags.lang, "lang", "", "search calls made in this language")
	cmd.Flags().StringVar(&flags.url, "url", cfg.GatewayURL, "API gateway base URL")
	cmd.Flags().StringVar(&flags.token, "token", "", "gateway auth token (defaults to the saved session, then stdin)")
	cmd.Flags().StringVar(&flags.timezone, "timezone", cfg.Timezone, "timezone for date bounds and readable timestamps")
	cmd.Flags().IntVar(&flags.quantity, "call-quantity", 200, "number of calls to sample")
	cmd.Flags().StringVar(&flags.callType, "call-type", "live", `call type to filter ("live" or "subtesting")`)
	cmd.Flags().StringSliceVar(&flags.ignore, "ignore-callers", nil, "caller numbers to exclude")
	cmd.Flags().BoolVar(&flags.reported, "reported", false, "search only reported calls")
	cmd.Flags().BoolVar(&flags.resolved, "resolved", false, "search only resolved calls")
	cmd.Flags().StringVar(&flags.searchKey, "search-key", "", "custom search field name")
	cmd.Flags().StringVar(&flags.searchValue, "search-value", "", "custom search field value")
	cmd.Flags().StringVar(&flags.save, "save", string(assemble.InMemory), `materialization: "in-memory" or "files"`)
	cmd.Flags().StringVar(&flags.out, "out", "", "output path (file for in-memory, directory for files)")
	cmd.Flags().StringVar(&flags.format, "format", "csv", "in-memory output format: csv, sqlite, or yaml")
	_ = cmd.MarkFlagRequired("start-date")
	_ = cmd.MarkFlagRequired("lang")

	return cmd
}

func runSample(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, flags sampleFlags) error {
	ctx := cmd.Context()

	token, err := resolveToken(flags.token)
	if err != nil {
		return err
	}

	start, end, err := dateRange(flags.startDate, flags.endDate, flags.timezone)
	if err != nil {
		return err
	}

	client, err := console.NewClient(console.Config{
		BaseURL:         flags.url,
		Token:           token,
		PageConcurrency: cfg.PageConcurrency,
		PageRetries:     cfg.PageRetries,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	enricher, err := buildEnricher(ctx, cfg, logger, flags.timezone)
	if err != nil {
		return err
	}

	assembler := assemble.New(client, nil, enricher, logger)
	result, err := assembler.Sample(ctx, assemble.SampleRequest{
		Filter: console.Filter{
			Start:             start,
			End:               end,
			LangCode:          flags.lang,
			CallType:          flags.callType,
			IgnoredCallers:    flags.ignore,
			Reported:          flags.reported,
			Resolved:          flags.resolved,
			CustomSearchKey:   flags.searchKey,
			CustomSearchValue: flags.searchValue,
		},
		Quantity: flags.quantity,
		Mode:     assemble.Mode(flags.save),
		OutDir:   flags.out,
	})
	if err != nil {
		return err
	}

	if result.Path != "" {
		logger.Info("sample saved", "path", result.Path, "skipped", result.Skipped)
		fmt.Fprintln(cmd.OutOrStdout(), result.Path)
		return nil
	}

	path := flags.out
	if path == "" {
		path = fmt.Sprintf("callsample-%s.%s", time.Now().UTC().Format("20060102-150405"), extension(flags.format))
	}
	out, err := newSink(flags.format, path)
	if err != nil {
		return err
	}
	if err := writeRows(ctx, result.Rows, out); err != nil {
		return err
	}
	logger.Info("sample saved", "path", path, "rows", len(result.Rows), "skipped", result.Skipped)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// resolveToken prefers the flag, then the saved session, then piped stdin.
func resolveToken(flagToken string) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if saved, err := auth.ReadSessionToken(); err == nil && saved != "" {
		return saved, nil
	}
	info, err := os.Stdin.Stat()
	if err == nil && info.Mode()&os.ModeCharDevice == 0 {
		var piped string
		if _, err := fmt.Fscanln(os.Stdin, &piped); err == nil && piped != "" {
			return strings.TrimSpace(piped), nil
		}
	}
	return "", fail("expected --token=<token> or the token piped on stdin")
}

func buildEnricher(ctx context.Context, cfg config.Config, logger *slog.Logger, timezone string) (*model.Enricher, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fail("invalid timezone %q: %v", timezone, err)
	}
	enricher := &model.Enricher{
		CDNBase:  cfg.CDNRecordingsBasePath,
		Location: loc,
		Logger:   logger,
	}
	if cfg.PresignAudioURLs {
		signer, err := mediastore.New(ctx, cfg.PresignExpiry)
		if err != nil {
			return nil, err
		}
		enricher.Signer = signer
	}
	return enricher, nil
}

func extension(format string) string {
	switch format {
	case "sqlite":
		return "sqlite"
	case "yaml":
		return "yaml"
	default:
		return "csv"
	}
}
