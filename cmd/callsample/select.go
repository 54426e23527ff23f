package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skit-ai/callsample/internal/assemble"
	"github.com/skit-ai/callsample/internal/auth"
	"github.com/skit-ai/callsample/internal/config"
	"github.com/skit-ai/callsample/internal/store"
)

type selectFlags struct {
	callIDs     []int64
	uuidCSV     string
	token       string
	timezone    string
	history     bool
	asrProvider string
	states      []string
	intents     []string
	out         string
	format      string
}

func newSelectCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var flags selectFlags

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Fetch the turns of explicitly identified calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, cfg, logger, flags)
		},
	}

	cmd.Flags().Int64SliceVar(&flags.callIDs, "call-ids", nil, "internal call ids to fetch")
	cmd.Flags().StringVar(&flags.uuidCSV, "uuid-csv", "", "CSV file of call uuids to fetch (first column)")
	cmd.Flags().StringVar(&flags.token, "token", "", "gateway auth token carrying the org scope")
	cmd.Flags().StringVar(&flags.timezone, "timezone", cfg.Timezone, "timezone for readable timestamps")
	cmd.Flags().BoolVar(&flags.history, "history", false, "attach each turn's ordered call-history prefix")
	cmd.Flags().StringVar(&flags.asrProvider, "asr-provider", "", "ASR provider to filter turns by")
	cmd.Flags().StringSliceVar(&flags.states, "states", nil, "turn states to keep")
	cmd.Flags().StringSliceVar(&flags.intents, "intents", nil, "turn intents to keep")
	cmd.Flags().StringVar(&flags.out, "out", "", "output file path")
	cmd.Flags().StringVar(&flags.format, "format", "csv", "output format: csv, sqlite, or yaml")

	return cmd
}

func runSelect(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, flags selectFlags) error {
	ctx := cmd.Context()

	orgID, uuids, err := selectScope(flags)
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

	written, err := assembler.Select(ctx, assemble.SelectRequest{
		CallIDs: flags.callIDs,
		UUIDs:   uuids,
		OrgID:   orgID,
		Turn: store.TurnFilter{
			ASRProvider: flags.asrProvider,
			States:      flags.states,
			Intents:     flags.intents,
		},
		WithHistory: flags.history,
	}, out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	logger.Info("selection saved", "path", path, "turns", written)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// selectScope resolves the uuid list and the org scope that bounds its
// lookup. The gateway token only feeds the uuid path; selection by internal
// call id needs neither a token nor an org.
func selectScope(flags selectFlags) (int64, []string, error) {
	if flags.uuidCSV == "" {
		return 0, nil, nil
	}
	uuids, err := readUUIDColumn(flags.uuidCSV)
	if err != nil {
		return 0, nil, err
	}
	token, err := resolveToken(flags.token)
	if err != nil {
		return 0, nil, err
	}
	orgID, err := auth.OrgID(token)
	if err != nil {
		return 0, nil, err
	}
	return orgID, uuids, nil
}

// readUUIDColumn loads call uuids from the first column of a CSV file,
// skipping a header row and rejecting malformed uuids early.
func readUUIDColumn(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fail("open uuid csv: %v", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var uuids []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fail("read uuid csv: %v", err)
		}
		if len(record) == 0 || record[0] == "" {
			continue
		}
		value := record[0]
		if value == "uuid" || value == "call_uuid" {
			continue // header row
		}
		if _, err := uuid.Parse(value); err != nil {
			return nil, fail("invalid call uuid %q in %s", value, path)
		}
		uuids = append(uuids, value)
	}
	if len(uuids) == 0 {
		return nil, fail("no call uuids found in %s", path)
	}
	return uuids, nil
}
