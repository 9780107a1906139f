package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/noot-app/foods-cleanup/internal/enrich"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/spf13/cobra"
)

func newEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich [database]",
		Short: "Fill review-queue records from the Open Food Facts snapshot",
		Long: `Enrich looks up every review-queue record that has a barcode in the
Open Food Facts Parquet snapshot. When the product has a complete per-100g
nutrition set it is written to the record, together with a serving size
and ingredients if the record has none. Run "run" afterwards to re-validate.

The snapshot (4+ GB) is downloaded on first use and refreshed when the
remote copy changes. Use --fetch-only to download it without touching
the database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEnrich,
	}

	addDBFlag(cmd)
	cmd.Flags().Bool("fetch-only", false, "Download or refresh the snapshot and exit")
	cmd.Flags().String("backup-dir", "", "Directory for the pre-enrichment backup (default: the database's directory)")
	cmd.Flags().Bool("force-lock", false, "Remove a stale run lock left by a crashed run")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func runEnrich(cmd *cobra.Command, args []string) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	ctx := cmd.Context()

	cfg := config.Load()
	if cmd.Flags().Changed("backup-dir") {
		cfg.BackupDir, _ = cmd.Flags().GetString("backup-dir")
	}
	fetchOnly, _ := cmd.Flags().GetBool("fetch-only")
	forceLock, _ := cmd.Flags().GetBool("force-lock")
	asJSON, _ := cmd.Flags().GetBool("json")

	if enrich.MockEnabled() {
		logger.Warn("Using mock Open Food Facts lookup", "reason", "QUERY_ENGINE_MOCK=true")
	} else {
		logger.Info("🗄️  Checking Open Food Facts snapshot",
			"target_dir", filepath.Dir(cfg.ParquetPath),
			"note", "the snapshot is 4+ GB, the first download can take several minutes")

		if err := enrich.NewDataset(cfg, logger).Ensure(ctx); err != nil {
			return fmt.Errorf("failed to fetch snapshot: %w", err)
		}
	}
	if fetchOnly {
		logger.Info("✅ Snapshot ready", "parquet_path", cfg.ParquetPath, "metadata_path", cfg.MetadataPath)
		return nil
	}

	path := dbPath(cmd, args, cfg)
	st, err := store.Open(path, false, logger)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer st.Close()

	unlock, err := st.Lock(forceLock)
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer unlock()

	backup, err := st.Backup(ctx, cfg.BackupDir, uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to back up store, nothing was changed: %w", err)
	}
	logger.Info("💾 Backup written", "path", backup)

	lookup, err := enrich.NewLookup(cfg.ParquetPath, logger)
	if err != nil {
		return fmt.Errorf("failed to create lookup: %w", err)
	}
	defer lookup.Close()

	if err := lookup.TestConnection(ctx); err != nil {
		return fmt.Errorf("failed to query snapshot: %w", err)
	}

	res, err := enrich.NewEnricher(st, lookup, logger).Run(ctx)
	if err != nil {
		logger.Error("Enrichment aborted, restore from the backup if needed", "backup", backup, "error", err)
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	return writeEnrichText(cmd.OutOrStdout(), res)
}

func writeEnrichText(w io.Writer, res *enrich.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Examined\t%d\n", res.Examined)
	fmt.Fprintf(tw, "Enriched\t%d\n", res.Enriched)

	if len(res.Records) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ID\tBARCODE\tOUTCOME\tDETAIL")
		for _, r := range res.Records {
			detail := strings.Join(r.Fields, ",")
			if len(r.Missing) > 0 {
				detail = "missing " + strings.Join(r.Missing, ",")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Barcode, r.Outcome, detail)
		}
	}
	return tw.Flush()
}
