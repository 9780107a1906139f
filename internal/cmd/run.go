package cmd

import (
	"fmt"

	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/noot-app/foods-cleanup/internal/pipeline"
	"github.com/noot-app/foods-cleanup/internal/serving"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [database]",
		Short: "Run the full cleanup pipeline against a database",
		Long: `Run backs the database up and then runs every cleanup stage in order:
text normalization, serving size resolution, nutrition checks, deduplication,
a re-check of merged survivors and the review queue sync.

Flagged records are an expected outcome; the command still exits 0.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCleanup,
	}

	addDBFlag(cmd)
	cmd.Flags().String("rules", "", "YAML rule tables (default: RULES_PATH or the built-in tables)")
	cmd.Flags().String("serving-policy", "", "What to do with records no rule can size: flag_for_review or default_100g")
	cmd.Flags().String("tx-mode", "", "Commit writes per record or per stage: record or stage")
	cmd.Flags().Bool("merge-fields", false, "Fill a duplicate survivor's empty fields from the deleted records")
	cmd.Flags().String("backup-dir", "", "Directory for the pre-run backup (default: the database's directory)")
	cmd.Flags().Bool("dry-run", false, "Run every stage and roll everything back")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().Bool("force-lock", false, "Remove a stale run lock left by a crashed run")
	return cmd
}

// applyRunFlags overrides configuration with the flags given on the command line
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("rules") {
		cfg.RulesPath, _ = flags.GetString("rules")
	}
	if flags.Changed("serving-policy") {
		cfg.ServingPolicy, _ = flags.GetString("serving-policy")
	}
	if flags.Changed("tx-mode") {
		cfg.TxMode, _ = flags.GetString("tx-mode")
	}
	if flags.Changed("merge-fields") {
		cfg.MergeFields, _ = flags.GetBool("merge-fields")
	}
	if flags.Changed("backup-dir") {
		cfg.BackupDir, _ = flags.GetString("backup-dir")
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())

	cfg := config.Load()
	applyRunFlags(cmd, cfg)
	path := dbPath(cmd, args, cfg)

	policy, err := serving.ParsePolicy(cfg.ServingPolicy)
	if err != nil {
		return err
	}
	txMode, err := pipeline.ParseTxMode(cfg.TxMode)
	if err != nil {
		return err
	}
	tables, err := loadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	forceLock, _ := cmd.Flags().GetBool("force-lock")
	asJSON, _ := cmd.Flags().GetBool("json")

	st, err := store.Open(path, false, logger)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	defer st.Close()

	driver := pipeline.New(st, tables, pipeline.Options{
		ServingPolicy: policy,
		MergeFields:   cfg.MergeFields,
		TxMode:        txMode,
		BackupDir:     cfg.BackupDir,
		DryRun:        dryRun,
		ForceLock:     forceLock,
	}, logger)

	report, err := driver.Run(cmd.Context())
	if err != nil {
		if report != nil && report.BackupPath != "" {
			logger.Error("Run aborted, restore from the backup if needed", "backup", report.BackupPath, "error", err)
		}
		return err
	}

	if asJSON {
		return pipeline.WriteJSON(cmd.OutOrStdout(), report)
	}
	return pipeline.WriteText(cmd.OutOrStdout(), report)
}
