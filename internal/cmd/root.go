package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Tests build a fresh tree per case.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "foods-cleanup",
		Short: "Validate, repair and deduplicate a SQLite foods table",
		Long: `foods-cleanup repairs the nutrition data in a SQLite "foods" table.

Commands:

1. run: the cleanup pipeline
   - Backs the database up, then runs text normalization, serving size
     resolution, nutrition checks, deduplication and the review queue sync
   - Records that cannot be fixed with confidence are flagged for review
   - Exits non-zero only when the run aborts (the backup is the recovery path)

2. enrich: fill review-queue records from Open Food Facts
   - Downloads and caches the Open Food Facts Parquet snapshot
   - Looks records up by barcode with DuckDB and writes complete nutrition
   - The next run re-validates everything it wrote

3. review: serve the review queue to an MCP client
   - STDIO mode (--stdio) for local clients, no authentication
   - HTTP mode (default) with /health and a bearer-protected /mcp endpoint

Configuration comes from the environment (or a .env file) and can be
overridden per run with flags. See DB_PATH, RULES_PATH, SERVING_POLICY,
TX_MODE, DEDUPE_MERGE_FIELDS, BACKUP_DIR, AUTH_TOKEN and PORT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newEnrichCmd(), newReviewCmd(), newVersionCmd())
	return root
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// Run is the main entry point for the CLI application
func Run() error {
	return Execute()
}

// loadRules reads the rule tables from path, or the embedded defaults when path is empty
func loadRules(path string) (*rules.Tables, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.Load(path)
}

// addDBFlag registers --db, which overrides DB_PATH
func addDBFlag(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "Path to the SQLite database (default: DB_PATH or foods.db)")
}

// dbPath picks the store path: positional argument, then --db, then DB_PATH
func dbPath(cmd *cobra.Command, args []string, cfg *config.Config) string {
	if len(args) > 0 {
		return args[0]
	}
	if cmd.Flags().Changed("db") {
		path, _ := cmd.Flags().GetString("db")
		return path
	}
	return cfg.DBPath
}
