package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/noot-app/foods-cleanup/internal/auth"
	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/noot-app/foods-cleanup/internal/reviewserver"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/spf13/cobra"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review [database]",
		Short: "Serve the manual review queue over MCP",
		Long: `Review exposes the manual review queue as MCP tools:

- list_review_queue: records waiting for review and why they were flagged
- get_food: one full record
- submit_food_correction: corrected values, which take the record off the queue

The server operates in two modes:

1. STDIO Mode (--stdio): for local MCP clients
   - Uses stdio pipes for communication
   - No authentication required

2. HTTP Mode (default): for remote clients
   - /health reports whether the database answers
   - /mcp requires "Authorization: Bearer <AUTH_TOKEN>"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdio, _ := cmd.Flags().GetBool("stdio")
			if stdio {
				return runReviewStdio(cmd, args)
			}
			return runReviewHTTP(cmd, args)
		},
	}

	addDBFlag(cmd)
	cmd.Flags().Bool("stdio", false, "Run in stdio mode for local MCP clients (default: HTTP mode)")
	cmd.Flags().String("port", "", "HTTP port (default: PORT or 8080)")
	return cmd
}

// runReviewStdio serves the review queue on stdio
func runReviewStdio(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol, so logs go to stderr
	logger := config.NewLogger(true)
	cfg := config.Load()

	srv, closeStore, err := newReviewServer(cmd, args, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("🔌 Starting review server in STDIO mode",
		"mode", "stdio",
		"auth", "not required for stdio mode",
		"transport", "stdio pipes")
	return srv.ServeStdio()
}

// runReviewHTTP serves the review queue over HTTP with bearer authentication
func runReviewHTTP(cmd *cobra.Command, args []string) error {
	logger := config.NewLogger(false)
	cfg := config.Load()
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetString("port")
	}

	if cfg.AuthToken == "" {
		return errors.New("AUTH_TOKEN must be set to serve the review queue over HTTP")
	}

	srv, closeStore, err := newReviewServer(cmd, args, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("🌐 Starting review server in HTTP mode",
		"mode", "http",
		"auth", "Bearer token required (except /health endpoint)",
		"transport", "HTTP/JSON-RPC 2.0",
		"port", cfg.Port)
	return srv.ListenAndServe(cmd.Context(), ":"+cfg.Port)
}

func newReviewServer(cmd *cobra.Command, args []string, cfg *config.Config, logger *slog.Logger) (*reviewserver.Server, func(), error) {
	path := dbPath(cmd, args, cfg)
	st, err := store.Open(path, false, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := st.Ping(cmd.Context()); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to reach database %s: %w", path, err)
	}

	authenticator := auth.NewBearerTokenAuth(cfg.AuthToken)
	return reviewserver.NewServer(st, authenticator, logger), func() { st.Close() }, nil
}
