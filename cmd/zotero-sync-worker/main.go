// Command zotero-sync-worker drains the outbound sync queue for libraries
// configured for event-driven push, independent of the batch sync cycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-sync/internal/config"
	"github.com/tonimelisma/zotero-sync/internal/notify"
	"github.com/tonimelisma/zotero-sync/internal/queue"
	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/worker"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

var version = "dev"

var (
	flagConfigPath   string
	flagPollInterval int
	flagBatchSize    int
	flagOnce         bool
	flagStats        bool
	flagNotifyAddr   string
	flagVerbose      bool
	flagDebug        bool
	flagQuiet        bool
)

// CLIContext bundles the resolved config and logger built once in
// PersistentPreRunE, so RunE handlers read them off the command's context
// instead of reloading config or rebuilding a logger themselves.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not found in context — PersistentPreRunE must run before RunE")
	}

	return cc
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "zotero-sync-worker",
		Short:         "Long-running drain of the event-driven outbound sync queue",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.Logging.LogLevel, flagVerbose, flagDebug, flagQuiet)

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, &CLIContext{Cfg: cfg, Logger: logger}))

			return nil
		},
		RunE: runWorker,
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path (required)")
	cmd.Flags().IntVar(&flagPollInterval, "poll-interval", 0, "poll interval in seconds (default: sync.poll_interval from config)")
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "entries leased per library per tick, max 50 (default: sync.batch_size from config)")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "drain one batch from every library with pending work, then exit")
	cmd.Flags().BoolVar(&flagStats, "stats", false, "print queue backlog statistics and exit")
	cmd.Flags().StringVar(&flagNotifyAddr, "notify-addr", "", "serve a websocket event stream of drain activity on this address (disabled if empty)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "error-level logging only")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cc := mustCLIContext(ctx)
	cfg, logger := cc.Cfg, cc.Logger

	st, err := store.Open(cfg.Database.DSN, cfg.Database.ConnMax, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	leaseDuration := cfg.Sync.PollInterval() * 2
	q := queue.New(st.DB(), leaseDuration)

	if flagStats {
		return printStats(ctx, q)
	}

	remote := zoteroapi.NewClient(cfg.Remote.Endpoint, cfg.Remote.APIKey,
		&http.Client{Timeout: cfg.Sync.HTTPTimeout()}, logger)

	w := worker.New(q, remote, st, logger)

	if flagNotifyAddr != "" {
		hub := notify.NewHub(logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/events", hub.ServeHTTP)

		srv := &http.Server{Addr: flagNotifyAddr, Handler: mux}

		go func() {
			logger.Info("zotero-sync-worker: serving event stream", "addr", flagNotifyAddr)

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("zotero-sync-worker: event stream server failed", "error", err.Error())
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		w = w.WithNotifier(hub)
	}

	batchSize := cfg.Sync.BatchSize
	if flagBatchSize > 0 {
		batchSize = flagBatchSize
	}

	if batchSize > zoteroapi.BatchLimit {
		batchSize = zoteroapi.BatchLimit
	}

	if flagOnce {
		if err := w.RunOnce(ctx, batchSize); err != nil {
			return fmt.Errorf("worker: one-shot drain: %w", err)
		}

		logger.Info("zotero-sync-worker: one-shot drain complete")

		return nil
	}

	interval := cfg.Sync.PollInterval()
	if flagPollInterval > 0 {
		interval = time.Duration(flagPollInterval) * time.Second
	}

	logger.Info("zotero-sync-worker: starting", "poll_interval", interval, "batch_size", batchSize)

	err = w.Run(ctx, interval, batchSize)
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown via context cancellation
	}

	return err
}

func printStats(ctx context.Context, q *queue.Queue) error {
	stats, err := q.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetching queue stats: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(stats)
}

// buildLogger resolves the effective log level: the config value, then
// --verbose/--debug/--quiet overriding it in increasing priority (flags are
// mutually exclusive, so at most one applies).
func buildLogger(configLevel string, verbose, debug, quiet bool) *slog.Logger {
	lvl := slog.LevelInfo

	switch configLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	if verbose {
		lvl = slog.LevelInfo
	}

	if debug {
		lvl = slog.LevelDebug
	}

	if quiet {
		lvl = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
