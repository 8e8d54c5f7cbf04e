// Command zotero-sync runs one batch synchronization pass between a Zotero
// library and its local mirror, then exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-sync/internal/config"
	"github.com/tonimelisma/zotero-sync/internal/objectstore"
	"github.com/tonimelisma/zotero-sync/internal/registry"
	"github.com/tonimelisma/zotero-sync/internal/store"
	"github.com/tonimelisma/zotero-sync/internal/syncengine"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

var version = "dev"

var (
	flagConfigPath string
	flagGroups     []string
	flagClear      bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
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
		Use:           "zotero-sync",
		Short:         "One-shot batch sync against the Zotero Web API",
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
		RunE: runSync,
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path (required)")
	cmd.Flags().StringSliceVar(&flagGroups, "group", nil, "restrict sync to these group/user library ids (repeatable)")
	cmd.Flags().BoolVar(&flagClear, "clear", false, "clear local state before syncing")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug-level logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "error-level logging only")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cc := mustCLIContext(ctx)
	cfg, logger := cc.Cfg, cc.Logger

	syncOnly, err := parseIDs(flagGroups)
	if err != nil {
		return fmt.Errorf("parsing --group: %w", err)
	}

	st, err := store.Open(cfg.Database.DSN, cfg.Database.ConnMax, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	remote := zoteroapi.NewClient(cfg.Remote.Endpoint, cfg.Remote.APIKey,
		&http.Client{Timeout: cfg.Sync.HTTPTimeout()}, logger)

	objects, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		Bucket:          cfg.ObjectStore.Bucket,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("connecting to object store: %w", err)
	}

	engine := syncengine.New(remote, st, objects, logger)
	reg := registry.New(remote, st, engine, logger)
	reg.SyncOnly = syncOnly
	reg.ClearAll = flagClear && len(syncOnly) == 0
	reg.ClearBeforeSync = syncOnlyClear(flagClear, syncOnly)
	reg.NewGroupActive = cfg.Sync.NewGroupActive
	reg.MaxConcurrency = cfg.Sync.MaxConcurrency

	if err := reg.RunBatchSync(ctx); err != nil {
		return fmt.Errorf("batch sync: %w", err)
	}

	logger.Info("zotero-sync: batch sync complete")

	return nil
}

func syncOnlyClear(clear bool, syncOnly []int64) []int64 {
	if !clear {
		return nil
	}

	return syncOnly
}

func parseIDs(values []string) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(values))

	for _, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid library id %q: %w", v, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
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
