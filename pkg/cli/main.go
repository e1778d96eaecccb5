// Package cli implements the prismapilot command line: list, count,
// aggregate, group and export requests read from JSON files.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/websyro/prismapilot/pkg/config"
	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/version"
)

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "PRISMAPILOT"

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"db-type":      "database.type",
	"db-url":       "database.url",
	"db-name":      "database.database_name",
	"data-file":    "database.data_file",
	"log-level":    "observability.log_level",
	"log-format":   "observability.log_format",
	"cache":        "cache.enabled",
	"soft-delete":  "query.soft_delete",
	"webhook-url":  "webhook.url",
	"metrics":      "observability.metrics_enabled",
	"slow-query":   "query.slow_query_threshold",
	"default-sort": "query.default_sort_field",
}

type app struct {
	cfgPath     string
	output      string
	pretty      bool
	metricsFile string
	scopes      ScopeOptions
}

// NewRootCommand builds the prismapilot command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "prismapilot",
		Short:         "Compile and run declarative list queries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.scopes.IncludeTrashed && a.scopes.TrashedOnly {
				fmt.Fprintln(cmd.ErrOrStderr(), "--include-trashed overrides --trashed-only")
			}
			switch a.output {
			case "json", "yaml":
				return nil
			}
			return fmt.Errorf("unsupported --output %q (must be json or yaml)", a.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config-file", "c", "", "config file path")
	pf.StringVarP(&a.output, "output", "o", "json", "output format: json or yaml")
	pf.BoolVar(&a.pretty, "pretty", false, "indent JSON output")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
	pf.StringVar(&a.scopes.TenantID, "tenant", "", "restrict rows to this tenant id")
	pf.BoolVar(&a.scopes.IncludeTrashed, "include-trashed", false, "include soft-deleted rows")
	pf.BoolVar(&a.scopes.TrashedOnly, "trashed-only", false, "return only soft-deleted rows")
	pf.BoolVar(&a.scopes.NoCache, "no-cache", false, "bypass the result cache")

	pf.String("db-type", "", "database type: memory, postgres, mysql, mongodb")
	pf.String("db-url", "", "database connection URL")
	pf.String("db-name", "", "database name (mongodb)")
	pf.String("data-file", "", "JSON dataset for the memory database")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json or text")
	pf.Bool("cache", false, "enable the result cache")
	pf.Bool("soft-delete", false, "hide soft-deleted rows by default")
	pf.String("webhook-url", "", "POST every result to this URL")
	pf.Bool("metrics", false, "attach timing metrics to results")
	pf.Duration("slow-query", 0, "slow query threshold")
	pf.String("default-sort", "", "sort field used when a request has none")

	rootCmd.AddCommand(
		a.queryCommand(),
		a.countCommand(),
		a.aggregateCommand(),
		a.groupByCommand(),
		a.exportCommand(),
		a.batchCommand(),
		a.presetsCommand(),
		a.cacheCommand(),
		a.healthCommand(),
		a.configCommand(),
		versionCommand(a),
	)
	return rootCmd
}

// loadConfig resolves configuration with precedence flags > env > file >
// defaults and builds the logger. Logs go to the command's stderr.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	cfg, err := a.loader(cmd.Flags()).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(strings.ToLower(cfg.Observability.LogLevel)),
		Format: logger.LogFormat(strings.ToLower(cfg.Observability.LogFormat)),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	if strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", redact(*cfg)))
	}
	return cfg, log, nil
}

func (a *app) loader(flags *pflag.FlagSet) *config.ViperLoader {
	loader := config.NewViperLoader(a.cfgPath, EnvPrefix)
	for name, key := range flagKeys {
		loader.WithFlag(key, flags.Lookup(name))
	}
	return loader
}

// withRuntime runs fn against a fully wired runtime and releases it after.
func (a *app) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) (err error) {
	cfg, log, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.ContextWithRequestID(ctx, uuid.NewString())
	log = log.WithContext(ctx)

	rt, err := NewRuntime(ctx, cfg, log, a.scopes)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("runtime shutdown failed", "error", cerr)
		}
	}()

	if err := fn(ctx, rt); err != nil {
		return err
	}
	return a.writeMetrics(rt)
}

func versionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.write(cmd.OutOrStdout(), version.Current())
		},
	}
}

// Execute runs the command until it completes or the process is signaled,
// and exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, query.ErrInvalidArgument), errors.Is(err, query.ErrNotFound):
		return 2
	default:
		return 1
	}
}
