package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/websyro/prismapilot/pkg/batch"
	"github.com/websyro/prismapilot/pkg/export"
	"github.com/websyro/prismapilot/pkg/preset"
	"github.com/websyro/prismapilot/pkg/query"
)

func (a *app) queryCommand() *cobra.Command {
	var (
		presetName  string
		presetsFile string
		sets        []string
	)
	cmd := &cobra.Command{
		Use:   "query [request.json]",
		Short: "Run a list request and print the response envelope",
		Long: "Run a list request read from a JSON file (or stdin) and print {data, meta}.\n" +
			"With --preset the request is loaded from --presets-file and --set overrides\n" +
			"replace whole top-level keys, e.g. --set limit=5 --set 'filters={\"status\":\"draft\"}'.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if presetName != "" && len(args) > 0 {
				return query.InvalidArgument("a request file and --preset are mutually exclusive")
			}
			var req query.Request
			if presetName == "" {
				if err := readInput(cmd, args, &req); err != nil {
					return err
				}
			}
			overrides, err := parseOverrides(sets)
			if err != nil {
				return err
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				var (
					resp *query.Response
					err  error
				)
				if presetName != "" {
					registry, lerr := loadPresets(presetsFile)
					if lerr != nil {
						return lerr
					}
					resp, err = registry.Execute(ctx, rt.Runner, presetName, overrides)
				} else {
					if len(overrides) > 0 {
						if req, err = preset.Merge(req, overrides); err != nil {
							return err
						}
					}
					resp, err = rt.Runner.Run(ctx, req)
				}
				if err != nil {
					return err
				}
				return a.write(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&presetName, "preset", "", "run the named preset")
	cmd.Flags().StringVar(&presetsFile, "presets-file", "presets.yaml", "YAML or JSON file of named presets")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override a top-level request key (key=json)")
	return cmd
}

func parseOverrides(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, query.InvalidArgument("override %q must be key=value", s)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// bare words are strings
			v = raw
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}

func loadPresets(path string) (*preset.Registry, error) {
	registry := preset.NewRegistry()
	if err := registry.LoadFile(path); err != nil {
		return nil, err
	}
	return registry, nil
}

func (a *app) countCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count [request.json]",
		Short: "Count the rows matching a request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req query.Request
			if err := readInput(cmd, args, &req); err != nil {
				return err
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				scoped, err := rt.Scoped(ctx, req)
				if err != nil {
					return err
				}
				total, err := rt.Engine.Count(ctx, scoped)
				if err != nil {
					return err
				}
				return a.write(cmd.OutOrStdout(), map[string]any{"model": req.Model, "total": total})
			})
		},
	}
}

type aggregateInput struct {
	query.Request
	Aggregations query.Aggregations `json:"aggregations"`
}

func (a *app) aggregateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [request.json]",
		Short: "Compute sum, avg, min, max or count over matching rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in aggregateInput
			if err := readInput(cmd, args, &in); err != nil {
				return err
			}
			if len(in.Aggregations) == 0 {
				return query.InvalidArgument("aggregations are required")
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				scoped, err := rt.Scoped(ctx, in.Request)
				if err != nil {
					return err
				}
				aggs, err := rt.Engine.Aggregate(ctx, scoped, in.Aggregations)
				if err != nil {
					return err
				}
				return a.write(cmd.OutOrStdout(), aggs)
			})
		},
	}
}

func (a *app) groupByCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "group-by [request.json]",
		Short: "Group matching rows and aggregate each group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req query.GroupByRequest
			if err := readInput(cmd, args, &req); err != nil {
				return err
			}
			if len(req.By) == 0 {
				return query.InvalidArgument("by is required")
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				scoped, err := rt.Scoped(ctx, req.Request)
				if err != nil {
					return err
				}
				req.Request = scoped
				rows, err := rt.Engine.GroupBy(ctx, req)
				if err != nil {
					return err
				}
				if rows == nil {
					rows = []query.Record{}
				}
				return a.write(cmd.OutOrStdout(), rows)
			})
		},
	}
}

func (a *app) exportCommand() *cobra.Command {
	var (
		format  string
		maxRows int
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export [request.json]",
		Short: "Run a request and export its rows as CSV or JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return query.InvalidArgument("unsupported --format %q (must be csv or json)", format)
			}
			var req query.Request
			if err := readInput(cmd, args, &req); err != nil {
				return err
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				var (
					out []byte
					err error
				)
				if format == "csv" {
					out, err = export.QueryCSV(ctx, rt.Runner, req, maxRows)
				} else {
					out, err = export.QueryJSON(ctx, rt.Runner, req, maxRows, a.pretty)
				}
				if err != nil {
					return err
				}
				if outPath != "" {
					return os.WriteFile(outPath, out, 0o644)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv or json")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "row cap used as the request limit")
	cmd.Flags().StringVar(&outPath, "out", "", "write the export to this file instead of stdout")
	return cmd
}

func (a *app) batchCommand() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch [requests.json]",
		Short: "Run named requests concurrently",
		Long:  "Run a JSON object of named requests concurrently and print the responses by name.\nThe first failing request fails the batch.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqs map[string]query.Request
			if err := readInput(cmd, args, &reqs); err != nil {
				return err
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				results, err := batch.Run(ctx, rt.Runner, reqs, batch.Options{Concurrency: concurrency, Logger: rt.Log})
				if err != nil {
					return err
				}
				return a.write(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum requests in flight (0 for no limit)")
	return cmd
}

func (a *app) presetsCommand() *cobra.Command {
	var presetsFile string
	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect saved request presets",
	}
	presetsCmd.PersistentFlags().StringVar(&presetsFile, "presets-file", "presets.yaml", "YAML or JSON file of named presets")

	presetsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List preset names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadPresets(presetsFile)
			if err != nil {
				return err
			}
			return a.write(cmd.OutOrStdout(), registry.Names())
		},
	})
	presetsCmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a preset request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadPresets(presetsFile)
			if err != nil {
				return err
			}
			req, err := registry.Load(args[0])
			if err != nil {
				return err
			}
			return a.write(cmd.OutOrStdout(), req)
		},
	})
	return presetsCmd
}

func (a *app) cacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Result cache management",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				if rt.Cache == nil {
					return query.InvalidArgument("cache is not enabled")
				}
				if err := rt.Cache.Clear(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				rt.Log.Info("cache cleared", "type", rt.Config.Cache.Type)
				return nil
			})
		},
	})
	return cacheCmd
}

func (a *app) configCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.loader(cmd.Flags()).Load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loader(cmd.Flags()).Load()
			if err != nil {
				return err
			}
			return a.write(cmd.OutOrStdout(), redact(*cfg))
		},
	})
	return configCmd
}

func (a *app) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured database and cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				report := rt.Health.Check(ctx)
				if err := a.write(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Healthy() {
					return fmt.Errorf("health check failed: %s", report.Status)
				}
				return nil
			})
		},
	}
}
