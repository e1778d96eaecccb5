// Package executor selects and opens the query backend named by the database
// configuration.
package executor

import (
	"fmt"
	"io"
	"strings"

	"github.com/websyro/prismapilot/pkg/config"
	"github.com/websyro/prismapilot/pkg/executor/memory"
	"github.com/websyro/prismapilot/pkg/executor/sqlexec"
	"github.com/websyro/prismapilot/pkg/observability/logger"
	"github.com/websyro/prismapilot/pkg/query"
	"github.com/websyro/prismapilot/pkg/store/mongodb"
	"github.com/websyro/prismapilot/pkg/store/mysql"
	"github.com/websyro/prismapilot/pkg/store/postgres"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New opens the backend described by cfg. The returned closer releases its
// connections.
func New(cfg config.DatabaseConfig, log logger.Logger) (query.Executor, io.Closer, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.DatabaseTypeMemory:
		if cfg.DataFile == "" {
			return memory.New(), nopCloser{}, nil
		}
		exec, err := memory.NewFromFile(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		log.Info("memory dataset loaded", "file", cfg.DataFile, "models", exec.Models())
		return exec, nopCloser{}, nil
	case config.DatabaseTypePostgres:
		adapter, err := postgres.NewAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter.Executor(RelationOptions(cfg.Relations)...), adapter, nil
	case config.DatabaseTypeMySQL:
		adapter, err := mysql.NewAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter.Executor(RelationOptions(cfg.Relations)...), adapter, nil
	case config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:            cfg.URL,
			Database:       cfg.DatabaseName,
			MaxPoolSize:    uint64(max(cfg.MaxOpenConns, 0)),
			ConnectTimeout: cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter.Executor(), adapter, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database.type %q (supported: memory, postgres, mysql, mongodb)", cfg.Type)
	}
}

// RelationOptions turns configured relations into SQL executor options.
func RelationOptions(relations map[string]map[string]config.RelationConfig) []sqlexec.Option {
	var opts []sqlexec.Option
	for model, rels := range relations {
		for name, rel := range rels {
			opts = append(opts, sqlexec.WithRelation(model, name, sqlexec.Relation{
				Table:      rel.Table,
				LocalKey:   rel.LocalKey,
				ForeignKey: rel.ForeignKey,
			}))
		}
	}
	return opts
}
