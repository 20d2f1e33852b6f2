package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/crime-data-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/crime-data-service/internal/config"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/spf13/cobra"
)

// env is the shared state of one CLI invocation.
type env struct {
	out     io.Writer
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}

	root := &cobra.Command{
		Use:   "crimectl",
		Short: "Crime data ingestion and anomaly detection tool",
		Long: `crimectl drives the crime data service without the HTTP API.

Database, geocoding, and event settings come from the same environment
variables as the server (DATABASE_DRIVER, DATABASE_URL, MAPBOX_TOKEN, ...).

Examples:
  crimectl migrate
  crimectl ingest crimes_2024.csv
  crimectl detect 3
  crimectl genmock -o synthetic.csv --seed 7 --hotspot 80`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "tools", Title: "Tool Commands:"},
	)

	root.AddCommand(
		newMigrateCmd(e),
		newIngestCmd(e),
		newDetectCmd(e),
		newGenmockCmd(e),
	)
	return root
}

// load reads configuration and builds the logger and metrics. The CLI exposes
// no scrape endpoint, so metrics stay off the default registry.
func (e *env) load() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg
	e.logger = observability.NewLogger(cfg)
	e.metrics = observability.NewUnregisteredMetrics()
	return nil
}

func (e *env) openStore(ctx context.Context) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(ctx, e.cfg.DatabaseDriver, e.cfg.DatabaseURL, e.cfg.DatabaseMaxOpenConns)
	if err != nil {
		return nil, err
	}
	if e.cfg.DatabaseAutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}
