package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	kafkaadapter "github.com/couchcryptid/crime-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/crime-data-service/internal/adapter/mapbox"
	"github.com/couchcryptid/crime-data-service/internal/anomaly"
	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Create the database schema",
		GroupID: "data",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(); err != nil {
				return err
			}
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "schema ready (%s)\n", e.cfg.DatabaseDriver)
			return nil
		},
	}
}

func newIngestCmd(e *env) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:     "ingest <file.csv>",
		Short:   "Load a crime export as a new dataset",
		GroupID: "data",
		Example: `  crimectl ingest crimes_2024.csv
  crimectl ingest export.csv --name "LAPD 2024 Q1"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.load(); err != nil {
				return err
			}
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[0])
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var geocoder domain.Geocoder
			if e.cfg.MapboxEnabled {
				client := mapbox.NewClient(e.cfg.MapboxToken, e.cfg.MapboxTimeout, e.metrics, e.logger)
				cached, err := mapbox.NewCachedGeocoder(client, e.cfg.MapboxCacheSize, e.metrics)
				if err != nil {
					return err
				}
				geocoder = cached
			}
			publisher, closePublisher := e.publisher()
			defer closePublisher()

			p := pipeline.New(store, pipeline.NewTransformer(geocoder, e.logger), publisher,
				clockwork.NewRealClock(), e.logger, e.metrics, e.cfg.BatchSize)
			res, err := p.Ingest(ctx, f, name)
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "dataset %d (%s): %d rows read, %d filtered, %d inserted, %d geocoded\n",
				res.Dataset.ID, name, res.RowsRead, res.RowsFiltered, res.RowsInserted, res.Geocoded)
			for col, n := range res.NullCounts {
				fmt.Fprintf(e.out, "  %s: %d values stored as null\n", col, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dataset name (defaults to the file name)")
	return cmd
}

func newDetectCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "detect <dataset-id>",
		Short:   "Run anomaly detection and print the report as JSON",
		GroupID: "data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dataset id %q", args[0])
			}
			if err := e.load(); err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			publisher, closePublisher := e.publisher()
			defer closePublisher()

			report, err := anomaly.NewDetector(store, publisher, clockwork.NewRealClock(), e.logger, e.metrics).Detect(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(e.out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

// publisher returns the Kafka publisher when events are enabled, or nil.
func (e *env) publisher() (domain.EventPublisher, func()) {
	if !e.cfg.KafkaEnabled {
		return nil, func() {}
	}
	p := kafkaadapter.NewPublisher(e.cfg, e.logger, e.metrics)
	return p, func() {
		if err := p.Close(); err != nil {
			e.logger.Warn("kafka publisher close error", "error", err)
		}
	}
}
