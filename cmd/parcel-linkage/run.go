package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parcel-linkage/internal/cache"
	"github.com/parcel-linkage/internal/control"
	"github.com/parcel-linkage/internal/db"
	"github.com/parcel-linkage/internal/geocode"
	"github.com/parcel-linkage/internal/logger"
	"github.com/parcel-linkage/internal/metrics"
	"github.com/parcel-linkage/internal/orchestrator"
	"github.com/parcel-linkage/internal/pipeline"
	"github.com/parcel-linkage/internal/report"
	"github.com/parcel-linkage/internal/source"
	"github.com/parcel-linkage/internal/store"
)

func createRunCmd() *cobra.Command {
	var (
		only   []string
		yes    bool
		dryRun bool
		fresh  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline over the municipalities in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Named("run")

			manifest, err := source.LoadManifest(cfg.Paths.Manifest)
			if err != nil {
				return err
			}
			munis, err := selectMunicipalities(manifest, only)
			if err != nil {
				return err
			}

			conn, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			m := metrics.New(nil)
			geocodeCache, err := cache.Open[geocode.Result](
				filepath.Join(cfg.Paths.CacheDir, "geocode.jsonl"),
				cache.WithFlushEvery(cfg.Geocoder.FlushEvery),
				cache.WithLogger(logger.Named("cache")),
			)
			if err != nil {
				return err
			}
			defer geocodeCache.Flush()

			if manifest.Region != "" {
				cfg.Geocoder.Region = manifest.Region
			}
			geocoder := geocode.NewFromConfig(cfg.Geocoder, geocodeCache, logger.Named("geocode"), m)

			pg := store.NewPostgresStore(conn.DB)
			writer := store.NewWriter(pg, store.WriterOptions{
				BatchSize: cfg.Batch.WriteBatchSize,
				DryRun:    dryRun,
				Logger:    logger.Named("writer"),
				Metrics:   m,
			})

			opt := pipeline.OptionsFromConfig(cfg)
			opt.DryRun = dryRun
			opt.Debug = debugMode
			opt.Logger = logger.Named("pipeline")
			opt.Metrics = m
			runner := pipeline.NewRunner(manifest, geocoder, pg, writer, opt)

			controlCfg := cfg.Control
			if yes {
				controlCfg.Mode = "auto"
			}
			gate, err := control.New(controlCfg, m.Registry, logger.Named("control"))
			if err != nil {
				return err
			}
			var servers []*control.Server
			hg, httpGate := gate.(*control.HTTPGate)
			if httpGate {
				servers = append(servers, hg.Server)
			}
			if addr := cfg.Metrics.Listen; addr != "" && !(httpGate && addr == hg.Addr()) {
				servers = append(servers, control.NewServer(addr, m.Registry, logger.Named("metrics")))
			}
			for _, srv := range servers {
				go func(srv *control.Server) {
					if err := srv.Serve(ctx); err != nil {
						log.Error().Err(err).Str("addr", srv.Addr()).Msg("http server stopped")
					}
				}(srv)
			}

			orch := orchestrator.New(runner, gate, orchestrator.Options{
				BatchSize:      cfg.Batch.MunicipalitiesPerBatch,
				CheckpointPath: cfg.Paths.Checkpoint,
				Fresh:          fresh,
				Logger:         logger.Named("orchestrator"),
				Metrics:        m,
			})

			log.Info().Int("municipalities", len(munis)).Bool("dry_run", dryRun).Msg("starting run")
			res, err := orch.Run(ctx, munis)
			if res != nil {
				report.Render(os.Stdout, res)
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the run to these municipalities")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every batch without waiting")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "match and report without writing")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore any saved checkpoint")
	return cmd
}

func selectMunicipalities(m *source.Manifest, only []string) ([]source.Municipality, error) {
	if len(only) == 0 {
		return m.Municipalities, nil
	}
	var out []source.Municipality
	var unknown []string
	for _, name := range only {
		mu, ok := m.Find(strings.TrimSpace(name))
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, mu)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("not in manifest: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
