package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tracecore/internal/adapters/archive"
	"tracecore/internal/adapters/traceapi"
	"tracecore/internal/blob"
	"tracecore/internal/core"
	"tracecore/internal/infra/cache/redis"
	"tracecore/internal/infra/graph/neo4j"
	"tracecore/internal/infra/persistence/fixture"
	"tracecore/internal/infra/persistence/memory"
	"tracecore/internal/infra/persistence/sqlstore"
	"tracecore/pkg/domain"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				handlerOpts := []traceapi.Option{
					traceapi.WithLogger(a.log),
					traceapi.WithRequestTimeout(a.cfg.Server.RequestTimeout),
				}
				if a.metrics != nil {
					handlerOpts = append(handlerOpts, traceapi.WithMetricsHandler(a.metrics))
				}
				blobs, err := blob.Open(ctx, a.cfg.BlobStore())
				if err != nil {
					return fmt.Errorf("open blob store: %w", err)
				}
				handlerOpts = append(handlerOpts, traceapi.WithArchiver(archive.NewExporter(blobs, archive.WithLogger(a.log))))

				addr := a.cfg.Server.Listen
				if listen != "" {
					addr = listen
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           traceapi.NewHandler(a.svc, handlerOpts...).Router(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() { errCh <- srv.ListenAndServe() }()
				a.log.Info("trace api listening", "addr", addr)

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				a.log.Info("shutting down trace api")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}

func newTraceCmd(opts *rootOptions) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "trace <forward|backward> <tlc>",
		Short: "Print a forward or backward trace as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := domain.ParseDirection(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := a.svc.Trace(ctx, args[1], dir, depthOption(depth)...)
				if err != nil {
					return err
				}
				return printJSON(opts.stdout, res)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "traversal depth (default trace.max_depth)")
	return cmd
}

func depthOption(depth int) []core.TraceOption {
	if depth == 0 {
		return nil
	}
	return []core.TraceOption{core.WithDepth(depth)}
}

func newStockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock <tlc>",
		Short: "Print the ledger stock breakdown of a lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				sb, err := a.svc.ComputeStock(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(opts.stdout, sb)
			})
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every lot and overwrite cached stock",
		Long: `reconcile recomputes each lot through the ledger and overwrites the
store's cached shipped and available quantities. When redis.addr is set the
Redis stock cache is refreshed as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				writers := []domain.StockCacheWriter{a.store}
				if a.cfg.Redis.Addr != "" {
					cache, err := redis.Open(ctx, redis.Options{
						Addr:     a.cfg.Redis.Addr,
						Password: a.cfg.Redis.Password,
						DB:       a.cfg.Redis.DB,
						TTL:      a.cfg.Redis.TTL,
					})
					if err != nil {
						return err
					}
					defer func() { _ = cache.Close() }()
					writers = append(writers, cache)
				}
				report, err := core.NewReconciler(a.svc, a.store, a.cfg.Reconcile.Concurrency, writers...).Run(ctx)
				if err != nil {
					return err
				}
				a.log.Info("reconciliation finished", "lots", report.Lots, "updated", report.Updated,
					"drifted", len(report.Drifted), "failed", len(report.Failed))
				return printJSON(opts.stdout, report)
			})
		},
	}
}

func newArchiveCmd(opts *rootOptions) *cobra.Command {
	var (
		depth   int
		formats string
	)
	cmd := &cobra.Command{
		Use:   "archive <forward|backward|stock> <tlc>",
		Short: "Store trace or stock snapshots in the blob store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := archive.ParseFormats(formats)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				blobs, err := blob.Open(ctx, a.cfg.BlobStore())
				if err != nil {
					return fmt.Errorf("open blob store: %w", err)
				}
				exporter := archive.NewExporter(blobs, archive.WithLogger(a.log))
				var artifacts []archive.Artifact
				if args[0] == "stock" {
					sb, err := a.svc.ComputeStock(ctx, args[1])
					if err != nil {
						return err
					}
					artifacts, err = exporter.ArchiveStock(ctx, sb, fs)
					if err != nil {
						return err
					}
				} else {
					dir, err := domain.ParseDirection(args[0])
					if err != nil {
						return err
					}
					res, err := a.svc.Trace(ctx, args[1], dir, depthOption(depth)...)
					if err != nil {
						return err
					}
					artifacts, err = exporter.ArchiveTrace(ctx, res, fs)
					if err != nil {
						return err
					}
				}
				return printJSON(opts.stdout, artifacts)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "traversal depth for trace archives")
	cmd.Flags().StringVar(&formats, "format", "", "comma separated formats: json,csv,xlsx (default all)")
	return cmd
}

func newProjectCmd(opts *rootOptions) *cobra.Command {
	var (
		depth     int
		direction string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "project <tlc>",
		Short: "Project a lot's genealogy into Neo4j",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := domain.ParseDirection(direction)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				g, err := a.svc.BuildGraph(ctx, args[0], dir, depth)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				if dryRun {
					return printJSON(opts.stdout, neo4j.BuildProjection(g, now))
				}
				if a.cfg.Neo4j.URI == "" {
					return fmt.Errorf("neo4j.uri is not configured")
				}
				projector, err := neo4j.Open(ctx, neo4j.Config{
					URI:      a.cfg.Neo4j.URI,
					User:     a.cfg.Neo4j.User,
					Password: a.cfg.Neo4j.Password,
					Database: a.cfg.Neo4j.Database,
				}, a.log)
				if err != nil {
					return err
				}
				defer func() { _ = projector.Close(context.WithoutCancel(ctx)) }()
				proj, err := projector.Project(ctx, g, now)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(opts.stdout, "projected %d lots, %d facilities, %d edges\n",
					len(proj.Lots), len(proj.Facilities), len(proj.Edges))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "traversal depth (default trace.max_depth)")
	cmd.Flags().StringVar(&direction, "direction", string(domain.Forward), "forward or backward")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the projection instead of writing it")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load a YAML fixture into the configured SQL store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := fixture.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				switch store := a.store.(type) {
				case *sqlstore.Store:
					stats, err := store.Seed(ctx, ds)
					if err != nil {
						return err
					}
					a.log.Info("fixture seeded", "path", args[0], "lots", stats.Lots, "events", stats.Events)
					return printJSON(opts.stdout, stats)
				case *memory.Store:
					return fmt.Errorf("seed has no effect on the memory driver; set storage.fixture_path instead")
				default:
					return fmt.Errorf("storage driver %s does not support seeding", a.cfg.Storage.Driver)
				}
			})
		},
	}
}
