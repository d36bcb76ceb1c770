package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/release-engineering/odcs/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API alongside the scheduler and expirer loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		ctx := cmd.Context()

		rt, err := buildRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		api := httpapi.New(rt.store, httpapi.Anonymous{}, nil, logger, httpapi.Config{
			TargetDir:    cfg.Storage.TargetDir,
			TargetDirURL: cfg.Storage.TargetDirURL,
			DefaultTTL:   cfg.Storage.DefaultSecondsToLive,
			MaxTTL:       cfg.Storage.MaxSecondsToLive,
		})

		rootMux := http.NewServeMux()
		rootMux.Handle("/composes", api)
		rootMux.Handle("/composes/", api)
		rootMux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

		httpSrv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: rootMux}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rt.scheduler.Run(gctx) })
		g.Go(func() error { return rt.expirer.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			return httpSrv.Shutdown(context.Background())
		})
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		u.Header("odcsd serving")
		u.Keyval("listen", cfg.HTTP.ListenAddr)
		u.Keyval("database", cfg.Database.DSN)
		u.Keyval("target_dir", cfg.Storage.TargetDir)

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
