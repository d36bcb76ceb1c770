package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/release-engineering/odcs/internal/expirer"
	"github.com/release-engineering/odcs/internal/koji"
	"github.com/release-engineering/odcs/internal/mbs"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/notify"
	"github.com/release-engineering/odcs/internal/odcsconfig"
	"github.com/release-engineering/odcs/internal/pulp"
	"github.com/release-engineering/odcs/internal/resolver"
	"github.com/release-engineering/odcs/internal/reuseindex"
	"github.com/release-engineering/odcs/internal/scheduler"
	"github.com/release-engineering/odcs/internal/store"
	"github.com/release-engineering/odcs/internal/toolconfig"
	"github.com/release-engineering/odcs/internal/toolrunner"
	"github.com/release-engineering/odcs/internal/worker"
)

// runtime bundles every long-lived collaborator a serve/scheduler/expirer
// subcommand needs, built once from cfg.
type runtime struct {
	store     *store.PostgresStore
	recorder  *metrics.PrometheusRecorder
	registry  *prometheus.Registry
	notifier  *notify.Notifier
	clock     clockwork.Clock
	scheduler *scheduler.Scheduler
	expirer   *expirer.Expirer
}

// Close releases the database connection pool.
func (r *runtime) Close() {
	r.store.Close()
}

// basicAuthTransport attaches HTTP basic auth to every outgoing request,
// used for the Koji/MBS/Pulp collaborators when credentials are configured.
type basicAuthTransport struct {
	username, password string
	base                http.RoundTripper
}

func (t basicAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	req := r.Clone(r.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

func httpClientFor(svc odcsconfig.ServiceConfig) *http.Client {
	if svc.Username == "" {
		return http.DefaultClient
	}
	return &http.Client{Transport: basicAuthTransport{
		username: svc.Username,
		password: svc.Password,
		base:     http.DefaultTransport,
	}}
}

// buildRuntime wires every component from cfg, grounded on the teacher's
// cmd.newEngine() constructor-of-constructors pattern.
func buildRuntime(ctx context.Context) (*runtime, error) {
	st, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	kojiClient := koji.NewHTTPClient(cfg.Koji.BaseURL, httpClientFor(cfg.Koji))
	mbsClient := mbs.NewHTTPClient(cfg.MBS.BaseURL, httpClientFor(cfg.MBS))
	pulpClient := pulp.NewHTTPClient(cfg.Pulp.BaseURL, httpClientFor(cfg.Pulp))

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder()
	registry.MustRegister(recorder)

	notifier := notify.NewNotifier(logger)
	notifier.Register(notify.NewLogSink(logger))
	notifier.Register(notify.NewMetricsSink(recorder))

	clock := clockwork.NewRealClock()

	res := resolver.New(kojiClient, mbsClient)
	idx := reuseindex.New(st, kojiClient)
	runner := toolrunner.NewExecRunner(logger)

	w := worker.New(st, res, idx, pulpClient, runner, notifier, recorder, clock, logger, worker.Config{
		Release:        toolconfig.Release{Name: cfg.Release.Name, Short: cfg.Release.Short, Version: cfg.Release.Version},
		TargetDir:      cfg.Storage.TargetDir,
		TargetDirURL:   cfg.Storage.TargetDirURL,
		ToolBinary:     cfg.Tool.Binary,
		ToolTimeout:    cfg.Tool.Timeout,
		LookasideRepos: cfg.Tool.LookasideRepos,
		RawConfigRepo:  cfg.Tool.RawConfigRepo,
		WrapperConfig:  cfg.Tool.WrapperConfig,
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.ToolPoolSize = cfg.Tool.ToolPoolSize
	schedCfg.PulpPoolSize = cfg.Tool.PulpPoolSize
	sched := scheduler.New(st, w, clock, logger, recorder, schedCfg)

	expCfg := expirer.DefaultConfig()
	expCfg.TargetDir = cfg.Storage.TargetDir
	exp := expirer.New(st, notifier, clock, logger, recorder, expCfg)

	return &runtime{
		store:     st,
		recorder:  recorder,
		registry:  registry,
		notifier:  notifier,
		clock:     clock,
		scheduler: sched,
		expirer:   exp,
	}, nil
}
