package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vulnharvest/internal/config"
	dbRedis "github.com/kailas-cloud/vulnharvest/internal/db/redis"
	"github.com/kailas-cloud/vulnharvest/internal/metrics"
	auditrepo "github.com/kailas-cloud/vulnharvest/internal/repository/audit"
	vulnrepo "github.com/kailas-cloud/vulnharvest/internal/repository/vulnerability"
	"github.com/kailas-cloud/vulnharvest/internal/source"
	"github.com/kailas-cloud/vulnharvest/internal/source/exploitdb"
	"github.com/kailas-cloud/vulnharvest/internal/source/fetch"
	"github.com/kailas-cloud/vulnharvest/internal/source/ghfeed"
	"github.com/kailas-cloud/vulnharvest/internal/source/ghsa"
	"github.com/kailas-cloud/vulnharvest/internal/source/news"
	"github.com/kailas-cloud/vulnharvest/internal/source/nvd"
	"github.com/kailas-cloud/vulnharvest/internal/source/osv"
	"github.com/kailas-cloud/vulnharvest/internal/source/pypi"
	"github.com/kailas-cloud/vulnharvest/internal/source/snyk"
	"github.com/kailas-cloud/vulnharvest/internal/store/postgres"
	cataloguc "github.com/kailas-cloud/vulnharvest/internal/usecase/catalog"
	harvestuc "github.com/kailas-cloud/vulnharvest/internal/usecase/harvest"
	healthuc "github.com/kailas-cloud/vulnharvest/internal/usecase/health"
	"github.com/kailas-cloud/vulnharvest/internal/usecase/reconcile"
)

// vulnStore is what both the reconciler and the catalog need from storage.
type vulnStore interface {
	reconcile.Store
	cataloguc.VulnerabilityRepository
}

// auditStore is what both the harvest service and the catalog need from storage.
type auditStore interface {
	harvestuc.AuditStore
	cataloguc.AuditRepository
}

type storage struct {
	vulns  vulnStore
	audits auditStore
	pinger healthuc.DBPinger
}

type services struct {
	registry *source.Registry
	harvest  *harvestuc.Service
	catalog  *cataloguc.Service
	health   *healthuc.Service
}

// build is the composition root shared by serve and search.
func (a *app) build(ctx context.Context) (*services, error) {
	metrics.RegisterHarvestMetrics()

	registry, err := buildRegistry(a.cfg.Sources)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Sources registered", zap.Strings("sources", registry.Names()))

	st, closer, err := openStorage(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)

	engine := harvestuc.NewEngine(registry, harvestuc.EngineConfig{
		MaxWorkers: a.cfg.Harvest.MaxWorkers,
		Timeout:    time.Duration(a.cfg.Harvest.TimeoutSec) * time.Second,
	}, a.logger.Named("engine"))
	reconciler := reconcile.New(st.vulns, a.logger.Named("reconcile"))

	return &services{
		registry: registry,
		harvest:  harvestuc.NewService(engine, st.audits, reconciler, a.logger.Named("harvest")),
		catalog:  cataloguc.New(st.vulns, st.audits, a.cfg.Catalog.DefaultPageSize, a.cfg.Catalog.MaxPageSize),
		health:   healthuc.New(st.pinger, registry),
	}, nil
}

// openStorage connects the configured driver and returns its repositories.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage, io.Closer, error) {
	readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second

	switch cfg.Database.Driver {
	case config.DriverRedis, config.DriverValkey:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return storage{}, nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
		}
		if err := store.WaitForReady(ctx, readiness); err != nil {
			store.Close()
			return storage{}, nil, fmt.Errorf("database not ready: %w", err)
		}
		logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)
		return storage{
			vulns:  vulnrepo.New(store, cfg.Storage.KeyPrefix),
			audits: auditrepo.New(store, cfg.Storage.KeyPrefix),
			pinger: store,
		}, closerFunc(store.Close), nil

	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, readiness)
		defer cancel()
		pool, err := postgres.Connect(connectCtx, cfg.Database.DSN)
		if err != nil {
			return storage{}, nil, err
		}
		pg, err := postgres.New(connectCtx, pool, logger)
		if err != nil {
			pool.Close()
			return storage{}, nil, err
		}
		if err := pg.Migrate(connectCtx); err != nil {
			pool.Close()
			return storage{}, nil, err
		}
		logger.Info("Connected to database", zap.String("driver", cfg.Database.Driver))
		return storage{
			vulns:  pg.Vulnerabilities(),
			audits: pg.Audits(),
			pinger: pg,
		}, closerFunc(pool.Close), nil
	}
	return storage{}, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// buildRegistry registers every adapter, or only those named in cfg.Enabled.
func buildRegistry(cfg config.SourcesConfig) (*source.Registry, error) {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	f := fetch.New(fetch.Config{
		UserAgent:     cfg.UserAgent,
		Timeout:       timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	})
	// news sites are scraped politely regardless of the shared limit
	newsFetch := fetch.New(fetch.Config{
		UserAgent:     cfg.UserAgent,
		Timeout:       timeout,
		RatePerSecond: cfg.News.RatePerSecond,
		Burst:         1,
	})

	advisories, err := ghsa.New(ghsa.Config{BaseURL: cfg.GitHub.BaseURL, Token: cfg.GitHub.Token}, f.HTTPClient())
	if err != nil {
		return nil, fmt.Errorf("github advisories: %w", err)
	}

	sites := make([]news.Site, len(cfg.News.Sites))
	for i, s := range cfg.News.Sites {
		sites[i] = news.Site{Name: s.Name, SearchURL: s.SearchURL}
	}

	osvCfg := osv.Config{BaseURL: cfg.OSV.BaseURL, Ecosystems: cfg.OSV.Ecosystems, MaxPages: cfg.OSV.MaxPages}
	pypiOSV := osvCfg
	pypiOSV.Ecosystems = []string{"PyPI"}

	all := []source.Adapter{
		nvd.New(nvd.Config{BaseURL: cfg.NVD.BaseURL, APIKey: cfg.NVD.APIKey, MaxPages: cfg.NVD.MaxPages}, f),
		osv.New(osvCfg, f),
		advisories,
		ghfeed.New(ghfeed.Config{FeedURL: cfg.GitHub.FeedURL}, f),
		snyk.New(snyk.Config{BaseURL: cfg.Snyk.BaseURL}, f),
		exploitdb.New(exploitdb.Config{SearchURL: cfg.ExploitDB.SearchURL}, f),
		pypi.New(osv.New(pypiOSV, f)),
		news.New(news.Config{Sites: sites, MaxArticles: cfg.News.MaxArticles}, newsFetch),
	}

	enabled := make([]string, len(cfg.Enabled))
	for i, name := range cfg.Enabled {
		enabled[i] = strings.ToUpper(strings.TrimSpace(name))
	}

	registry := source.NewRegistry()
	for _, adapter := range all {
		if len(enabled) > 0 && !slices.Contains(enabled, adapter.Name()) {
			continue
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	for _, name := range enabled {
		if !slices.Contains(registry.Names(), name) {
			return nil, fmt.Errorf("sources.enabled: unknown source %q", name)
		}
	}
	return registry, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
