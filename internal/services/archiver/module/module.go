// Package module wires the archiver service and exposes its ports
package module

import (
	"context"
	"errors"
	"fmt"

	"archiver/internal/adapters/reportapi"
	"archiver/internal/modkit"
	kitmod "archiver/internal/modkit/module"
	perr "archiver/internal/platform/errors"
	phttp "archiver/internal/platform/net/http"
	"archiver/internal/platform/store"

	"archiver/internal/services/archiver/consumer"
	"archiver/internal/services/archiver/domain"
	ahttp "archiver/internal/services/archiver/http"
	"archiver/internal/services/archiver/policy"
	"archiver/internal/services/archiver/repo"
	"archiver/internal/services/archiver/service"
)

// Module defines the archiver module
type Module struct {
	deps  modkit.Deps
	opts  Options
	svc   *service.Svc
	ports Ports
}

var _ kitmod.Module = (*Module)(nil)

// New validates opts and builds the backends, the report client, the
// consumer and the service
func New(deps modkit.Deps, opts Options) (*Module, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dates, err := policy.NewDateRange(opts.ForceDateRange, opts.DateLast)
	if err != nil {
		return nil, err
	}
	b, err := buildBackends(deps, opts)
	if err != nil {
		return nil, err
	}

	client := reportapi.NewClient(reportapi.Options{
		BaseURL:    opts.ReportURL,
		Token:      opts.ReportToken,
		Timeout:    opts.ReportTimeout,
		MaxRetries: opts.ReportMaxRetries,
	})
	b.Consumer = consumer.New(b.Queue, client, consumer.Options{
		Concurrency: opts.Concurrency,
		BatchSize:   opts.BatchSize,
		LeaseFor:    opts.LeaseFor,
		Poll:        opts.Poll,
	}, deps.Log)

	svc := service.New(b, service.Config{
		TTL:           policy.NewTTL(opts.TodayTTL, opts.PeriodsTTL, opts.ForceSince > 0),
		Dates:         dates,
		Periods:       opts.periods(),
		DisableDay:    opts.DisableDay,
		ForceAll:      opts.ForceAll,
		ForceSince:    opts.ForceSince,
		DefaultWindow: opts.DefaultWindow,
		Include:       siteIDs(opts.Include),
		Skip:          siteIDs(opts.Skip),
		Filter:        opts.Filter,
	}, deps.Log)

	return &Module{
		deps:  deps,
		opts:  opts,
		svc:   svc,
		ports: Ports{Runner: svc, Status: svc},
	}, nil
}

func buildBackends(deps modkit.Deps, opts Options) (service.Backends, error) {
	var b service.Backends
	needPG := func(what string) error {
		if deps.PG == nil {
			return perr.Configurationf("%s backend pg needs SERVICE_PGSQL_DBURL", what)
		}
		return nil
	}
	needRedis := func(what string) error {
		if deps.RDS == nil {
			return perr.Configurationf("%s backend redis needs SERVICE_REDIS_ADDR", what)
		}
		return nil
	}

	switch opts.QueueBackend {
	case BackendPostgres:
		if err := needPG("queue"); err != nil {
			return b, err
		}
		b.Queue = repo.NewPGQueue(deps.PG)
	case BackendRedis:
		if err := needRedis("queue"); err != nil {
			return b, err
		}
		b.Queue = repo.NewRedisQueue(deps.RDS, opts.Namespace)
	default:
		b.Queue = repo.NewMemoryQueue()
	}

	switch opts.CountersBackend {
	case BackendPostgres:
		if err := needPG("counters"); err != nil {
			return b, err
		}
		b.Counters = repo.NewPGCounters(deps.PG, opts.Namespace)
	case BackendRedis:
		if err := needRedis("counters"); err != nil {
			return b, err
		}
		b.Counters = repo.NewRedisCounters(deps.RDS, opts.Namespace)
	default:
		b.Counters = repo.NewMemoryCounters()
	}

	switch opts.ProgressBackend {
	case BackendPostgres:
		if err := needPG("progress"); err != nil {
			return b, err
		}
		b.Progress = repo.NewPGProgress(deps.PG)
	default:
		b.Progress = repo.NewMemoryProgress()
	}

	var sites repo.Repo
	switch opts.SitesBackend {
	case BackendPostgres:
		if err := needPG("sites"); err != nil {
			return b, err
		}
		sites = pgRepo(deps)
	default:
		sites = repo.NewMemorySites()
	}
	b.Sites = sites
	b.Invalidations = sites
	b.Segments = configuredSegments{src: sites, extra: opts.Segments}

	switch opts.VisitsBackend {
	case BackendCH:
		if deps.CH == nil {
			return b, perr.Configurationf("visits backend ch needs SERVICE_CH_DSN")
		}
		b.Visits = repo.NewCHVisits(deps.CH, opts.VisitsTable)
	case BackendPostgres:
		if err := needPG("visits"); err != nil {
			return b, err
		}
		b.Visits = pgRepo(deps)
	default:
		b.Visits = sites
	}
	return b, nil
}

func pgRepo(deps modkit.Deps) repo.Repo { return repo.NewPG().Bind(deps.PG) }

// Name returns the module name
func (m *Module) Name() string { return "archiver" }

// Ports returns the module ports (Runner, Status)
func (m *Module) Ports() any { return m.ports }

// Options returns the validated options the module was built with
func (m *Module) Options() Options { return m.opts }

// MountRoutes mounts the status endpoints
func (m *Module) MountRoutes(r phttp.Router) {
	ahttp.Register(r, m.svc, m.Health)
}

// Health pings every backend the module was given
func (m *Module) Health(ctx context.Context) error {
	var errs []error
	if p, ok := m.deps.PG.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pg: %w", err))
		}
	}
	if p, ok := m.deps.CH.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ch: %w", err))
		}
	}
	if m.deps.RDS != nil {
		if err := m.deps.RDS.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Migrate creates the postgres tables; a no-op without postgres
func (m *Module) Migrate(ctx context.Context) error {
	if m.deps.PG == nil {
		return nil
	}
	return repo.Migrate(ctx, m.deps.PG)
}

// Run is a shortcut for Ports().Runner.Run
func (m *Module) Run(ctx context.Context, opt domain.RunOptions) (domain.RunSnapshot, error) {
	return m.svc.Run(ctx, opt)
}
