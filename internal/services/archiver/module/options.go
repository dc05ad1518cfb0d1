package module

import (
	"time"

	"archiver/internal/platform/config"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/validate"
	"archiver/internal/services/archiver/domain"
	"archiver/internal/services/archiver/repo"
)

// Backend names accepted by the *_BACKEND options
const (
	BackendMemory   = "memory"
	BackendPostgres = "pg"
	BackendRedis    = "redis"
	BackendCH       = "ch"
)

// Options controls archiver behavior. Values come from ARCHIVER_* env and
// may be overridden by CLI flags
type Options struct {
	// TTLs; zero picks the defaults
	TodayTTL   time.Duration `env:"ARCHIVER_TODAY_TTL" validate:"min=0"`
	PeriodsTTL time.Duration `env:"ARCHIVER_PERIODS_TTL" validate:"min=0"`

	// Date expressions
	ForceDateRange string `env:"ARCHIVER_FORCE_DATE_RANGE" validate:"date_range"`
	DateLast       int    `env:"ARCHIVER_DATE_LAST" validate:"min=0,max=5000"`

	Periods    []string `env:"ARCHIVER_PERIODS" validate:"dive,oneof=week month year"`
	DisableDay bool     `env:"ARCHIVER_DISABLE_DAY"`

	Include  []int64  `env:"ARCHIVER_INCLUDE_SITES" validate:"dive,min=1"`
	Skip     []int64  `env:"ARCHIVER_SKIP_SITES"`
	Segments []string `env:"ARCHIVER_SEGMENTS"`

	ForceAll      bool          `env:"ARCHIVER_FORCE_ALL"`
	ForceSince    time.Duration `env:"ARCHIVER_FORCE_SINCE" validate:"min=0"`
	DefaultWindow time.Duration `env:"ARCHIVER_DEFAULT_WINDOW" validate:"min=0"`

	// Consumer pool
	Concurrency int           `env:"ARCHIVER_CONCURRENCY" validate:"min=1,max=256"`
	BatchSize   int           `env:"ARCHIVER_BATCH_SIZE" validate:"min=0"`
	LeaseFor    time.Duration `env:"ARCHIVER_LEASE" validate:"min=0"`
	Poll        time.Duration `env:"ARCHIVER_POLL" validate:"min=0"`

	// Backends
	QueueBackend    string `env:"ARCHIVER_QUEUE_BACKEND" validate:"oneof=memory pg redis"`
	CountersBackend string `env:"ARCHIVER_COUNTERS_BACKEND" validate:"oneof=memory pg redis"`
	ProgressBackend string `env:"ARCHIVER_PROGRESS_BACKEND" validate:"oneof=memory pg"`
	SitesBackend    string `env:"ARCHIVER_SITES_BACKEND" validate:"oneof=memory pg"`
	VisitsBackend   string `env:"ARCHIVER_VISITS_BACKEND" validate:"oneof=memory pg ch"`
	VisitsTable     string `env:"ARCHIVER_VISITS_TABLE" validate:"required"`
	Namespace       string `env:"ARCHIVER_NAMESPACE" validate:"required"`

	// Report API
	ReportURL        string        `env:"ARCHIVER_REPORT_URL" validate:"required,url"`
	ReportToken      string        `env:"ARCHIVER_REPORT_TOKEN"`
	ReportTimeout    time.Duration `env:"ARCHIVER_REPORT_TIMEOUT" validate:"min=0"`
	ReportMaxRetries int           `env:"ARCHIVER_REPORT_MAX_RETRIES"`

	// Daemon
	Cron       string `env:"ARCHIVER_CRON" validate:"cron_spec"`
	StatusAddr string `env:"ARCHIVER_STATUS_ADDR"`

	// Filter post-processes the selected site list; set by embedding programs
	Filter domain.SiteFilter `env:"-"`
}

// FromConfig reads options using the ARCHIVER_ prefix
func FromConfig(cfg config.Conf) Options {
	ac := cfg.Prefix("ARCHIVER_")
	return Options{
		TodayTTL:         ac.MayDuration("TODAY_TTL", 0),
		PeriodsTTL:       ac.MayDuration("PERIODS_TTL", 0),
		ForceDateRange:   ac.MayString("FORCE_DATE_RANGE", ""),
		DateLast:         ac.MayInt("DATE_LAST", 0),
		Periods:          ac.MayCSV("PERIODS", nil),
		DisableDay:       ac.MayBool("DISABLE_DAY", false),
		Include:          ac.MayIntCSV("INCLUDE_SITES", nil),
		Skip:             ac.MayIntCSV("SKIP_SITES", nil),
		Segments:         ac.MayCSV("SEGMENTS", nil),
		ForceAll:         ac.MayBool("FORCE_ALL", false),
		ForceSince:       ac.MayDuration("FORCE_SINCE", 0),
		DefaultWindow:    ac.MayDuration("DEFAULT_WINDOW", 24*time.Hour),
		Concurrency:      ac.MayInt("CONCURRENCY", 3),
		BatchSize:        ac.MayInt("BATCH_SIZE", 0),
		LeaseFor:         ac.MayDuration("LEASE", 10*time.Minute),
		Poll:             ac.MayDuration("POLL", 500*time.Millisecond),
		QueueBackend:     ac.MayString("QUEUE_BACKEND", BackendMemory),
		CountersBackend:  ac.MayString("COUNTERS_BACKEND", BackendMemory),
		ProgressBackend:  ac.MayString("PROGRESS_BACKEND", BackendMemory),
		SitesBackend:     ac.MayString("SITES_BACKEND", BackendMemory),
		VisitsBackend:    ac.MayString("VISITS_BACKEND", BackendMemory),
		VisitsTable:      ac.MayString("VISITS_TABLE", repo.DefaultVisitsTable),
		Namespace:        ac.MayString("NAMESPACE", repo.DefaultNamespace),
		ReportURL:        ac.MayString("REPORT_URL", ""),
		ReportToken:      ac.MayString("REPORT_TOKEN", ""),
		ReportTimeout:    ac.MayDuration("REPORT_TIMEOUT", 0),
		ReportMaxRetries: ac.MayInt("REPORT_MAX_RETRIES", 0),
		Cron:             ac.MayString("CRON", "@every 1h"),
		StatusAddr:       ac.MayString("STATUS_ADDR", ":8089"),
	}
}

// Validate checks option values; failures carry ErrorCodeConfiguration
// and the env name of the offending field
func (o Options) Validate() error {
	return validate.Struct(o, perr.ErrorCodeConfiguration)
}

func (o Options) periods() []domain.Granularity {
	if len(o.Periods) == 0 {
		return nil
	}
	out := make([]domain.Granularity, 0, len(o.Periods))
	for _, p := range o.Periods {
		if g, ok := domain.ParseGranularity(p); ok && g != domain.Day {
			out = append(out, g)
		}
	}
	return out
}

func siteIDs(in []int64) []domain.SiteID {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.SiteID, len(in))
	for i, id := range in {
		out[i] = domain.SiteID(id)
	}
	return out
}
