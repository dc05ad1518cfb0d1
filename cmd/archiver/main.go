package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "time/tzdata"

	"archiver/internal/modkit"
	"archiver/internal/modkit/module"
	"archiver/internal/platform/config"
	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/logger"
	"archiver/internal/platform/metrics"
	phttp "archiver/internal/platform/net/http"
	"archiver/internal/platform/store"

	"archiver/internal/services/archiver/domain"
	archmod "archiver/internal/services/archiver/module"
	"archiver/internal/services/archiver/schedule"
	"archiver/internal/services/archiver/service"
)

// parseIDs reads a comma-separated id list; nil means the flag was unset
func parseIDs(label, v string) ([]int64, error) {
	if v == "" {
		return nil, nil
	}
	var out []int64
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, perr.InvalidArgf("bad -%s value %q", label, p)
		}
		out = append(out, id)
	}
	return out, nil
}

func main() { os.Exit(run()) }

func run() int {
	if err := config.Load(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		return 2
	}
	logger.Init(logger.FromEnv())
	l := logger.Get()
	root := config.New()

	var (
		fMode       = flag.String("mode", "run", "archiver mode: run | worker | daemon")
		fMigrate    = flag.Bool("migrate", false, "create postgres tables before starting")
		fInclude    = flag.String("include", "", "comma-separated site ids to archive (skips selection)")
		fSkip       = flag.String("skip", "", "comma-separated site ids to never archive")
		fForceAll   = flag.Bool("force-all", false, "archive every site and redo periods regardless of TTL")
		fSince      = flag.Duration("force-since", 0, "archive sites with visits in this window and ignore TTLs")
		fRange      = flag.String("force-date-range", "", "use YYYY-MM-DD,YYYY-MM-DD as the date of every job")
		fLast       = flag.Int("date-last", 0, "use lastN as the date of every job")
		fPeriods    = flag.String("periods", "", "comma-separated periods to archive (week,month,year)")
		fNoDay      = flag.Bool("disable-day", false, "skip day jobs, archive periods only")
		fConc       = flag.Int("concurrency", 0, "concurrent report requests")
		fCron       = flag.String("cron", "", "daemon schedule, e.g. @hourly or 0 */15 * * * *")
		fStatusAddr = flag.String("status-addr", "", "daemon status server address")
	)
	flag.Parse()

	include, err := parseIDs("include", *fInclude)
	if err != nil {
		l.Error().Err(err).Msg("invalid flags")
		return 2
	}
	skip, err := parseIDs("skip", *fSkip)
	if err != nil {
		l.Error().Err(err).Msg("invalid flags")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.ConfigFromEnv(root, "archiver"), store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	// Env first, flags override
	opts := archmod.FromConfig(root)
	if include != nil {
		opts.Include = include
	}
	if skip != nil {
		opts.Skip = skip
	}
	if *fForceAll {
		opts.ForceAll = true
	}
	if *fSince > 0 {
		opts.ForceSince = *fSince
	}
	if *fRange != "" {
		opts.ForceDateRange = *fRange
	}
	if *fLast > 0 {
		opts.DateLast = *fLast
	}
	if *fPeriods != "" {
		opts.Periods = strings.Split(*fPeriods, ",")
		for i := range opts.Periods {
			opts.Periods[i] = strings.TrimSpace(opts.Periods[i])
		}
	}
	if *fNoDay {
		opts.DisableDay = true
	}
	if *fConc > 0 {
		opts.Concurrency = *fConc
	}
	if *fCron != "" {
		opts.Cron = *fCron
	}
	if *fStatusAddr != "" {
		opts.StatusAddr = *fStatusAddr
	}

	am, err := archmod.New(modkit.FromStore(*l, root, st), opts)
	if err != nil {
		l.Error().Err(err).Str("field", perr.WireFrom(err).Field).Msg("invalid archiver options")
		return 2
	}
	module.Register(am.Name(), am.Ports())
	ports := module.MustPortsOf[archmod.Ports](am)

	if *fMigrate {
		if err := am.Migrate(ctx); err != nil {
			l.Error().Err(err).Msg("migrate failed")
			return 1
		}
		l.Info().Msg("schema ready")
	}

	switch *fMode {
	case "run":
		return runOnce(ctx, ports.Runner, domain.RunOptions{Seed: true, FinishWhenNoJobs: true})

	case "worker":
		// drain whatever other machines enqueue, until interrupted
		return runOnce(ctx, ports.Runner, domain.RunOptions{Seed: false, FinishWhenNoJobs: false})

	case "daemon":
		metrics.Init()
		srv := phttp.NewServer(phttp.ServerOptions{Addr: opts.StatusAddr, SlowRequest: time.Second})
		am.MountRoutes(srv.Router())
		go func() {
			if err := srv.Run(ctx); err != nil {
				l.Error().Err(err).Msg("status server stopped")
			}
		}()

		sched, err := schedule.New(opts.Cron, func(ctx context.Context) error {
			_, err := ports.Runner.Run(ctx, domain.RunOptions{Seed: true, FinishWhenNoJobs: true})
			return err
		}, *l, schedule.RunOnStart())
		if err != nil {
			l.Error().Err(err).Str("cron", opts.Cron).Msg("invalid schedule")
			return 2
		}
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("scheduler failed")
			return 1
		}
		return 0

	default:
		l.Error().Str("mode", *fMode).Msg("unknown -mode (expected: run | worker | daemon)")
		return 2
	}
}

// runOnce performs one run and turns its outcome into an exit code
func runOnce(ctx context.Context, runner domain.RunnerPort, opt domain.RunOptions) int {
	snap, err := runner.Run(ctx, opt)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Get().Warn().Str("run_id", snap.RunID).Msg("run interrupted; the queue is left for the next run")
		return 0
	case perr.IsCode(err, perr.ErrorCodeRun):
		for _, line := range service.SummaryLines(snap, time.Now()) {
			fmt.Fprintln(os.Stderr, line)
		}
		for _, e := range snap.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
		return 1
	default:
		logger.Get().Error().Err(err).Msg("run failed")
		return 1
	}
}
