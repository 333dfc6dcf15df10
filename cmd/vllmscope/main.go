// vllmscope follows a vLLM server's log file and Prometheus metrics, turns
// failures and health transitions into incidents, and reports them via ntfy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/setevik/vllmscope/internal/classifier"
	"github.com/setevik/vllmscope/internal/config"
	"github.com/setevik/vllmscope/internal/enricher"
	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/logtail"
	"github.com/setevik/vllmscope/internal/metrics"
	"github.com/setevik/vllmscope/internal/monitor"
	"github.com/setevik/vllmscope/internal/remote"
	"github.com/setevik/vllmscope/internal/reporter"
	"github.com/setevik/vllmscope/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "recent":
			runRecent(os.Args[2:])
			return
		case "filter":
			runFilter(os.Args[2:])
			return
		case "tail":
			runTail(os.Args[2:])
			return
		case "logfile":
			runLogfile(os.Args[2:])
			return
		case "metrics":
			runMetrics(os.Args[2:])
			return
		case "watch":
			runWatch(os.Args[2:])
			return
		case "query":
			runQuery(os.Args[2:])
			return
		case "digest":
			runDigest(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "test-ntfy":
			runTestNtfyCmd(os.Args[2:])
			return
		case "version":
			fmt.Println("vllmscope", version)
			return
		}
	}

	// Default: run daemon.
	runDaemon(os.Args[1:])
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("vllmscope", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println("vllmscope", version)
		os.Exit(0)
	}

	cfg := mustLoad(*configPath)
	setupLogging(cfg.Log.Level)

	slog.Info("vllmscope starting",
		"version", version,
		"instance", cfg.Instance.ID,
		"target", cfg.TargetName(),
		"log_path", cfg.Target.LogPath,
		"port", cfg.Target.Port,
	)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening event database: %w", err)
	}
	defer db.Close()

	slog.Info("event database opened", "path", cfg.DBPath())

	// Run retention purge on startup, then on schedule.
	purge(db, cfg.DB.Retention.Duration)
	sched := cron.New()
	if cfg.DB.Retention.Duration > 0 && cfg.DB.PurgeSchedule != "" {
		if _, err := sched.AddFunc(cfg.DB.PurgeSchedule, func() { purge(db, cfg.DB.Retention.Duration) }); err != nil {
			return fmt.Errorf("invalid db.purge_schedule %q: %w", cfg.DB.PurgeSchedule, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Pipeline: source -> classifier -> enricher -> dedup + store -> reporter.
	exec := remote.New(cfg.Target.Container)
	engine := logtail.New(exec, cfg.Target.LogPath, cfg.TailPolicy())
	cls := classifier.New(cfg.Instance.ID, exec.Target())
	p := &pipeline{
		cfg: cfg,
		enr: enricher.New(engine, monitor.NewProbe(exec)).WithContextLines(cfg.Enrich.ContextLines),
		db:  db,
		rep: reporter.NewNtfy(cfg),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		supervised := logtail.NewSupervised(engine, cfg.Tail.RestartWait.Duration, cfg.Tail.MaxRestarts)
		for entry := range supervised.Entries(gctx) {
			if ev := cls.ClassifyLog(entry); ev != nil {
				p.handle(gctx, ev)
			}
		}
		if gctx.Err() == nil {
			return errors.New("log stream supervisor gave up")
		}
		return nil
	})

	g.Go(func() error {
		tracker := cls.NewHealthTracker()
		poller := newPoller(cfg, exec)
		for sample := range poller.Samples(gctx, cfg.Metrics.Interval.Duration) {
			for _, ev := range tracker.Observe(sample) {
				p.handle(gctx, ev)
			}
		}
		return nil
	})

	if wdInterval := watchdogInterval(); wdInterval > 0 {
		slog.Info("systemd watchdog enabled", "interval", wdInterval)
		g.Go(func() error {
			// Ping at half the watchdog interval.
			t := time.NewTicker(wdInterval / 2)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					sdNotify(daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	sdNotify(daemon.SdNotifyReady)
	slog.Info("pipeline started, watching for events")

	err = g.Wait()
	slog.Info("shutting down")
	sdNotify(daemon.SdNotifyStopping)
	return err
}

// notifier delivers one event. *reporter.NtfyReporter implements it.
type notifier interface {
	Report(ctx context.Context, ev *event.Event) error
}

// pipeline runs events through enrichment, dedup, storage and notification.
// The log and metrics loops share it.
type pipeline struct {
	cfg *config.Config
	enr *enricher.Enricher
	db  *store.DB
	rep notifier

	// Serializes the cooldown check with the insert it depends on.
	mu sync.Mutex
}

func (p *pipeline) handle(ctx context.Context, ev *event.Event) {
	slog.Info("event classified",
		"kind", ev.Kind,
		"severity", ev.Severity,
		"target", ev.Target,
		"summary", ev.Summary,
	)

	p.enr.Enrich(ctx, ev)

	p.mu.Lock()
	verdict, err := p.db.CheckCooldown(ev, store.Cooldown{
		Window:    p.cfg.Cooldown.Window.Duration,
		Threshold: p.cfg.Cooldown.AggregateThreshold,
	})
	if err != nil {
		slog.Error("cooldown check failed", "error", err)
		verdict.Alert = true
	}
	if err := p.db.Insert(ev); err != nil {
		slog.Error("failed to store event", "error", err)
	}
	p.mu.Unlock()

	if !verdict.Alert {
		slog.Debug("notification suppressed by cooldown", "kind", ev.Kind, "prior", verdict.Prior)
		return
	}
	if verdict.Aggregate {
		ev.Summary = fmt.Sprintf("[x%d] %s", verdict.Prior+1, ev.Summary)
	}
	switch err := p.rep.Report(ctx, ev); {
	case err == nil:
		if err := p.db.MarkNotified(ev.ID); err != nil {
			slog.Warn("failed to mark event notified", "id", ev.ID, "error", err)
		}
	case errors.Is(err, reporter.ErrSkipped), errors.Is(err, reporter.ErrThrottled):
	default:
		slog.Error("failed to send notification", "error", err)
	}
}

func purge(db *store.DB, retention time.Duration) {
	if retention <= 0 {
		return
	}
	purged, err := db.Purge(retention)
	if err != nil {
		slog.Warn("failed to purge old events", "error", err)
	} else if purged > 0 {
		slog.Info("purged old events", "count", purged, "retention", retention)
	}
}

func newPoller(cfg *config.Config, exec remote.Executor) *metrics.Poller {
	var src metrics.Source
	if cfg.Metrics.URL != "" {
		src = metrics.NewHTTPSource(cfg.Metrics.URL, cfg.Metrics.Timeout.Duration)
	} else {
		src = metrics.NewRemoteSource(exec, cfg.Target.Port)
	}
	return metrics.NewPoller(src, cfg.Target.Port).WithTimeout(cfg.Metrics.Timeout.Duration)
}

func mustLoad(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
