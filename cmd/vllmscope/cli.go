package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/setevik/vllmscope/internal/config"
	"github.com/setevik/vllmscope/internal/derive"
	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/logtail"
	"github.com/setevik/vllmscope/internal/metrics"
	"github.com/setevik/vllmscope/internal/remote"
)

// targetFlags registers the flags shared by every command that talks to the
// target and returns a loader that applies them over the config file.
func targetFlags(fs *flag.FlagSet) func() (*config.Config, remote.Executor) {
	configPath := fs.String("config", "", "path to config file")
	container := fs.String("container", "", "docker container running vLLM (overrides target.container)")
	logPath := fs.String("log", "", "log file path inside the target (overrides target.log_path)")
	port := fs.Int("port", 0, "metrics port (overrides target.port)")

	return func() (*config.Config, remote.Executor) {
		cfg := mustLoad(*configPath)
		if *container != "" {
			cfg.Target.Container = *container
		}
		if *logPath != "" {
			cfg.Target.LogPath = *logPath
		}
		if *port > 0 {
			cfg.Target.Port = *port
		}
		setupLogging(cfg.Log.Level)
		return cfg, remote.New(cfg.Target.Container)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// printJSON writes v as one JSON line on stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		fail("encoding output: %v", err)
	}
}

// --- log commands ---

func runRecent(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	load := targetFlags(fs)
	n := fs.Int("n", 100, "number of lines")
	fs.Parse(args)

	cfg, exec := load()
	ctx, cancel := signalContext()
	defer cancel()

	entries, err := logtail.New(exec, cfg.Target.LogPath, cfg.TailPolicy()).Recent(ctx, *n)
	if err != nil {
		fail("%v", err)
	}
	for _, e := range entries {
		printJSON(e)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	load := targetFlags(fs)
	levelName := fs.String("level", "", "keep only entries of this level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	n := fs.Int("n", 100, "number of entries")
	fs.Parse(args)

	var level logparse.Level
	if *levelName != "" {
		l, ok := logparse.ParseLevel(*levelName)
		if !ok {
			fail("unknown level %q", *levelName)
		}
		level = l
	}

	cfg, exec := load()
	ctx, cancel := signalContext()
	defer cancel()

	entries, err := logtail.New(exec, cfg.Target.LogPath, cfg.TailPolicy()).Filtered(ctx, level, *n)
	if err != nil {
		fail("%v", err)
	}
	for _, e := range entries {
		printJSON(e)
	}
}

func runTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	load := targetFlags(fs)
	backlog := fs.Int("backlog", -1, "existing lines to replay before following (default tail.backlog)")
	follow := fs.Bool("restart", false, "restart the stream when it ends")
	fs.Parse(args)

	cfg, exec := load()
	policy := cfg.TailPolicy()
	if *backlog >= 0 {
		policy.Backlog = *backlog
	}
	engine := logtail.New(exec, cfg.Target.LogPath, policy)

	ctx, cancel := signalContext()
	defer cancel()

	if *follow {
		for e := range logtail.NewSupervised(engine, cfg.Tail.RestartWait.Duration, cfg.Tail.MaxRestarts).Entries(ctx) {
			printJSON(e)
		}
		return
	}

	tail, err := engine.Stream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("%v", err)
	}
	defer tail.Close()

	for {
		e, err := tail.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fail("%v", err)
		}
		printJSON(e)
	}
}

func runLogfile(args []string) {
	fs := flag.NewFlagSet("logfile", flag.ExitOnError)
	load := targetFlags(fs)
	fs.Parse(args)

	cfg, exec := load()
	ctx, cancel := signalContext()
	defer cancel()

	data, err := logtail.New(exec, cfg.Target.LogPath, cfg.TailPolicy()).FileContent(ctx)
	if err != nil {
		fail("%v", err)
	}
	os.Stdout.Write(data)
}

// --- metrics commands ---

func runMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	load := targetFlags(fs)
	raw := fs.Bool("raw", false, "print the snapshot without derived indicators")
	fs.Parse(args)

	cfg, exec := load()
	ctx, cancel := signalContext()
	defer cancel()

	snap, ok := newPoller(cfg, exec).Snapshot(ctx)
	if !ok {
		// Unavailable metrics are absence, not failure.
		printJSON(nil)
		return
	}
	if *raw {
		printJSON(snap)
		return
	}
	printJSON(derive.Summarize(snap.Metrics, nil))
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	load := targetFlags(fs)
	interval := fs.Duration("interval", 0, "poll interval (default metrics.interval)")
	fs.Parse(args)

	cfg, exec := load()
	every := cfg.Metrics.Interval.Duration
	if *interval > 0 {
		every = *interval
	}

	ctx, cancel := signalContext()
	defer cancel()

	var previous *metrics.VLLMMetrics
	for sample := range newPoller(cfg, exec).Samples(ctx, every) {
		if sample.Snapshot == nil {
			previous = nil
			printJSON(nil)
			continue
		}
		current := sample.Snapshot.Metrics
		printJSON(derive.Summarize(current, previous))
		previous = &current
	}
}
