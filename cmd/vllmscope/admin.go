package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/config"
	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/monitor"
	"github.com/setevik/vllmscope/internal/remote"
	"github.com/setevik/vllmscope/internal/reporter"
	"github.com/setevik/vllmscope/internal/store"
)

func openDB(cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

// --- query subcommand ---

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	last := fs.String("last", "24h", "time window (e.g. 24h, 7d, 30d)")
	kindName := fs.String("kind", "", "filter by kind (cuda_oom, engine_dead, ...)")
	instance := fs.String("instance", "", "filter by instance ID")
	target := fs.String("target", "", "filter by target")
	limit := fs.Int("limit", 50, "max events to show")
	asJSON := fs.Bool("json", false, "print events as JSON lines")
	fs.Parse(args)

	cfg := mustLoad(*configPath)
	setupLogging("error") // quiet for CLI output

	db := openDB(cfg)
	defer db.Close()

	since, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value %q: %v\n", *last, err)
		os.Exit(1)
	}

	filter := store.QueryFilter{
		Since:      time.Now().Add(-since),
		InstanceID: *instance,
		Target:     *target,
		Limit:      *limit,
	}
	if *kindName != "" {
		kind, ok := event.ParseKind(*kindName)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kindName)
			os.Exit(1)
		}
		filter.Kind = kind
	}

	events, err := db.Query(filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		for _, ev := range events {
			printJSON(ev)
		}
		return
	}

	if len(events) == 0 {
		fmt.Println("No events found.")
		return
	}

	printEvents(events)
}

func printEvents(events []*event.Event) {
	for _, ev := range events {
		ts := ev.Timestamp.Local().Format("2006-01-02 15:04:05")
		fmt.Printf("%s  [%-8s] %-16s %s\n", ts, ev.Severity, ev.Kind.Label(), ev.Summary)
		fmt.Printf("             Target: %s\n", ev.Target)
		if ev.Detail != "" {
			// Print first line of detail as a brief.
			lines := strings.SplitN(ev.Detail, "\n", 2)
			fmt.Printf("             %s\n", lines[0])
		}
		fmt.Println()
	}
	fmt.Printf("Total: %d event(s)\n", len(events))
}

// --- digest subcommand ---

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	send := fs.Bool("send", false, "send digest via ntfy (otherwise print to stdout)")
	last := fs.String("last", "7d", "time window for digest")
	fs.Parse(args)

	cfg := mustLoad(*configPath)
	setupLogging("error")

	db := openDB(cfg)
	defer db.Close()

	duration, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value: %v\n", err)
		os.Exit(1)
	}

	until := time.Now()
	since := until.Add(-duration)

	events, err := db.Query(store.QueryFilter{Since: since, Until: until})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	digest := reporter.BuildDigest(cfg.Instance.ID, events, since, until)
	body := reporter.FormatDigest(digest)

	if !*send {
		fmt.Print(body)
		return
	}

	topic := cfg.DigestTopic()
	if topic == "" {
		fmt.Fprintln(os.Stderr, "error: no ntfy URL configured for digest")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	title := reporter.FormatDigestTitle(since, until)
	if err := reporter.NewNtfy(cfg).Publish(ctx, topic, title, body, "low", "chart"); err != nil {
		fmt.Fprintf(os.Stderr, "error sending digest: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Digest sent successfully.")
}

// --- status subcommand ---

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := mustLoad(*configPath)
	setupLogging("error")

	fmt.Printf("Instance:     %s\n", cfg.Instance.ID)
	fmt.Printf("Target:       %s (%s, port %d)\n", cfg.TargetName(), cfg.Target.LogPath, cfg.Target.Port)

	db := openDB(cfg)
	defer db.Close()

	lastEvents, err := db.Query(store.QueryFilter{Limit: 1})
	if err == nil && len(lastEvents) > 0 {
		ev := lastEvents[0]
		ago := time.Since(ev.Timestamp).Truncate(time.Second)
		fmt.Printf("Last event:   [%s] %s, %s ago\n", ev.Kind, ev.Summary, formatDuration(ago))
	} else {
		fmt.Println("Last event:   none")
	}

	counts, err := db.CountByKind(time.Now().Add(-24 * time.Hour))
	if err == nil {
		var parts []string
		for _, kind := range event.Kinds {
			if n := counts[kind]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, kind))
			}
		}
		if len(parts) == 0 {
			parts = append(parts, "none")
		}
		fmt.Printf("Events (24h): %s\n", strings.Join(parts, ", "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	exec := remote.New(cfg.Target.Container)
	probe := monitor.NewProbe(exec)

	if snap, ok := newPoller(cfg, exec).Snapshot(ctx); ok {
		model := "unknown"
		if snap.Metrics.ModelName != nil {
			model = *snap.Metrics.ModelName
		}
		fmt.Printf("Metrics:      up, model %s, %d running, %d waiting\n",
			model, snap.Metrics.NumActiveRequests, snap.Metrics.NumWaitingRequests)
	} else {
		fmt.Println("Metrics:      unavailable")
	}

	if stats, err := probe.ReadPSI(ctx); err == nil {
		status := "healthy"
		if stats.Exceeds(10, 5) {
			status = "WARNING"
		}
		fmt.Printf("PSI memory:   some=%.1f%% full=%.1f%% (%s)\n",
			stats.Some.Avg10, stats.Full.Avg10, status)
	}

	if gpus, err := probe.QueryGPUs(ctx); err == nil {
		for _, gpu := range gpus {
			info := fmt.Sprintf("%d %s, util %d%%", gpu.Index, gpu.Name, gpu.Utilization)
			if gpu.Temperature > 0 {
				info += fmt.Sprintf(", %d°C", gpu.Temperature)
			}
			if gpu.VRAMTotal > 0 {
				info += fmt.Sprintf(", VRAM %d%%", gpu.VRAMUsed*100/gpu.VRAMTotal)
			}
			fmt.Printf("GPU:          %s\n", info)
		}
	}

	eventCount, _ := db.Count(store.QueryFilter{})
	fmt.Printf("DB events:    %d total\n", eventCount)
	fmt.Printf("DB path:      %s\n", cfg.DBPath())
}

// --- test-ntfy subcommand ---

func runTestNtfyCmd(args []string) {
	fs := flag.NewFlagSet("test-ntfy", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := mustLoad(*configPath)
	setupLogging(cfg.Log.Level)

	if cfg.Ntfy.URL == "" {
		fmt.Fprintln(os.Stderr, "error: ntfy.url not configured")
		os.Exit(1)
	}

	rep := reporter.NewNtfy(cfg)
	ev := reporter.ConnectivityEvent(cfg.Instance.ID, cfg.TargetName(), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := rep.Report(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "error sending test notification: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Test notification sent successfully.")
}

// parseDuration extends time.ParseDuration with support for "d" (days) suffix.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		s = strings.TrimSuffix(s, "d")
		var days int
		if _, err := fmt.Sscanf(s, "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid days format: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", h, m)
	}
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, h)
}
