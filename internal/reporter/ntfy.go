// Package reporter sends incident notifications and digests to ntfy.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/setevik/vllmscope/internal/config"
	"github.com/setevik/vllmscope/internal/event"
)

// ErrThrottled is returned by Report when the global notification rate is
// exhausted. The event is not sent.
var ErrThrottled = errors.New("ntfy notification throttled")

// ErrSkipped is returned by Report when nothing was sent because ntfy is
// not configured or the event's kind is not in alert_kinds.
var ErrSkipped = errors.New("ntfy notification skipped")

// NtfyReporter sends event notifications to an ntfy server.
type NtfyReporter struct {
	cfg     *config.Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewNtfy creates a new NtfyReporter. A zero ntfy.min_interval disables
// throttling.
func NewNtfy(cfg *config.Config) *NtfyReporter {
	limit := rate.Inf
	if cfg.Ntfy.MinInterval.Duration > 0 {
		limit = rate.Every(cfg.Ntfy.MinInterval.Duration)
	}
	burst := cfg.Ntfy.Burst
	if burst < 1 {
		burst = 1
	}
	return &NtfyReporter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Report sends an event notification to ntfy if the event's kind is in the
// configured alert kinds. A nil error means the notification was delivered.
func (r *NtfyReporter) Report(ctx context.Context, ev *event.Event) error {
	if r.cfg.Ntfy.URL == "" {
		slog.Debug("ntfy URL not configured, skipping notification")
		return ErrSkipped
	}

	if !r.cfg.ShouldAlert(string(ev.Kind)) {
		slog.Debug("event kind not in alert kinds, skipping", "kind", ev.Kind)
		return ErrSkipped
	}

	if !r.limiter.Allow() {
		slog.Warn("notification throttled", "kind", ev.Kind, "summary", ev.Summary)
		return ErrThrottled
	}

	priority := r.cfg.NtfyPriority(string(ev.Severity))
	if err := r.Publish(ctx, r.cfg.Ntfy.URL, FormatTitle(ev), FormatBody(ev), priority, TagsForKind(ev.Kind)); err != nil {
		return err
	}

	slog.Info("notification sent", "kind", ev.Kind, "summary", ev.Summary, "priority", priority)
	return nil
}

// Publish posts a message to an ntfy topic URL.
func (r *NtfyReporter) Publish(ctx context.Context, url, title, body, priority, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
