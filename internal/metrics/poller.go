package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/setevik/vllmscope/internal/promtext"
)

const defaultFetchTimeout = 5 * time.Second

// Sample is one poll result. Snapshot is nil when metrics were unavailable.
type Sample struct {
	At       time.Time
	Snapshot *Snapshot
}

// Poller turns a Source into typed readings. Failures are soft: they are
// logged and reported as absence, never raised.
type Poller struct {
	source  Source
	port    int
	timeout time.Duration
	now     func() time.Time
}

// NewPoller creates a poller reading from source. port is recorded in every
// reading.
func NewPoller(source Source, port int) *Poller {
	return &Poller{
		source:  source,
		port:    port,
		timeout: defaultFetchTimeout,
		now:     time.Now,
	}
}

// WithTimeout bounds each fetch.
func (p *Poller) WithTimeout(d time.Duration) *Poller {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// WithClock overrides the time source used for timestamps.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Fetch takes one reading. ok is false when the endpoint could not be read.
func (p *Poller) Fetch(ctx context.Context) (*VLLMMetrics, bool) {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.source.Fetch(fctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("failed to fetch metrics from vLLM", "error", err)
		}
		return nil, false
	}

	m := Map(promtext.Parse(text), promtext.Labels(text), p.port, p.now())
	return &m, true
}

// Snapshot wraps Fetch with its own timestamp and source tag.
func (p *Poller) Snapshot(ctx context.Context) (*Snapshot, bool) {
	m, ok := p.Fetch(ctx)
	if !ok {
		return nil, false
	}
	return &Snapshot{
		Timestamp: p.now().UTC().Format(TimestampLayout),
		Metrics:   *m,
		Source:    SourceVLLM,
	}, true
}

// Samples polls immediately and then every interval until ctx is cancelled,
// at which point the channel is closed. One poll runs at a time; ticks that
// arrive while the consumer is behind are dropped.
func (p *Poller) Samples(ctx context.Context, interval time.Duration) <-chan Sample {
	if interval <= 0 {
		interval = time.Second
	}
	ch := make(chan Sample, 1)
	go p.poll(ctx, interval, ch)
	return ch
}

func (p *Poller) poll(ctx context.Context, interval time.Duration, ch chan<- Sample) {
	defer close(ch)

	// Initial poll.
	if !p.emit(ctx, ch) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.emit(ctx, ch) {
				return
			}
		}
	}
}

func (p *Poller) emit(ctx context.Context, ch chan<- Sample) bool {
	snap, _ := p.Snapshot(ctx)
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- Sample{At: p.now(), Snapshot: snap}:
		return true
	case <-ctx.Done():
		return false
	}
}
