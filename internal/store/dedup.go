package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/setevik/vllmscope/internal/event"
)

// Cooldown is the notification suppression policy. Events sharing an
// instance, target and kind within Window collapse into one alert, plus a
// single "[xN]" summary when Threshold prior events have piled up.
type Cooldown struct {
	Window    time.Duration
	Threshold int
}

// Verdict is the cooldown decision for one event.
type Verdict struct {
	Alert bool
	// Prior is the number of matching events already stored in the window.
	Prior int
	// Aggregate marks the summary alert sent when Prior reaches the threshold.
	Aggregate bool
}

// decide maps a prior count onto a verdict. The first occurrence alerts,
// repeats stay quiet, and the repeat that reaches the threshold alerts once
// as an aggregate.
func (c Cooldown) decide(prior int) Verdict {
	v := Verdict{Prior: prior}
	switch {
	case prior == 0:
		v.Alert = true
	case c.Threshold > 0 && prior == c.Threshold:
		v.Alert = true
		v.Aggregate = true
	}
	return v
}

// CheckCooldown counts stored events matching ev and returns the verdict.
// ev itself must not be stored yet.
func (d *DB) CheckCooldown(ev *event.Event, c Cooldown) (Verdict, error) {
	var prior int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM events
		WHERE instance_id = ? AND target = ? AND kind = ? AND timestamp >= ?`,
		ev.InstanceID, ev.Target, string(ev.Kind), formatTime(ev.Timestamp.Add(-c.Window)),
	).Scan(&prior)
	if err != nil {
		return Verdict{}, fmt.Errorf("counting %s events for cooldown: %w", ev.Kind, err)
	}

	v := c.decide(prior)
	slog.Debug("cooldown",
		"kind", ev.Kind,
		"target", ev.Target,
		"prior", prior,
		"alert", v.Alert,
		"aggregate", v.Aggregate,
	)
	return v, nil
}
