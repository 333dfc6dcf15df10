package reporter

import (
	"time"

	"github.com/setevik/vllmscope/internal/event"
)

// ConnectivityEvent builds the event sent by "vllmscope test-ntfy". It uses
// the engine_dead kind so it passes the default alert_kinds filter, and is
// never stored.
func ConnectivityEvent(instanceID, target string, now time.Time) *event.Event {
	ev := event.New(instanceID, target, now, event.KindEngineDead, event.SevHigh,
		"Test notification from vllmscope")
	ev.ID = "test-" + now.UTC().Format("20060102-150405")
	ev.Detail = "ntfy delivery works. Real alerts for " + target + " will look like this one."
	return ev
}
