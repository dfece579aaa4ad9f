package viewer

import (
	"sync"
	"time"

	"github.com/TheCacophonyProject/batterylog/anomaly"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/sirupsen/logrus"
)

const anomalyEventType = "batteryAnomaly"

// anomalyReporter sends each anomaly to the event reporter once. Anomalies
// are keyed by the timestamp of the flagged sample, so a refresh that
// finds the same drop again does not report it twice.
type anomalyReporter struct {
	addEvent func(eventclient.Event) error
	log      logrus.FieldLogger

	mu       sync.Mutex
	reported map[int64]bool
}

func newAnomalyReporter(log logrus.FieldLogger) *anomalyReporter {
	return &anomalyReporter{
		addEvent: eventclient.AddEvent,
		log:      log,
		reported: map[int64]bool{},
	}
}

// Report returns how many new anomalies were sent. Failed sends are retried
// on the next refresh.
func (a *anomalyReporter) Report(events []anomaly.Event) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	sent := 0
	for _, e := range events {
		key := e.Timestamp.UnixNano()
		if a.reported[key] {
			continue
		}
		err := a.addEvent(eventclient.Event{
			Timestamp: time.Now(),
			Type:      anomalyEventType,
			Details: map[string]interface{}{
				"timestamp":           e.Timestamp.Format(time.RFC3339),
				"reason":              string(e.Reason),
				"description":         e.Reason.Description(),
				"percentage":          e.Percentage,
				"delta":               e.Delta,
				"rate":                e.Rate,
				"baseline":            e.Baseline,
				"power_state_changed": e.PowerStateChanged,
			},
		})
		if err != nil {
			a.log.Errorf("Failed to report anomaly at %s: %v", e.Timestamp, err)
			continue
		}
		a.log.Infof("Reported %s at %s", e.Reason, e.Timestamp.Format(time.RFC3339))
		a.reported[key] = true
		sent++
	}
	return sent
}
