package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusUnhealthy Status = "unhealthy"
	StatusRecovered Status = "recovered"
	StatusCritical  Status = "critical"
	StatusStopped   Status = "stopped"
)

// Event is one state transition of interest, delivered as JSON.
type Event struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Container string    `json:"container"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`
}

// TimestampString renders the event time as RFC3339 UTC.
func (e Event) TimestampString() string {
	return e.Timestamp.UTC().Format(time.RFC3339)
}

// MarshalJSON pins the timestamp to second-precision RFC3339 UTC.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Status    Status `json:"status"`
		Message   string `json:"message"`
		Container string `json:"container"`
		URL       string `json:"url"`
		Timestamp string `json:"timestamp"`
		Hostname  string `json:"hostname"`
	}
	return json.Marshal(wire{
		Status:    e.Status,
		Message:   e.Message,
		Container: e.Container,
		URL:       e.URL,
		Timestamp: e.TimestampString(),
		Hostname:  e.Hostname,
	})
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, e Event) error

func (f Func) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Multi delivers to every sink in order and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
