// Package event provides the notification channel that wakes idle workers.
// Publishing on a queue wakes every subscriber of that queue; wake-ups
// coalesce, so a subscriber that was busy sees at most one pending signal
// and never misses the fact that something happened.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/tether/id"
)

// Event is the message carried by remote notifiers.
type Event struct {
	ID        id.EventID `json:"id"`
	Queue     string     `json:"queue"`
	CreatedAt time.Time  `json:"created_at"`
}

// New creates an event for queue.
func New(queue string) *Event {
	return &Event{ID: id.NewEventID(), Queue: queue, CreatedAt: time.Now().UTC()}
}

// Encode marshals the event for transport.
func (e *Event) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("event: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses an event produced by Encode.
func Decode(payload string) (*Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	return &e, nil
}
