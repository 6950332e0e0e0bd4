// Package events publishes device lifecycle notifications to backend
// consumers. Devices never receive these.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeRegistered            Type = "registered"
	TypePinged                Type = "pinged"
	TypeConfigurationsUpdated Type = "configurations_updated"
)

type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	SerialNumber string    `json:"serialNumber"`
	DeviceID     int64     `json:"deviceId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
	Keys         []string  `json:"keys,omitempty"`
}

func New(eventType Type, serialNumber string, deviceID int64) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		SerialNumber: serialNumber,
		DeviceID:     deviceID,
		OccurredAt:   time.Now().UTC(),
	}
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
