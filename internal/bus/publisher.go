package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kanal is the Postgres NOTIFY channel carrying all bus traffic.
const Kanal = "spesialist_rapid"

// maxNotifyPayload is the largest payload Postgres accepts for NOTIFY.
const maxNotifyPayload = 7999

// Publisher sends a message keyed by nøkkel.
type Publisher interface {
	Publiser(ctx context.Context, nøkkel string, m Melding) error
}

// Notifier is the part of the storage layer the NOTIFY publisher needs.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// NotifyPublisher publishes on the shared Postgres channel. NOTIFY has no
// partitions, so the key only has to match the message; ordering per key
// comes from the outbox, which publishes rows in insertion order.
type NotifyPublisher struct {
	notifier Notifier
}

// NewNotifyPublisher returns a publisher sending through n.
func NewNotifyPublisher(n Notifier) *NotifyPublisher {
	return &NotifyPublisher{notifier: n}
}

// Publiser implements Publisher.
func (p *NotifyPublisher) Publiser(ctx context.Context, nøkkel string, m Melding) error {
	if nøkkel != m.Nøkkel() {
		return fmt.Errorf("bus: key %q does not match melding %s", nøkkel, m.ID)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("bus: marshal melding %s: %w", m.ID, err)
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("bus: melding %s is %d bytes, exceeds notify limit", m.ID, len(payload))
	}
	if err := p.notifier.Notify(ctx, Kanal, string(payload)); err != nil {
		return fmt.Errorf("bus: publish %s: %w", m.Navn, err)
	}
	return nil
}
