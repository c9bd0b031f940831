package spesialist

import "context"

// Publisher sends outbound messages to the bus.
// When provided via WithPublisher, replaces the Postgres NOTIFY publisher.
// The outbox calls it from a single goroutine in insertion order, and retries
// a message until Publiser returns nil, so implementations must tolerate
// duplicates downstream.
type Publisher interface {
	Publiser(ctx context.Context, m Melding) error
}

// MeldingHook receives a notification for every inbound message the service
// acted on, after its effects have been committed.
// Hook methods run on the listener's goroutines; they must not block indefinitely.
// Failures are logged and do not affect the message.
type MeldingHook interface {
	OnMelding(ctx context.Context, m Melding) error
}
