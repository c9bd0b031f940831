package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/spesialist/internal/telemetry"
)

// Notifications is the LISTEN side of the storage layer.
type Notifications interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// Handler processes one validated inbound message.
type Handler interface {
	Håndter(ctx context.Context, m Melding) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Melding) error

// Håndter implements Handler.
func (f HandlerFunc) Håndter(ctx context.Context, m Melding) error { return f(ctx, m) }

// retryBackoff is the pause after a failed wait before the next attempt.
const retryBackoff = time.Second

// Listener consumes the bus channel and dispatches each message to a Handler.
// Messages are handled concurrently up to a fixed limit; one message is never
// split across goroutines. Handler errors are logged here and go no further.
type Listener struct {
	conn      Notifications
	validator *Validator
	handler   Handler
	logger    *slog.Logger
	sem       *semaphore.Weighted
	wg        sync.WaitGroup

	mottatt metric.Int64Counter
	feilet  metric.Int64Counter
}

// NewListener creates a listener. concurrency below 1 is treated as 1.
func NewListener(conn Notifications, validator *Validator, handler Handler, logger *slog.Logger, concurrency int) *Listener {
	if concurrency < 1 {
		concurrency = 1
	}
	meter := telemetry.Meter("spesialist/bus")
	mottatt := telemetry.Int64Counter(meter, "spesialist.bus.mottatt", "Inbound messages by event name")
	feilet := telemetry.Int64Counter(meter, "spesialist.bus.feilet", "Inbound messages whose handler returned an error")
	return &Listener{
		conn:      conn,
		validator: validator,
		handler:   handler,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		mottatt:   mottatt,
		feilet:    feilet,
	}
}

// Start listens on the bus channel and blocks until ctx is cancelled and all
// in-flight handlers have returned.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.conn.Listen(ctx, Kanal); err != nil {
		return err
	}
	l.logger.Info("bus: listening", "channel", Kanal)
	defer l.wg.Wait()

	for {
		_, payload, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("bus: notification error, retrying", "error", err, "backoff", retryBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryBackoff):
			}
			continue
		}
		l.dispatch(ctx, []byte(payload))
	}
}

func (l *Listener) dispatch(ctx context.Context, payload []byte) {
	m, err := l.validator.Parse(payload)
	if err != nil {
		l.logger.Warn("bus: dropping invalid melding", "error", err)
		return
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		l.handle(context.WithoutCancel(ctx), m)
	}()
}

func (l *Listener) handle(ctx context.Context, m Melding) {
	attrs := metric.WithAttributes(attribute.String("event_name", m.Navn))
	l.mottatt.Add(ctx, 1, attrs)
	if err := l.handler.Håndter(ctx, m); err != nil {
		l.feilet.Add(ctx, 1, attrs)
		l.logger.Error("bus: handler failed",
			"error", err,
			"melding_id", m.ID,
			"event_name", m.Navn,
			"vedtaksperiode_id", m.VedtaksperiodeID,
		)
	}
}
