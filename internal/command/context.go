package command

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/telemetry"
)

// Status is the lifecycle state of a Context.
type Status string

const (
	StatusNy         Status = "NY"
	StatusSuspendert Status = "SUSPENDERT"
	StatusFerdig     Status = "FERDIG"
	StatusAvbrutt    Status = "AVBRUTT"
)

// Avsluttet reports whether no further runs will do anything.
func (s Status) Avsluttet() bool {
	return s == StatusFerdig || s == StatusAvbrutt
}

var (
	tracer     = telemetry.Tracer("spesialist/command")
	runCounter = sync.OnceValue(func() metric.Int64Counter {
		return telemetry.Int64Counter(telemetry.Meter("spesialist/command"),
			"spesialist.command.runs", "Context runs by resulting status")
	})
)

// Context is the persisted state of one workflow run. It is created for an
// inbound hendelse and only changed by the commands it runs.
type Context struct {
	id               uuid.UUID
	hendelseID       uuid.UUID
	vedtaksperiodeID uuid.UUID
	status           Status
	sti              []int
	behov            map[string]json.RawMessage
	løsninger        map[string]json.RawMessage
	data             map[string]json.RawMessage
	meldinger        []bus.Melding
	opprettet        time.Time

	// nyttStopp is set when the last run suspended, so the behov are sent
	// once per suspension point and not again for every partial answer.
	nyttStopp bool
}

// NewContext creates a context for the given hendelse.
func NewContext(hendelseID, vedtaksperiodeID uuid.UUID) *Context {
	return &Context{
		id:               uuid.New(),
		hendelseID:       hendelseID,
		vedtaksperiodeID: vedtaksperiodeID,
		status:           StatusNy,
		behov:            map[string]json.RawMessage{},
		løsninger:        map[string]json.RawMessage{},
		data:             map[string]json.RawMessage{},
		opprettet:        time.Now().UTC(),
	}
}

func (c *Context) ID() uuid.UUID               { return c.id }
func (c *Context) HendelseID() uuid.UUID       { return c.hendelseID }
func (c *Context) VedtaksperiodeID() uuid.UUID { return c.vedtaksperiodeID }
func (c *Context) Status() Status              { return c.status }

// Behov registers a request for external data. params is sent along with the
// request and may be nil. Registering the same behov twice keeps the last
// parameters.
func (c *Context) Behov(navn string, params any) error {
	raw := json.RawMessage("{}")
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("command: marshal behov %s: %w", navn, err)
		}
		raw = b
	}
	c.behov[navn] = raw
	return nil
}

// Utestående returns the names of the outstanding behov, sorted.
func (c *Context) Utestående() []string {
	return slices.Sorted(maps.Keys(c.behov))
}

// MottaLøsning records the answer to an outstanding behov. Answers to behov
// that are not outstanding, and repeated answers, are ignored. It reports
// whether the answer was recorded.
func (c *Context) MottaLøsning(navn string, payload json.RawMessage) bool {
	if c.status != StatusSuspendert {
		return false
	}
	if _, ok := c.behov[navn]; !ok {
		return false
	}
	if _, ok := c.løsninger[navn]; ok {
		return false
	}
	c.løsninger[navn] = payload
	return true
}

// KlarForGjenopptak reports whether every outstanding behov has been answered.
func (c *Context) KlarForGjenopptak() bool {
	if c.status != StatusSuspendert {
		return false
	}
	for navn := range c.behov {
		if _, ok := c.løsninger[navn]; !ok {
			return false
		}
	}
	return true
}

// Løsning decodes the answer to behov navn into target. It reports false
// when no answer is available.
func (c *Context) Løsning(navn string, target any) (bool, error) {
	raw, ok := c.løsninger[navn]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("command: decode løsning %s: %w", navn, err)
	}
	return true, nil
}

// Lagre stores a value on the context so that later commands, or this command
// in a later run, can read it back with Hent.
func (c *Context) Lagre(nøkkel string, verdi any) error {
	raw, err := json.Marshal(verdi)
	if err != nil {
		return fmt.Errorf("command: marshal %s: %w", nøkkel, err)
	}
	c.data[nøkkel] = raw
	return nil
}

// Hent decodes a value stored with Lagre. It reports false when nothing is stored.
func (c *Context) Hent(nøkkel string, target any) (bool, error) {
	raw, ok := c.data[nøkkel]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("command: decode %s: %w", nøkkel, err)
	}
	return true, nil
}

// Publiser queues an outbound message. Queued messages are handed to the
// caller through Meldinger after the run.
func (c *Context) Publiser(m bus.Melding) {
	if m.ContextID == nil {
		id := c.id
		m.ContextID = &id
	}
	if m.HendelseID == nil {
		id := c.hendelseID
		m.HendelseID = &id
	}
	c.meldinger = append(c.meldinger, m)
}

// Avbryt marks the context aborted. Aborting a finished context does nothing.
func (c *Context) Avbryt() {
	if c.status == StatusFerdig {
		return
	}
	c.status = StatusAvbrutt
	c.behov = map[string]json.RawMessage{}
	c.løsninger = map[string]json.RawMessage{}
	c.sti = nil
}

// Run drives cmd one step further. A new context executes cmd from the
// start. A suspended context resumes cmd once every outstanding behov has
// been answered and otherwise waits. A finished or aborted context is left
// as is. Errors from commands are returned unchanged in meaning; the context
// must then be discarded, not persisted.
func (c *Context) Run(ctx context.Context, cmd Command) (Status, error) {
	if c.status.Avsluttet() {
		return c.status, nil
	}
	if c.status == StatusSuspendert && !c.KlarForGjenopptak() {
		return c.status, nil
	}

	ctx, span := tracer.Start(ctx, "command.run "+cmd.Navn(),
		trace.WithAttributes(
			attribute.String("spesialist.context_id", c.id.String()),
			attribute.String("spesialist.hendelse_id", c.hendelseID.String()),
			attribute.String("spesialist.status_før", string(c.status)),
		),
	)
	defer span.End()

	var (
		done bool
		err  error
	)
	if c.status == StatusNy {
		done, err = cmd.Execute(ctx, c)
	} else {
		// The answered behov are spent. Commands that need more register
		// new ones during the resume; the answers stay readable until then.
		c.behov = map[string]json.RawMessage{}
		done, err = cmd.Resume(ctx, c)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runCounter().Add(ctx, 1, metric.WithAttributes(attribute.String("status", "feil")))
		return c.status, err
	}

	if done {
		c.status = StatusFerdig
		c.sti = nil
		c.behov = map[string]json.RawMessage{}
	} else {
		c.status = StatusSuspendert
		c.nyttStopp = true
	}
	c.løsninger = map[string]json.RawMessage{}

	span.SetAttributes(
		attribute.String("spesialist.status", string(c.status)),
		attribute.StringSlice("spesialist.behov", c.Utestående()),
	)
	runCounter().Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(c.status))))
	return c.status, nil
}

// pushSti records index i as the outermost level of the resume path. Inner
// macros push first, so the path reads outermost to innermost.
func (c *Context) pushSti(i int) {
	c.sti = append([]int{i}, c.sti...)
}

func (c *Context) popSti() (int, bool) {
	if len(c.sti) == 0 {
		return -1, false
	}
	i := c.sti[0]
	c.sti = c.sti[1:]
	return i, true
}

// Snapshot is the persisted form of a Context.
type Snapshot struct {
	ID               uuid.UUID
	HendelseID       uuid.UUID
	VedtaksperiodeID uuid.UUID
	Status           Status
	Sti              []int
	Behov            map[string]json.RawMessage
	Løsninger        map[string]json.RawMessage
	Data             map[string]json.RawMessage
	Opprettet        time.Time
}

// Snapshot captures the persisted state. Queued messages are not part of it.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		ID:               c.id,
		HendelseID:       c.hendelseID,
		VedtaksperiodeID: c.vedtaksperiodeID,
		Status:           c.status,
		Sti:              slices.Clone(c.sti),
		Behov:            maps.Clone(c.behov),
		Løsninger:        maps.Clone(c.løsninger),
		Data:             maps.Clone(c.data),
		Opprettet:        c.opprettet,
	}
}

// Gjenopprett rebuilds a Context from a snapshot.
func Gjenopprett(s Snapshot) *Context {
	c := &Context{
		id:               s.ID,
		hendelseID:       s.HendelseID,
		vedtaksperiodeID: s.VedtaksperiodeID,
		status:           s.Status,
		sti:              slices.Clone(s.Sti),
		behov:            maps.Clone(s.Behov),
		løsninger:        maps.Clone(s.Løsninger),
		data:             maps.Clone(s.Data),
		opprettet:        s.Opprettet,
	}
	if c.behov == nil {
		c.behov = map[string]json.RawMessage{}
	}
	if c.løsninger == nil {
		c.løsninger = map[string]json.RawMessage{}
	}
	if c.data == nil {
		c.data = map[string]json.RawMessage{}
	}
	return c
}
