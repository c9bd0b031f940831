// Package mediator routes inbound bus messages to workflows.
//
// A godkjenningsbehov starts a new workflow context. A løsning is recorded on
// the context it answers and resumes it once every outstanding behov has been
// answered. A forkasted vedtaksperiode aborts its contexts and invalidates its
// task, and a confirmed payout completes the task and its review.
//
// Each message is handled in one transaction together with its dedupe record
// and the outbound messages it produced, so a redelivered message is either
// skipped or replayed against unchanged state.
package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/command"
	"github.com/ashita-ai/spesialist/internal/kommando"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/telemetry"
)

var (
	tracer        = telemetry.Tracer("spesialist/mediator")
	meldingTeller = sync.OnceValue(func() metric.Int64Counter {
		return telemetry.Int64Counter(telemetry.Meter("spesialist/mediator"),
			"spesialist.mediator.meldinger", "Handled inbound messages by event name and outcome")
	})
)

// UtbetalingUtbetalt is the payload of a payout confirmation.
type UtbetalingUtbetalt struct {
	UtbetalingID uuid.UUID `json:"utbetalingId"`
}

// Mediator implements bus.Handler.
type Mediator struct {
	db      *storage.DB
	fabrikk *kommando.Fabrikk
	logger  *slog.Logger
}

var (
	_ bus.Handler    = (*Mediator)(nil)
	_ kommando.Lager = (*storage.Tx)(nil)
)

// New returns a Mediator running workflows built by fabrikk.
func New(db *storage.DB, fabrikk *kommando.Fabrikk, logger *slog.Logger) *Mediator {
	return &Mediator{db: db, fabrikk: fabrikk, logger: logger}
}

// Relevant reports whether the mediator acts on m. Everything else on the
// shared channel, including the messages spesialist sends itself, is ignored
// without touching the database.
func Relevant(m bus.Melding) bool {
	switch {
	case m.ErLøsning():
		return m.ContextID != nil
	case m.Navn == bus.Godkjenningsbehov, m.Navn == bus.VedtaksperiodeForkastet, m.Navn == bus.UtbetalingUtbetalt:
		return true
	default:
		return false
	}
}

// Håndter handles one inbound message.
func (md *Mediator) Håndter(ctx context.Context, m bus.Melding) error {
	if !Relevant(m) {
		return nil
	}
	ctx, span := tracer.Start(ctx, "mediator.håndter "+m.Navn,
		trace.WithAttributes(
			attribute.String("spesialist.melding_id", m.ID.String()),
			attribute.String("spesialist.vedtaksperiode_id", m.VedtaksperiodeID.String()),
		),
	)
	defer span.End()

	utfall := "ok"
	err := md.db.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		ny, err := tx.MarkerMottatt(ctx, m.ID, m.Navn)
		if err != nil {
			return err
		}
		if !ny {
			utfall = "duplikat"
			md.logger.Info("mediator: melding already handled", "melding_id", m.ID, "event_name", m.Navn)
			return nil
		}
		switch {
		case m.ErLøsning():
			return md.løsning(ctx, tx, m)
		case m.Navn == bus.Godkjenningsbehov:
			return md.godkjenningsbehov(ctx, tx, m)
		case m.Navn == bus.VedtaksperiodeForkastet:
			return md.forkastet(ctx, tx, m)
		default:
			return md.utbetalt(ctx, tx, m)
		}
	})
	if err != nil {
		utfall = "feil"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	meldingTeller().Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", m.Navn),
		attribute.String("utfall", utfall),
	))
	if err != nil {
		return fmt.Errorf("mediator: %s %s: %w", m.Navn, m.ID, err)
	}
	return nil
}

func (md *Mediator) godkjenningsbehov(ctx context.Context, tx *storage.Tx, m bus.Melding) error {
	var behov kommando.Godkjenningsbehov
	if err := m.LesPayload(&behov); err != nil {
		return err
	}
	if err := tx.LagreHendelse(ctx, storage.Hendelse{
		ID:               m.ID,
		Type:             m.Navn,
		Fødselsnummer:    behov.Fødselsnummer,
		VedtaksperiodeID: behov.VedtaksperiodeID,
		Payload:          m.Payload,
	}); err != nil {
		return err
	}

	c, err := tx.ContextForHendelse(ctx, m.ID)
	if err != nil {
		return err
	}
	if c == nil {
		c = command.NewContext(m.ID, behov.VedtaksperiodeID)
	}
	return md.kjør(ctx, tx, c, kommando.Hendelse{ID: m.ID, Godkjenningsbehov: behov})
}

func (md *Mediator) løsning(ctx context.Context, tx *storage.Tx, m bus.Melding) error {
	c, err := tx.HentContext(ctx, *m.ContextID)
	if errors.Is(err, storage.ErrNotFound) {
		md.logger.Warn("mediator: løsning for unknown context", "context_id", *m.ContextID, "melding_id", m.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status().Avsluttet() {
		md.logger.Info("mediator: løsning for finished context ignored",
			"context_id", c.ID(), "status", c.Status(), "behov", m.Behov)
		return nil
	}

	mottatt := 0
	for navn, payload := range m.Løsning {
		if c.MottaLøsning(navn, payload) {
			mottatt++
		}
	}
	if mottatt == 0 {
		md.logger.Debug("mediator: løsning answers nothing outstanding", "context_id", c.ID(), "behov", m.Behov)
		return nil
	}

	h, err := tx.HentHendelse(ctx, c.HendelseID())
	if err != nil {
		return err
	}
	if h.Type != bus.Godkjenningsbehov {
		return fmt.Errorf("context %s belongs to unsupported hendelse type %q", c.ID(), h.Type)
	}
	var behov kommando.Godkjenningsbehov
	if err := json.Unmarshal(h.Payload, &behov); err != nil {
		return fmt.Errorf("decode hendelse %s: %w", h.ID, err)
	}
	return md.kjør(ctx, tx, c, kommando.Hendelse{ID: h.ID, Godkjenningsbehov: behov})
}

// kjør runs the workflow one step further and persists the context together
// with the messages the run produced.
func (md *Mediator) kjør(ctx context.Context, tx *storage.Tx, c *command.Context, h kommando.Hendelse) error {
	status, err := c.Run(ctx, md.fabrikk.Godkjenningsbehov(tx, h))
	if err != nil {
		return err
	}
	if err := tx.LagreContext(ctx, c); err != nil {
		return err
	}
	meldinger := c.Meldinger(h.Godkjenningsbehov.Fødselsnummer)
	if err := tx.LeggIUtboks(ctx, meldinger...); err != nil {
		return err
	}
	md.logger.Debug("mediator: context run",
		"context_id", c.ID(),
		"hendelse_id", h.ID,
		"status", status,
		"behov", c.Utestående(),
		"meldinger", len(meldinger),
	)
	return nil
}

func (md *Mediator) forkastet(ctx context.Context, tx *storage.Tx, m bus.Melding) error {
	contexter, err := tx.AktiveContexter(ctx, m.VedtaksperiodeID)
	if err != nil {
		return err
	}
	for _, c := range contexter {
		c.Avbryt()
		if err := tx.LagreContext(ctx, c); err != nil {
			return err
		}
		md.logger.Info("mediator: context aborted", "context_id", c.ID(), "vedtaksperiode_id", m.VedtaksperiodeID)
	}

	o, err := tx.AktivOppgave(ctx, m.VedtaksperiodeID)
	if err != nil || o == nil {
		return err
	}
	endringer := o.Avbryt()
	if err := tx.LagreOppgave(ctx, o); err != nil {
		return err
	}
	meldinger, err := kommando.OppgaveMeldinger(o.Fødselsnummer(), endringer)
	if err != nil {
		return err
	}
	return tx.LeggIUtboks(ctx, meldinger...)
}

func (md *Mediator) utbetalt(ctx context.Context, tx *storage.Tx, m bus.Melding) error {
	var u UtbetalingUtbetalt
	if err := m.LesPayload(&u); err != nil {
		return err
	}
	o, err := tx.OppgaveForUtbetaling(ctx, u.UtbetalingID)
	if err != nil {
		return err
	}
	if o == nil {
		md.logger.Debug("mediator: no active oppgave for utbetaling", "utbetaling_id", u.UtbetalingID)
		return nil
	}
	endringer := o.Ferdigstill()
	if tv := o.Totrinnsvurdering(); tv != nil {
		tv.Ferdigstill(u.UtbetalingID)
	}
	if err := tx.LagreOppgave(ctx, o); err != nil {
		return err
	}
	meldinger, err := kommando.OppgaveMeldinger(o.Fødselsnummer(), endringer)
	if err != nil {
		return err
	}
	return tx.LeggIUtboks(ctx, meldinger...)
}
