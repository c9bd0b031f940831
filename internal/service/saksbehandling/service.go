// Package saksbehandling provides the operations a caseworker performs on a
// task. An API layer authenticates the caseworker, resolves their
// capabilities and delegates here.
//
// Every operation loads the task fresh, applies the change in memory and saves
// it together with the messages describing the change in one transaction.
// The caseworker's capabilities, as built by saksbehandler.MedGrupper, are
// recorded on every call and used later for reservation assignment.
package saksbehandling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/spesialist/internal/kommando"
	"github.com/ashita-ai/spesialist/internal/oppgave"
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/telemetry"
)

// ErrKanIkkeAvvises is returned when a caseworker rejects a case whose
// payout cannot be rejected.
var ErrKanIkkeAvvises = errors.New("saksbehandling: oppgaven kan ikke avvises")

// ErrOppgaveAvsluttet is returned when a decision is made on a task that is
// no longer waiting for a caseworker.
var ErrOppgaveAvsluttet = errors.New("saksbehandling: oppgaven venter ikke på saksbehandler")

// Vedtak is a caseworker's decision on a task.
type Vedtak struct {
	Godkjent     bool
	Begrunnelser []string
}

// Service performs caseworker operations.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	operasjoner metric.Int64Counter
}

// New creates a Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	operasjoner := telemetry.Int64Counter(telemetry.Meter("spesialist/saksbehandling"),
		"spesialist.saksbehandling.operasjoner", "Caseworker operations by name and outcome")
	return &Service{db: db, logger: logger, operasjoner: operasjoner}
}

// Tildel assigns the task to sb.
func (s *Service) Tildel(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler) error {
	return s.endre(ctx, "tildel", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		return o.ForsøkTildeling(sb)
	})
}

// Avmeld releases the task if sb holds it.
func (s *Service) Avmeld(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler) error {
	return s.endre(ctx, "avmeld", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		return o.ForsøkAvmelding(sb)
	})
}

// LeggPåVent puts the task on hold, keeping it assigned to sb when
// skalTildeles is set.
func (s *Service) LeggPåVent(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler, skalTildeles bool) error {
	return s.endre(ctx, "legg_på_vent", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		return o.LeggPåVent(skalTildeles, sb)
	})
}

// FjernFraPåVent lifts the hold on the task. An assigned task can only be
// taken off hold by sb holding it.
func (s *Service) FjernFraPåVent(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler) error {
	return s.endre(ctx, "fjern_fra_på_vent", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		if o.TildeltTil() != nil {
			if err := holder(o, sb); err != nil {
				return nil, err
			}
		}
		return o.FjernFraPåVent(), nil
	})
}

// SendTilBeslutter hands the task held by sb to the reviewer.
func (s *Service) SendTilBeslutter(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler) error {
	return s.endre(ctx, "send_til_beslutter", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		if err := holder(o, sb); err != nil {
			return nil, err
		}
		return o.SendTilBeslutter(sb)
	})
}

// SendIRetur returns the task held by beslutter to the caseworker who sent it.
func (s *Service) SendIRetur(ctx context.Context, oppgaveID uuid.UUID, beslutter saksbehandler.Saksbehandler) error {
	return s.endre(ctx, "send_i_retur", oppgaveID, beslutter, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		if err := holder(o, beslutter); err != nil {
			return nil, err
		}
		return o.SendIRetur(beslutter)
	})
}

// FattVedtak records the decision of sb and answers the godkjenningsbehov.
// The task then waits for the payout to be confirmed.
func (s *Service) FattVedtak(ctx context.Context, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler, v Vedtak) error {
	return s.endre(ctx, "fatt_vedtak", oppgaveID, sb, func(o *oppgave.Oppgave) ([]oppgave.Endring, error) {
		if !v.Godkjent && !o.KanAvvises() {
			return nil, ErrKanIkkeAvvises
		}
		endringer, err := o.FattVedtak(sb)
		if err != nil {
			return nil, err
		}
		if len(endringer) == 0 {
			return nil, ErrOppgaveAvsluttet
		}
		return endringer, nil
	}, func(o *oppgave.Oppgave) (*kommando.Godkjenning, error) {
		g := kommando.Godkjenning{
			HendelseID:         o.HendelseID(),
			UtbetalingID:       o.UtbetalingID(),
			Godkjent:           v.Godkjent,
			SaksbehandlerIdent: sb.Ident,
			SaksbehandlerOID:   &sb.OID,
			Begrunnelser:       v.Begrunnelser,
		}
		if tv := o.Totrinnsvurdering(); tv != nil && tv.Saksbehandler() != nil && !tv.Saksbehandler().Er(sb) {
			sender := tv.Saksbehandler()
			g.SaksbehandlerIdent = sender.Ident
			g.SaksbehandlerOID = &sender.OID
			g.BeslutterIdent = sb.Ident
		}
		return &g, nil
	})
}

// Reserver reserves the person for sb so that their new tasks are assigned
// to sb when possible.
func (s *Service) Reserver(ctx context.Context, fødselsnummer string, sb saksbehandler.Saksbehandler, gyldigTil time.Time) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.LagreSaksbehandler(ctx, sb); err != nil {
			return err
		}
		return tx.Reserver(ctx, fødselsnummer, sb, gyldigTil)
	})
}

// holder requires the task to be assigned to sb.
func holder(o *oppgave.Oppgave, sb saksbehandler.Saksbehandler) error {
	switch t := o.TildeltTil(); {
	case t == nil:
		return &oppgave.Feil{Kode: oppgave.KodeOppgaveIkkeTildelt, OppgaveID: o.ID()}
	case !t.Er(sb):
		return &oppgave.Feil{Kode: oppgave.KodeOppgaveTildeltNoenAndre, OppgaveID: o.ID()}
	}
	return nil
}

type endring func(o *oppgave.Oppgave) ([]oppgave.Endring, error)

type godkjenning func(o *oppgave.Oppgave) (*kommando.Godkjenning, error)

func (s *Service) endre(ctx context.Context, operasjon string, oppgaveID uuid.UUID, sb saksbehandler.Saksbehandler, fn endring, svar ...godkjenning) error {
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.LagreSaksbehandler(ctx, sb); err != nil {
			return err
		}
		o, err := tx.HentOppgave(ctx, oppgaveID)
		if err != nil {
			return err
		}
		endringer, err := fn(o)
		if err != nil {
			return err
		}
		if len(endringer) == 0 {
			return nil
		}
		if err := tx.LagreOppgave(ctx, o); err != nil {
			return err
		}
		meldinger, err := kommando.OppgaveMeldinger(o.Fødselsnummer(), endringer)
		if err != nil {
			return err
		}
		for _, lag := range svar {
			g, err := lag(o)
			if err != nil {
				return err
			}
			m, err := kommando.GodkjenningMelding(o.Fødselsnummer(), o.VedtaksperiodeID(), *g)
			if err != nil {
				return err
			}
			meldinger = append(meldinger, m)
		}
		return tx.LeggIUtboks(ctx, meldinger...)
	})

	utfall := "ok"
	var feil *oppgave.Feil
	switch {
	case errors.As(err, &feil):
		utfall = string(feil.Kode)
	case err != nil:
		utfall = "feil"
	}
	s.operasjoner.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operasjon", operasjon),
		attribute.String("utfall", utfall),
	))
	if err != nil {
		s.logger.Info("saksbehandling: operation rejected",
			"operasjon", operasjon, "oppgave_id", oppgaveID, "saksbehandler", sb.Ident, "error", err)
		return fmt.Errorf("saksbehandling: %s: %w", operasjon, err)
	}
	s.logger.Debug("saksbehandling: operation applied",
		"operasjon", operasjon, "oppgave_id", oppgaveID, "saksbehandler", sb.Ident)
	return nil
}
