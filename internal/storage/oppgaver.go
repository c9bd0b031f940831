package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/oppgave"
)

const oppgaveColumns = `
	o.id, o.fodselsnummer, o.vedtaksperiode_id, o.utbetaling_id, o.hendelse_id,
	o.tilstand, o.egenskaper, o.ferdigstilt_av_ident, o.ferdigstilt_av_oid,
	o.kan_avvises, o.opprettet, o.totrinnsvurdering_id,
	o.tildelt_til, s.ident, s.navn, s.epost, s.tilgangsgrupper`

const oppgaveFrom = `
	FROM oppgave o
	LEFT JOIN saksbehandler s ON s.oid = o.tildelt_til`

// LagreOppgave upserts a task together with its review. Creating a second
// active task for a vedtaksperiode fails with ErrKonflikt.
func (t *Tx) LagreOppgave(ctx context.Context, o *oppgave.Oppgave) error {
	var totrinnID *uuid.UUID
	if tv := o.Totrinnsvurdering(); tv != nil {
		if err := t.LagreTotrinnsvurdering(ctx, tv); err != nil {
			return err
		}
		id := tv.ID()
		totrinnID = &id
	}
	s := o.Snapshot()
	if err := t.sikreSaksbehandler(ctx, s.TildeltTil); err != nil {
		return err
	}

	egenskaper := make([]string, len(s.Egenskaper))
	for i, e := range s.Egenskaper {
		egenskaper[i] = string(e)
	}
	var ferdigstiltAvIdent *string
	if s.FerdigstiltAvIdent != "" {
		ferdigstiltAvIdent = &s.FerdigstiltAvIdent
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO oppgave
		   (id, fodselsnummer, vedtaksperiode_id, utbetaling_id, hendelse_id, tilstand, egenskaper,
		    tildelt_til, totrinnsvurdering_id, ferdigstilt_av_ident, ferdigstilt_av_oid, kan_avvises, opprettet)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET tilstand = EXCLUDED.tilstand,
		     egenskaper = EXCLUDED.egenskaper,
		     tildelt_til = EXCLUDED.tildelt_til,
		     totrinnsvurdering_id = EXCLUDED.totrinnsvurdering_id,
		     ferdigstilt_av_ident = EXCLUDED.ferdigstilt_av_ident,
		     ferdigstilt_av_oid = EXCLUDED.ferdigstilt_av_oid,
		     oppdatert = now()`,
		s.ID, s.Fødselsnummer, s.VedtaksperiodeID, s.UtbetalingID, s.HendelseID, s.Tilstand, egenskaper,
		oidOf(s.TildeltTil), totrinnID, ferdigstiltAvIdent, s.FerdigstiltAvOID, s.KanAvvises, s.Opprettet,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: active oppgave for %s: %w", s.VedtaksperiodeID, ErrKonflikt)
	}
	if err != nil {
		return fmt.Errorf("storage: save oppgave %s: %w", s.ID, err)
	}
	return nil
}

// HentOppgave loads and locks a task by id.
func (t *Tx) HentOppgave(ctx context.Context, id uuid.UUID) (*oppgave.Oppgave, error) {
	o, err := t.hentOppgave(ctx, `WHERE o.id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("storage: oppgave %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get oppgave %s: %w", id, err)
	}
	return o, nil
}

// AktivOppgave loads and locks the active task for the vedtaksperiode, or
// returns nil when there is none.
func (t *Tx) AktivOppgave(ctx context.Context, vedtaksperiodeID uuid.UUID) (*oppgave.Oppgave, error) {
	o, err := t.hentOppgave(ctx,
		`WHERE o.vedtaksperiode_id = $1 AND o.tilstand IN ('AvventerSaksbehandler', 'AvventerSystem')`,
		vedtaksperiodeID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get active oppgave: %w", err)
	}
	return o, nil
}

// OppgaveForUtbetaling loads and locks the active task for an utbetaling, or
// returns nil when there is none.
func (t *Tx) OppgaveForUtbetaling(ctx context.Context, utbetalingID uuid.UUID) (*oppgave.Oppgave, error) {
	o, err := t.hentOppgave(ctx,
		`WHERE o.utbetaling_id = $1 AND o.tilstand IN ('AvventerSaksbehandler', 'AvventerSystem')`,
		utbetalingID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get oppgave for utbetaling: %w", err)
	}
	return o, nil
}

func (t *Tx) hentOppgave(ctx context.Context, where string, arg any) (*oppgave.Oppgave, error) {
	var (
		s                  oppgave.Snapshot
		egenskaper         []string
		ferdigstiltAvIdent *string
		totrinnID          *uuid.UUID
		tOID               *uuid.UUID
		ident, navn, epost *string
		grupper            []string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT `+oppgaveColumns+oppgaveFrom+` `+where+` FOR UPDATE OF o`, arg,
	).Scan(
		&s.ID, &s.Fødselsnummer, &s.VedtaksperiodeID, &s.UtbetalingID, &s.HendelseID,
		&s.Tilstand, &egenskaper, &ferdigstiltAvIdent, &s.FerdigstiltAvOID,
		&s.KanAvvises, &s.Opprettet, &totrinnID,
		&tOID, &ident, &navn, &epost, &grupper,
	)
	if err != nil {
		return nil, err
	}
	s.FerdigstiltAvIdent = deref(ferdigstiltAvIdent)
	s.TildeltTil = saksbehandlerFraRad(tOID, ident, navn, epost, grupper)
	s.Egenskaper = make([]oppgave.Egenskap, len(egenskaper))
	for i, e := range egenskaper {
		s.Egenskaper[i] = oppgave.Egenskap(e)
	}

	var tv *oppgave.Totrinnsvurdering
	if totrinnID != nil {
		if tv, err = t.HentTotrinnsvurdering(ctx, *totrinnID); err != nil {
			return nil, err
		}
	}
	return oppgave.Gjenopprett(s, tv)
}
