package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/oppgave"
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

const totrinnsvurderingColumns = `
	t.id, t.vedtaksperiode_id, t.er_retur, t.utbetaling_id, t.opprettet, t.oppdatert,
	t.saksbehandler_id, s.ident, s.navn, s.epost, s.tilgangsgrupper,
	t.beslutter_id, b.ident, b.navn, b.epost, b.tilgangsgrupper`

const totrinnsvurderingFrom = `
	FROM totrinnsvurdering t
	LEFT JOIN saksbehandler s ON s.oid = t.saksbehandler_id
	LEFT JOIN saksbehandler b ON b.oid = t.beslutter_id`

// LagreTotrinnsvurdering upserts a review.
func (t *Tx) LagreTotrinnsvurdering(ctx context.Context, tv *oppgave.Totrinnsvurdering) error {
	s := tv.Snapshot()
	if err := t.sikreSaksbehandler(ctx, s.Saksbehandler); err != nil {
		return err
	}
	if err := t.sikreSaksbehandler(ctx, s.Beslutter); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO totrinnsvurdering
		   (id, vedtaksperiode_id, saksbehandler_id, beslutter_id, er_retur, utbetaling_id, opprettet, oppdatert)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET saksbehandler_id = EXCLUDED.saksbehandler_id,
		     beslutter_id = EXCLUDED.beslutter_id,
		     er_retur = EXCLUDED.er_retur,
		     utbetaling_id = EXCLUDED.utbetaling_id,
		     oppdatert = EXCLUDED.oppdatert`,
		s.ID, s.VedtaksperiodeID, oidOf(s.Saksbehandler), oidOf(s.Beslutter),
		s.ErRetur, s.UtbetalingID, s.Opprettet, s.Oppdatert,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: totrinnsvurdering for %s: %w", s.VedtaksperiodeID, ErrKonflikt)
	}
	if err != nil {
		return fmt.Errorf("storage: save totrinnsvurdering %s: %w", s.ID, err)
	}
	return nil
}

// AktivTotrinnsvurdering returns the open review for the vedtaksperiode, or nil.
func (t *Tx) AktivTotrinnsvurdering(ctx context.Context, vedtaksperiodeID uuid.UUID) (*oppgave.Totrinnsvurdering, error) {
	tv, err := scanTotrinnsvurdering(t.tx.QueryRow(ctx,
		`SELECT `+totrinnsvurderingColumns+totrinnsvurderingFrom+`
		 WHERE t.vedtaksperiode_id = $1 AND t.utbetaling_id IS NULL
		 FOR UPDATE OF t`, vedtaksperiodeID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get active totrinnsvurdering: %w", err)
	}
	return tv, nil
}

// HentTotrinnsvurdering loads a review by id.
func (t *Tx) HentTotrinnsvurdering(ctx context.Context, id uuid.UUID) (*oppgave.Totrinnsvurdering, error) {
	tv, err := scanTotrinnsvurdering(t.tx.QueryRow(ctx,
		`SELECT `+totrinnsvurderingColumns+totrinnsvurderingFrom+`
		 WHERE t.id = $1
		 FOR UPDATE OF t`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("storage: totrinnsvurdering %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get totrinnsvurdering %s: %w", id, err)
	}
	return tv, nil
}

func scanTotrinnsvurdering(row pgx.Row) (*oppgave.Totrinnsvurdering, error) {
	var (
		s                     oppgave.TotrinnsvurderingSnapshot
		oppdatert             *time.Time
		sOID, bOID            *uuid.UUID
		sIdent, sNavn, sEpost *string
		bIdent, bNavn, bEpost *string
		sGrupper, bGrupper    []string
	)
	if err := row.Scan(
		&s.ID, &s.VedtaksperiodeID, &s.ErRetur, &s.UtbetalingID, &s.Opprettet, &oppdatert,
		&sOID, &sIdent, &sNavn, &sEpost, &sGrupper,
		&bOID, &bIdent, &bNavn, &bEpost, &bGrupper,
	); err != nil {
		return nil, err
	}
	s.Oppdatert = oppdatert
	s.Saksbehandler = saksbehandlerFraRad(sOID, sIdent, sNavn, sEpost, sGrupper)
	s.Beslutter = saksbehandlerFraRad(bOID, bIdent, bNavn, bEpost, bGrupper)
	return oppgave.GjenopprettTotrinnsvurdering(s), nil
}

func oidOf(s *saksbehandler.Saksbehandler) *uuid.UUID {
	if s == nil {
		return nil
	}
	oid := s.OID
	return &oid
}
