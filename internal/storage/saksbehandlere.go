package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

// LagreSaksbehandler records a caseworker and the capabilities they hold now.
func (t *Tx) LagreSaksbehandler(ctx context.Context, s saksbehandler.Saksbehandler) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO saksbehandler (oid, ident, navn, epost, tilgangsgrupper)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (oid) DO UPDATE
		 SET ident = EXCLUDED.ident, navn = EXCLUDED.navn, epost = EXCLUDED.epost,
		     tilgangsgrupper = EXCLUDED.tilgangsgrupper, sist_sett = now()`,
		s.OID, s.Ident, s.Navn, s.Epost, grupperTilTekst(s.Grupper()),
	)
	if err != nil {
		return fmt.Errorf("storage: save saksbehandler %s: %w", s.OID, err)
	}
	return nil
}

// sikreSaksbehandler makes sure a referenced caseworker row exists without
// touching recorded capabilities.
func (t *Tx) sikreSaksbehandler(ctx context.Context, s *saksbehandler.Saksbehandler) error {
	if s == nil {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO saksbehandler (oid, ident, navn, epost)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (oid) DO NOTHING`,
		s.OID, s.Ident, s.Navn, s.Epost,
	)
	if err != nil {
		return fmt.Errorf("storage: ensure saksbehandler %s: %w", s.OID, err)
	}
	return nil
}

// HentSaksbehandler loads a caseworker with their recorded capabilities.
func (t *Tx) HentSaksbehandler(ctx context.Context, oid uuid.UUID) (saksbehandler.Saksbehandler, error) {
	var (
		ident, navn, epost string
		grupper            []string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT ident, navn, epost, tilgangsgrupper FROM saksbehandler WHERE oid = $1`, oid,
	).Scan(&ident, &navn, &epost, &grupper)
	if errors.Is(err, pgx.ErrNoRows) {
		return saksbehandler.Saksbehandler{}, fmt.Errorf("storage: saksbehandler %s: %w", oid, ErrNotFound)
	}
	if err != nil {
		return saksbehandler.Saksbehandler{}, fmt.Errorf("storage: get saksbehandler %s: %w", oid, err)
	}
	return saksbehandler.MedGrupper(oid, ident, navn, epost, tekstTilGrupper(grupper)...), nil
}

// Reserver reserves a person for a caseworker until gyldigTil. New tasks for
// the person are assigned to that caseworker when their capabilities allow.
func (t *Tx) Reserver(ctx context.Context, fødselsnummer string, s saksbehandler.Saksbehandler, gyldigTil time.Time) error {
	if err := t.sikreSaksbehandler(ctx, &s); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservasjon (fodselsnummer, saksbehandler_id, gyldig_til)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fodselsnummer) DO UPDATE
		 SET saksbehandler_id = EXCLUDED.saksbehandler_id, gyldig_til = EXCLUDED.gyldig_til`,
		fødselsnummer, s.OID, gyldigTil,
	)
	if err != nil {
		return fmt.Errorf("storage: reserve person: %w", err)
	}
	return nil
}

// Reservasjon returns the caseworker holding a live reservation of the
// person, or nil.
func (t *Tx) Reservasjon(ctx context.Context, fødselsnummer string) (*saksbehandler.Saksbehandler, error) {
	var (
		oid                uuid.UUID
		ident, navn, epost string
		grupper            []string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT s.oid, s.ident, s.navn, s.epost, s.tilgangsgrupper
		 FROM reservasjon r JOIN saksbehandler s ON s.oid = r.saksbehandler_id
		 WHERE r.fodselsnummer = $1 AND r.gyldig_til > now()`, fødselsnummer,
	).Scan(&oid, &ident, &navn, &epost, &grupper)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get reservasjon: %w", err)
	}
	s := saksbehandler.MedGrupper(oid, ident, navn, epost, tekstTilGrupper(grupper)...)
	return &s, nil
}

func grupperTilTekst(g []saksbehandler.Tilgangsgruppe) []string {
	out := make([]string, len(g))
	for i, x := range g {
		out[i] = string(x)
	}
	return out
}

func tekstTilGrupper(s []string) []saksbehandler.Tilgangsgruppe {
	out := make([]saksbehandler.Tilgangsgruppe, len(s))
	for i, x := range s {
		out[i] = saksbehandler.Tilgangsgruppe(x)
	}
	return out
}

// saksbehandlerFraRad builds an optional caseworker from nullable join columns.
func saksbehandlerFraRad(oid *uuid.UUID, ident, navn, epost *string, grupper []string) *saksbehandler.Saksbehandler {
	if oid == nil {
		return nil
	}
	s := saksbehandler.MedGrupper(*oid, deref(ident), deref(navn), deref(epost), tekstTilGrupper(grupper)...)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
