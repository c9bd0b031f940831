package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/automatisering"
)

var _ automatisering.Logg = (*Tx)(nil)

// TidligereResultat returns the automation result logged for the hendelse, or nil.
func (t *Tx) TidligereResultat(ctx context.Context, hendelseID uuid.UUID) (*automatisering.Resultat, error) {
	var r automatisering.Resultat
	err := t.tx.QueryRow(ctx,
		`SELECT hendelse_id, vedtaksperiode_id, utbetaling_id, automatisert, stikkprove,
		        korrigert_soknad, arsaker, opprettet
		 FROM automatisering WHERE hendelse_id = $1`, hendelseID,
	).Scan(&r.HendelseID, &r.VedtaksperiodeID, &r.UtbetalingID, &r.Automatisert, &r.Stikkprøve,
		&r.KorrigertSøknad, &r.Årsaker, &r.Opprettet)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get automatisering %s: %w", hendelseID, err)
	}
	return &r, nil
}

// AntallAutomatiserteKorrigerteSøknader counts automated corrected
// applications for the vedtaksperiode logged at or after siden.
func (t *Tx) AntallAutomatiserteKorrigerteSøknader(ctx context.Context, vedtaksperiodeID uuid.UUID, siden time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM automatisering
		 WHERE vedtaksperiode_id = $1 AND automatisert AND korrigert_soknad AND opprettet >= $2`,
		vedtaksperiodeID, siden,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count korrigerte søknader: %w", err)
	}
	return n, nil
}

// Lagre logs an automation result. A hendelse has one result; logging it
// again keeps the first.
func (t *Tx) Lagre(ctx context.Context, r automatisering.Resultat) error {
	årsaker := r.Årsaker
	if årsaker == nil {
		årsaker = []string{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO automatisering
		   (hendelse_id, vedtaksperiode_id, utbetaling_id, automatisert, stikkprove, korrigert_soknad, arsaker, opprettet)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (hendelse_id) DO NOTHING`,
		r.HendelseID, r.VedtaksperiodeID, r.UtbetalingID, r.Automatisert, r.Stikkprøve,
		r.KorrigertSøknad, årsaker, r.Opprettet,
	)
	if err != nil {
		return fmt.Errorf("storage: save automatisering %s: %w", r.HendelseID, err)
	}
	return nil
}
