package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Hendelse is a stored inbound hendelse.
type Hendelse struct {
	ID               uuid.UUID
	Type             string
	Fødselsnummer    string
	VedtaksperiodeID uuid.UUID
	Payload          json.RawMessage
	Opprettet        time.Time
}

// LagreHendelse stores h. Storing the same id again is a no-op.
func (t *Tx) LagreHendelse(ctx context.Context, h Hendelse) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO hendelse (id, type, fodselsnummer, vedtaksperiode_id, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		h.ID, h.Type, h.Fødselsnummer, h.VedtaksperiodeID, []byte(h.Payload),
	)
	if err != nil {
		return fmt.Errorf("storage: save hendelse %s: %w", h.ID, err)
	}
	return nil
}

// HentHendelse loads a hendelse by id.
func (t *Tx) HentHendelse(ctx context.Context, id uuid.UUID) (Hendelse, error) {
	var (
		h       Hendelse
		payload []byte
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, type, fodselsnummer, vedtaksperiode_id, payload, opprettet
		 FROM hendelse WHERE id = $1`, id,
	).Scan(&h.ID, &h.Type, &h.Fødselsnummer, &h.VedtaksperiodeID, &payload, &h.Opprettet)
	if errors.Is(err, pgx.ErrNoRows) {
		return Hendelse{}, fmt.Errorf("storage: hendelse %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Hendelse{}, fmt.Errorf("storage: get hendelse %s: %w", id, err)
	}
	h.Payload = payload
	return h, nil
}

// MarkerMottatt records that message id has been handled. It reports false
// when the id was already recorded, meaning the message is a redelivery.
// The record is part of the transaction, so a failed attempt does not count.
func (t *Tx) MarkerMottatt(ctx context.Context, id uuid.UUID, navn string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO mottatt_melding (id, navn) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, navn,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark mottatt %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CleanupMottatteMeldinger forgets message ids older than ttl. Redeliveries
// older than that are no longer detected.
func (db *DB) CleanupMottatteMeldinger(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM mottatt_melding WHERE mottatt < now() - ($1 * interval '1 microsecond')`,
		ttl.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup mottatte meldinger: %w", err)
	}
	return tag.RowsAffected(), nil
}
