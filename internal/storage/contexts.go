package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/command"
)

// LagreContext upserts the persisted state of c.
func (t *Tx) LagreContext(ctx context.Context, c *command.Context) error {
	snapshot, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("storage: marshal context %s: %w", c.ID(), err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO command_context (id, hendelse_id, vedtaksperiode_id, status, snapshot)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, oppdatert = now()`,
		c.ID(), c.HendelseID(), c.VedtaksperiodeID(), string(c.Status()), snapshot,
	)
	if err != nil {
		return fmt.Errorf("storage: save context %s: %w", c.ID(), err)
	}
	return nil
}

// HentContext loads and locks a context. Concurrent løsninger for the same
// context queue up behind the lock.
func (t *Tx) HentContext(ctx context.Context, id uuid.UUID) (*command.Context, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT snapshot FROM command_context WHERE id = $1 FOR UPDATE`, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("storage: context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get context %s: %w", id, err)
	}
	return decodeContext(raw)
}

// ContextForHendelse returns the context started by a hendelse, or nil.
func (t *Tx) ContextForHendelse(ctx context.Context, hendelseID uuid.UUID) (*command.Context, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT snapshot FROM command_context WHERE hendelse_id = $1
		 ORDER BY opprettet DESC LIMIT 1 FOR UPDATE`, hendelseID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get context for hendelse %s: %w", hendelseID, err)
	}
	return decodeContext(raw)
}

// AktiveContexter loads and locks every context for the vedtaksperiode that
// has not finished or been aborted.
func (t *Tx) AktiveContexter(ctx context.Context, vedtaksperiodeID uuid.UUID) ([]*command.Context, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT snapshot FROM command_context
		 WHERE vedtaksperiode_id = $1 AND status IN ('NY', 'SUSPENDERT')
		 ORDER BY opprettet
		 FOR UPDATE`, vedtaksperiodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active contexts: %w", err)
	}
	defer rows.Close()

	var out []*command.Context
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: scan context: %w", err)
		}
		c, err := decodeContext(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeContext(raw []byte) (*command.Context, error) {
	var s command.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("storage: decode context: %w", err)
	}
	return command.Gjenopprett(s), nil
}
