package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/spesialist/internal/bus"
)

// LeggIUtboks queues messages for publishing using COPY. They become visible
// to the outbox worker when the transaction commits, in the order given.
func (t *Tx) LeggIUtboks(ctx context.Context, meldinger ...bus.Melding) error {
	if len(meldinger) == 0 {
		return nil
	}
	rows := make([][]any, len(meldinger))
	for i, m := range meldinger {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("storage: marshal melding %s: %w", m.ID, err)
		}
		rows[i] = []any{m.Nøkkel(), raw}
	}
	if _, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"utgaende_melding"},
		[]string{"nokkel", "melding"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("storage: queue %d meldinger: %w", len(meldinger), err)
	}
	return nil
}
