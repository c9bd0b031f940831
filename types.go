package spesialist

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Melding is the public representation of a bus message.
// No internal package imports; safe to use from outside the module.
type Melding struct {
	ID               uuid.UUID
	Navn             string // @event_name
	Nøkkel           string // partitioning key; the person's fødselsnummer
	VedtaksperiodeID uuid.UUID
	Opprettet        time.Time
	Data             json.RawMessage // the full JSON envelope
}
