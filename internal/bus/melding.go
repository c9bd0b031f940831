// Package bus carries domain events between spesialist and the services that
// answer its behov.
//
// Every message is a JSON envelope published on a single shared channel.
// Consumers see all traffic and pick the events they care about by name,
// so the envelope carries enough correlation fields (contextId, hendelseId,
// vedtaksperiodeId) for any answer to find its way back.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	Godkjenningsbehov       = "godkjenningsbehov"
	Behov                   = "behov"
	VedtaksperiodeForkastet = "vedtaksperiode_forkastet"
	UtbetalingUtbetalt      = "utbetaling_utbetalt"
	Godkjenning             = "godkjenning"
	OppgaveOpprettet        = "oppgave_opprettet"
	OppgaveOppdatert        = "oppgave_oppdatert"
)

// Melding is the envelope for every message on the bus.
type Melding struct {
	ID               uuid.UUID                  `json:"@id"`
	Navn             string                     `json:"@event_name"`
	Opprettet        time.Time                  `json:"@opprettet"`
	Fødselsnummer    string                     `json:"fødselsnummer"`
	VedtaksperiodeID uuid.UUID                  `json:"vedtaksperiodeId"`
	ContextID        *uuid.UUID                 `json:"contextId,omitempty"`
	HendelseID       *uuid.UUID                 `json:"hendelseId,omitempty"`
	Behov            []string                   `json:"@behov,omitempty"`
	Behovdetaljer    map[string]json.RawMessage `json:"@behovdetaljer,omitempty"`
	Løsning          map[string]json.RawMessage `json:"@løsning,omitempty"`
	Payload          json.RawMessage            `json:"payload,omitempty"`
}

// Ny builds a message with a fresh id and the given payload marshalled as JSON.
// A nil payload leaves the payload field empty.
func Ny(navn, fødselsnummer string, vedtaksperiodeID uuid.UUID, payload any) (Melding, error) {
	m := Melding{
		ID:               uuid.New(),
		Navn:             navn,
		Opprettet:        time.Now().UTC(),
		Fødselsnummer:    fødselsnummer,
		VedtaksperiodeID: vedtaksperiodeID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Melding{}, fmt.Errorf("bus: marshal %s payload: %w", navn, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// Nøkkel is the partitioning key for the message. All messages about one
// person share a key so that they are delivered in order.
func (m Melding) Nøkkel() string {
	return m.Fødselsnummer
}

// ErLøsning reports whether the message answers one or more behov.
func (m Melding) ErLøsning() bool {
	return m.Navn == Behov && len(m.Løsning) > 0
}

// LesPayload unmarshals the payload into target.
func (m Melding) LesPayload(target any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("bus: %s %s has no payload", m.Navn, m.ID)
	}
	if err := json.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("bus: decode %s payload: %w", m.Navn, err)
	}
	return nil
}
