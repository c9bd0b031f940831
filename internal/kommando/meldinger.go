package kommando

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/oppgave"
)

// Godkjenning is the payload of the answer to a godkjenningsbehov.
type Godkjenning struct {
	HendelseID           uuid.UUID  `json:"hendelseId"`
	UtbetalingID         uuid.UUID  `json:"utbetalingId"`
	Godkjent             bool       `json:"godkjent"`
	AutomatiskBehandling bool       `json:"automatiskBehandling"`
	SaksbehandlerIdent   string     `json:"saksbehandlerIdent"`
	SaksbehandlerOID     *uuid.UUID `json:"saksbehandlerOid,omitempty"`
	BeslutterIdent       string     `json:"beslutterIdent,omitempty"`
	Begrunnelser         []string   `json:"begrunnelser,omitempty"`
}

// AutomatiskIdent is the ident recorded for decisions made by the system.
const AutomatiskIdent = "Automatisk behandlet"

// GodkjenningMelding builds the godkjenning message for a vedtaksperiode.
func GodkjenningMelding(fødselsnummer string, vedtaksperiodeID uuid.UUID, g Godkjenning) (bus.Melding, error) {
	m, err := bus.Ny(bus.Godkjenning, fødselsnummer, vedtaksperiodeID, g)
	if err != nil {
		return bus.Melding{}, err
	}
	hendelseID := g.HendelseID
	m.HendelseID = &hendelseID
	return m, nil
}

// OppgaveMeldinger turns task changes into bus messages, in order.
func OppgaveMeldinger(fødselsnummer string, endringer []oppgave.Endring) ([]bus.Melding, error) {
	out := make([]bus.Melding, 0, len(endringer))
	for _, e := range endringer {
		navn := bus.OppgaveOppdatert
		if e.Type == oppgave.EndringOpprettet {
			navn = bus.OppgaveOpprettet
		}
		m, err := bus.Ny(navn, fødselsnummer, e.VedtaksperiodeID, e)
		if err != nil {
			return nil, fmt.Errorf("kommando: oppgave %s: %w", e.OppgaveID, err)
		}
		out = append(out, m)
	}
	return out, nil
}
