package command

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/bus"
)

// BehovMelding folds every outstanding behov of a suspended context into one
// correlated message. It reports false when there is nothing to ask for.
func BehovMelding(c *Context, fødselsnummer string) (bus.Melding, bool) {
	if c.status != StatusSuspendert || len(c.behov) == 0 {
		return bus.Melding{}, false
	}
	contextID, hendelseID := c.id, c.hendelseID
	return bus.Melding{
		ID:               uuid.New(),
		Navn:             bus.Behov,
		Opprettet:        time.Now().UTC(),
		Fødselsnummer:    fødselsnummer,
		VedtaksperiodeID: c.vedtaksperiodeID,
		ContextID:        &contextID,
		HendelseID:       &hendelseID,
		Behov:            c.Utestående(),
		Behovdetaljer:    maps.Clone(c.behov),
	}, true
}

// Meldinger drains the messages produced by the last run: the behov message
// first, if the run stopped to wait, then everything the commands published,
// in the order they were published.
func (c *Context) Meldinger(fødselsnummer string) []bus.Melding {
	var out []bus.Melding
	if c.nyttStopp {
		if m, ok := BehovMelding(c, fødselsnummer); ok {
			out = append(out, m)
		}
		c.nyttStopp = false
	}
	out = append(out, c.meldinger...)
	c.meldinger = nil
	return out
}
