package oppgave

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

// Totrinnsvurdering is the two-tier review of one vedtaksperiode. It stays
// active until a payout reference is stamped on it.
type Totrinnsvurdering struct {
	id               uuid.UUID
	vedtaksperiodeID uuid.UUID
	saksbehandler    *saksbehandler.Saksbehandler
	beslutter        *saksbehandler.Saksbehandler
	erRetur          bool
	utbetalingID     *uuid.UUID
	opprettet        time.Time
	oppdatert        *time.Time
}

// NyTotrinnsvurdering opens an active review for the vedtaksperiode.
func NyTotrinnsvurdering(vedtaksperiodeID uuid.UUID) *Totrinnsvurdering {
	return &Totrinnsvurdering{
		id:               uuid.New(),
		vedtaksperiodeID: vedtaksperiodeID,
		opprettet:        time.Now().UTC(),
	}
}

func (t *Totrinnsvurdering) ID() uuid.UUID               { return t.id }
func (t *Totrinnsvurdering) VedtaksperiodeID() uuid.UUID { return t.vedtaksperiodeID }
func (t *Totrinnsvurdering) ErRetur() bool               { return t.erRetur }
func (t *Totrinnsvurdering) UtbetalingID() *uuid.UUID    { return t.utbetalingID }

// Saksbehandler is the caseworker who last sent the case to review.
func (t *Totrinnsvurdering) Saksbehandler() *saksbehandler.Saksbehandler { return t.saksbehandler }

// Beslutter is the reviewer who last acted on the case.
func (t *Totrinnsvurdering) Beslutter() *saksbehandler.Saksbehandler { return t.beslutter }

// ErAktiv reports whether the review is still open.
func (t *Totrinnsvurdering) ErAktiv() bool { return t.utbetalingID == nil }

// sendTilBeslutter records s as the submitting caseworker and returns the
// reviewer to hand the task back to, if one has acted before.
func (t *Totrinnsvurdering) sendTilBeslutter(s saksbehandler.Saksbehandler) *saksbehandler.Saksbehandler {
	t.saksbehandler = &s
	t.erRetur = false
	t.touch()
	return t.beslutter
}

// sendIRetur records b as reviewer and returns the submitting caseworker.
func (t *Totrinnsvurdering) sendIRetur(b saksbehandler.Saksbehandler) *saksbehandler.Saksbehandler {
	t.beslutter = &b
	t.erRetur = true
	t.touch()
	return t.saksbehandler
}

func (t *Totrinnsvurdering) godkjennAv(b saksbehandler.Saksbehandler) {
	t.beslutter = &b
	t.erRetur = false
	t.touch()
}

// Ferdigstill closes the review by stamping the payout it ended in. Closing
// an already closed review does nothing.
func (t *Totrinnsvurdering) Ferdigstill(utbetalingID uuid.UUID) {
	if !t.ErAktiv() {
		return
	}
	t.utbetalingID = &utbetalingID
	t.touch()
}

func (t *Totrinnsvurdering) touch() {
	now := time.Now().UTC()
	t.oppdatert = &now
}

// TotrinnsvurderingSnapshot is the persisted form of a Totrinnsvurdering.
type TotrinnsvurderingSnapshot struct {
	ID               uuid.UUID
	VedtaksperiodeID uuid.UUID
	Saksbehandler    *saksbehandler.Saksbehandler
	Beslutter        *saksbehandler.Saksbehandler
	ErRetur          bool
	UtbetalingID     *uuid.UUID
	Opprettet        time.Time
	Oppdatert        *time.Time
}

// Snapshot captures the persisted state.
func (t *Totrinnsvurdering) Snapshot() TotrinnsvurderingSnapshot {
	return TotrinnsvurderingSnapshot{
		ID:               t.id,
		VedtaksperiodeID: t.vedtaksperiodeID,
		Saksbehandler:    t.saksbehandler,
		Beslutter:        t.beslutter,
		ErRetur:          t.erRetur,
		UtbetalingID:     t.utbetalingID,
		Opprettet:        t.opprettet,
		Oppdatert:        t.oppdatert,
	}
}

// GjenopprettTotrinnsvurdering rebuilds a review from its snapshot.
func GjenopprettTotrinnsvurdering(s TotrinnsvurderingSnapshot) *Totrinnsvurdering {
	return &Totrinnsvurdering{
		id:               s.ID,
		vedtaksperiodeID: s.VedtaksperiodeID,
		saksbehandler:    s.Saksbehandler,
		beslutter:        s.Beslutter,
		erRetur:          s.ErRetur,
		utbetalingID:     s.UtbetalingID,
		opprettet:        s.Opprettet,
		oppdatert:        s.Oppdatert,
	}
}
