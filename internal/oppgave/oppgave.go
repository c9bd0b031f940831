// Package oppgave holds the caseworker task, its state machine and the
// two-tier review that rides on it.
//
// Every mutating method returns the Endringer it caused. Nothing is emitted
// behind the caller's back: the caller persists the task and publishes the
// returned Endringer in the same transaction.
//
// The main state runs AvventerSaksbehandler, then AvventerSystem, then
// Ferdigstilt. Invalidert can be reached from either non-terminal state.
// Once terminal, every operation is accepted and ignored.
//
// Caseworker actions (assignment, hold, review) only apply while the task
// waits for a caseworker. In other states they are ignored in the same way.
package oppgave

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

// EndringType names what happened to a task.
type EndringType string

const (
	EndringOpprettet         EndringType = "OPPRETTET"
	EndringTildelt           EndringType = "TILDELT"
	EndringAvmeldt           EndringType = "AVMELDT"
	EndringLagtPåVent        EndringType = "LAGT_PÅ_VENT"
	EndringFjernetFraPåVent  EndringType = "FJERNET_FRA_PÅ_VENT"
	EndringSendtTilBeslutter EndringType = "SENDT_TIL_BESLUTTER"
	EndringSendtIRetur       EndringType = "SENDT_I_RETUR"
	EndringAvventerSystem    EndringType = "AVVENTER_SYSTEM"
	EndringFerdigstilt       EndringType = "FERDIGSTILT"
	EndringInvalidert        EndringType = "INVALIDERT"
)

// Endring is a domain event describing the task right after a change.
type Endring struct {
	Type             EndringType `json:"type"`
	OppgaveID        uuid.UUID   `json:"oppgaveId"`
	VedtaksperiodeID uuid.UUID   `json:"vedtaksperiodeId"`
	UtbetalingID     uuid.UUID   `json:"utbetalingId"`
	Tilstand         string      `json:"tilstand"`
	Egenskaper       []Egenskap  `json:"egenskaper"`
	TildeltTil       *uuid.UUID  `json:"tildeltTil,omitempty"`
}

// Oppgave is the task a caseworker works on for one decision point.
type Oppgave struct {
	id                 uuid.UUID
	fødselsnummer      string
	vedtaksperiodeID   uuid.UUID
	utbetalingID       uuid.UUID
	hendelseID         uuid.UUID
	tilstand           Tilstand
	egenskaper         map[Egenskap]struct{}
	tildeltTil         *saksbehandler.Saksbehandler
	totrinn            *Totrinnsvurdering
	ferdigstiltAvIdent string
	ferdigstiltAvOID   *uuid.UUID
	kanAvvises         bool
	opprettet          time.Time
}

// NyOppgave describes a task to create.
type NyOppgave struct {
	Fødselsnummer     string
	VedtaksperiodeID  uuid.UUID
	UtbetalingID      uuid.UUID
	HendelseID        uuid.UUID
	Egenskaper        []Egenskap
	KanAvvises        bool
	Totrinnsvurdering *Totrinnsvurdering
}

// Opprett creates a task waiting for a caseworker.
func Opprett(n NyOppgave) (*Oppgave, []Endring) {
	o := &Oppgave{
		id:               uuid.New(),
		fødselsnummer:    n.Fødselsnummer,
		vedtaksperiodeID: n.VedtaksperiodeID,
		utbetalingID:     n.UtbetalingID,
		hendelseID:       n.HendelseID,
		tilstand:         AvventerSaksbehandler,
		egenskaper:       make(map[Egenskap]struct{}, len(n.Egenskaper)),
		totrinn:          n.Totrinnsvurdering,
		kanAvvises:       n.KanAvvises,
		opprettet:        time.Now().UTC(),
	}
	for _, e := range n.Egenskaper {
		o.egenskaper[e] = struct{}{}
	}
	return o, []Endring{o.endring(EndringOpprettet)}
}

func (o *Oppgave) ID() uuid.UUID                            { return o.id }
func (o *Oppgave) Fødselsnummer() string                    { return o.fødselsnummer }
func (o *Oppgave) VedtaksperiodeID() uuid.UUID              { return o.vedtaksperiodeID }
func (o *Oppgave) UtbetalingID() uuid.UUID                  { return o.utbetalingID }
func (o *Oppgave) HendelseID() uuid.UUID                    { return o.hendelseID }
func (o *Oppgave) Tilstand() Tilstand                       { return o.tilstand }
func (o *Oppgave) TildeltTil() *saksbehandler.Saksbehandler { return o.tildeltTil }
func (o *Oppgave) Totrinnsvurdering() *Totrinnsvurdering    { return o.totrinn }
func (o *Oppgave) KanAvvises() bool                         { return o.kanAvvises }
func (o *Oppgave) PåVent() bool                             { return o.Har(PåVent) }

// Har reports whether the task carries e.
func (o *Oppgave) Har(e Egenskap) bool {
	_, ok := o.egenskaper[e]
	return ok
}

// Egenskaper returns the tags, sorted.
func (o *Oppgave) Egenskaper() []Egenskap {
	return slices.Sorted(maps.Keys(o.egenskaper))
}

// FerdigstiltAv returns who submitted the decision, once it has been submitted.
func (o *Oppgave) FerdigstiltAv() (ident string, oid *uuid.UUID) {
	return o.ferdigstiltAvIdent, o.ferdigstiltAvOID
}

// ForsøkTildeling assigns the task to s. Assigning to the current assignee
// does nothing.
func (o *Oppgave) ForsøkTildeling(s saksbehandler.Saksbehandler) ([]Endring, error) {
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if o.tildeltTil != nil {
		if o.tildeltTil.Er(s) {
			return nil, nil
		}
		return nil, o.feil(KodeOppgaveTildeltNoenAndre)
	}
	if !o.harTilgang(s) {
		return nil, o.feil(KodeManglerTilgang)
	}
	o.tildeltTil = &s
	return []Endring{o.endring(EndringTildelt)}, nil
}

// ForsøkTildelingVedReservasjon assigns the task to a caseworker who has
// reserved the person, if that is allowed. Otherwise it does nothing.
func (o *Oppgave) ForsøkTildelingVedReservasjon(s saksbehandler.Saksbehandler) []Endring {
	endringer, err := o.ForsøkTildeling(s)
	if err != nil {
		return nil
	}
	return endringer
}

// ForsøkAvmelding unassigns s. If someone else holds the task it is left alone.
func (o *Oppgave) ForsøkAvmelding(s saksbehandler.Saksbehandler) ([]Endring, error) {
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if o.tildeltTil == nil {
		return nil, o.feil(KodeOppgaveIkkeTildelt)
	}
	if !o.tildeltTil.Er(s) {
		return nil, nil
	}
	o.tildeltTil = nil
	return []Endring{o.endring(EndringAvmeldt)}, nil
}

// LeggPåVent puts the task on hold. With skalTildeles the task is assigned
// to s; without it the task is released.
func (o *Oppgave) LeggPåVent(skalTildeles bool, s saksbehandler.Saksbehandler) ([]Endring, error) {
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if o.tildeltTil != nil && !o.tildeltTil.Er(s) {
		return nil, o.feil(KodeOppgaveTildeltNoenAndre)
	}
	if skalTildeles {
		if !o.harTilgang(s) {
			return nil, o.feil(KodeManglerTilgang)
		}
		o.tildeltTil = &s
	} else {
		o.tildeltTil = nil
	}
	o.egenskaper[PåVent] = struct{}{}
	return []Endring{o.endring(EndringLagtPåVent)}, nil
}

// FjernFraPåVent lifts the hold and releases the task. A task that is not on
// hold is left as is.
func (o *Oppgave) FjernFraPåVent() []Endring {
	if !o.venterPåSaksbehandler() || !o.Har(PåVent) {
		return nil
	}
	delete(o.egenskaper, PåVent)
	o.tildeltTil = nil
	return []Endring{o.endring(EndringFjernetFraPåVent)}
}

// SendTilBeslutter hands the task to the reviewer. The reviewer who sent it
// back earlier gets it again; otherwise it is left unassigned.
func (o *Oppgave) SendTilBeslutter(s saksbehandler.Saksbehandler) ([]Endring, error) {
	if o.totrinn == nil {
		return nil, fmt.Errorf("%w: oppgave %s", ErrTotrinnsvurderingMangler, o.id)
	}
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if o.Har(Beslutter) {
		return nil, o.feil(KodeOppgaveAlleredeSendtBeslutter)
	}
	o.tildeltTil = o.totrinn.sendTilBeslutter(s)
	delete(o.egenskaper, Retur)
	o.egenskaper[Beslutter] = struct{}{}
	return []Endring{o.endring(EndringSendtTilBeslutter)}, nil
}

// SendIRetur returns the task from reviewer b to the caseworker who sent it.
func (o *Oppgave) SendIRetur(b saksbehandler.Saksbehandler) ([]Endring, error) {
	if o.totrinn == nil {
		return nil, fmt.Errorf("%w: oppgave %s", ErrTotrinnsvurderingMangler, o.id)
	}
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if sb := o.totrinn.Saksbehandler(); sb != nil && sb.Er(b) {
		return nil, o.feil(KodeOppgaveKreverVurderingAvToSaksbehandlere)
	}
	if o.Har(Retur) {
		return nil, o.feil(KodeOppgaveAlleredeSendtIRetur)
	}
	o.tildeltTil = o.totrinn.sendIRetur(b)
	delete(o.egenskaper, Beslutter)
	delete(o.egenskaper, PåVent)
	o.egenskaper[Retur] = struct{}{}
	return []Endring{o.endring(EndringSendtIRetur)}, nil
}

// FattVedtak submits the decision by s. The task must be assigned to s. When
// the task is under two-tier review it must be with the reviewer, and the
// reviewer cannot be the caseworker who sent it.
func (o *Oppgave) FattVedtak(s saksbehandler.Saksbehandler) ([]Endring, error) {
	if !o.venterPåSaksbehandler() {
		return nil, nil
	}
	if o.tildeltTil == nil {
		return nil, o.feil(KodeOppgaveIkkeTildelt)
	}
	if !o.tildeltTil.Er(s) {
		return nil, o.feil(KodeOppgaveTildeltNoenAndre)
	}
	if t := o.totrinn; t != nil && t.ErAktiv() {
		if !o.Har(Beslutter) {
			return nil, o.feil(KodeOppgaveKreverBeslutter)
		}
		if sb := t.Saksbehandler(); sb != nil && sb.Er(s) {
			return nil, o.feil(KodeOppgaveKreverVurderingAvToSaksbehandlere)
		}
		t.godkjennAv(s)
	}
	delete(o.egenskaper, PåVent)
	return o.AvventerSystem(s.Ident, s.OID), nil
}

// AvventerSystem records that the decision was submitted and the task now
// waits for downstream confirmation.
func (o *Oppgave) AvventerSystem(ident string, oid uuid.UUID) []Endring {
	switch o.tilstand.(type) {
	case avventerSaksbehandler:
		o.tilstand = AvventerSystem
		o.ferdigstiltAvIdent = ident
		o.ferdigstiltAvOID = &oid
		return []Endring{o.endring(EndringAvventerSystem)}
	case avventerSystem, ferdigstilt, invalidert:
		return nil
	default:
		panic(fmt.Sprintf("oppgave: unknown tilstand %T", o.tilstand))
	}
}

// Ferdigstill completes the task once the payout is confirmed. A task still
// waiting for a caseworker can be completed by the system directly.
func (o *Oppgave) Ferdigstill() []Endring {
	switch o.tilstand.(type) {
	case avventerSaksbehandler, avventerSystem:
		o.tilstand = Ferdigstilt
		return []Endring{o.endring(EndringFerdigstilt)}
	case ferdigstilt, invalidert:
		return nil
	default:
		panic(fmt.Sprintf("oppgave: unknown tilstand %T", o.tilstand))
	}
}

// Avbryt invalidates the task, typically because the case was withdrawn.
func (o *Oppgave) Avbryt() []Endring {
	switch o.tilstand.(type) {
	case avventerSaksbehandler, avventerSystem:
		o.tilstand = Invalidert
		return []Endring{o.endring(EndringInvalidert)}
	case ferdigstilt, invalidert:
		return nil
	default:
		panic(fmt.Sprintf("oppgave: unknown tilstand %T", o.tilstand))
	}
}

func (o *Oppgave) venterPåSaksbehandler() bool {
	switch o.tilstand.(type) {
	case avventerSaksbehandler:
		return true
	case avventerSystem, ferdigstilt, invalidert:
		return false
	default:
		panic(fmt.Sprintf("oppgave: unknown tilstand %T", o.tilstand))
	}
}

func (o *Oppgave) harTilgang(s saksbehandler.Saksbehandler) bool {
	for e := range o.egenskaper {
		if g, ok := e.Tilgangsgruppe(); ok && !s.HarTilgang(g) {
			return false
		}
	}
	return true
}

func (o *Oppgave) endring(t EndringType) Endring {
	e := Endring{
		Type:             t,
		OppgaveID:        o.id,
		VedtaksperiodeID: o.vedtaksperiodeID,
		UtbetalingID:     o.utbetalingID,
		Tilstand:         o.tilstand.String(),
		Egenskaper:       o.Egenskaper(),
	}
	if o.tildeltTil != nil {
		oid := o.tildeltTil.OID
		e.TildeltTil = &oid
	}
	return e
}

// Snapshot is the persisted form of an Oppgave, without its review.
type Snapshot struct {
	ID                 uuid.UUID
	Fødselsnummer      string
	VedtaksperiodeID   uuid.UUID
	UtbetalingID       uuid.UUID
	HendelseID         uuid.UUID
	Tilstand           string
	Egenskaper         []Egenskap
	TildeltTil         *saksbehandler.Saksbehandler
	FerdigstiltAvIdent string
	FerdigstiltAvOID   *uuid.UUID
	KanAvvises         bool
	Opprettet          time.Time
}

// Snapshot captures the persisted state.
func (o *Oppgave) Snapshot() Snapshot {
	return Snapshot{
		ID:                 o.id,
		Fødselsnummer:      o.fødselsnummer,
		VedtaksperiodeID:   o.vedtaksperiodeID,
		UtbetalingID:       o.utbetalingID,
		HendelseID:         o.hendelseID,
		Tilstand:           o.tilstand.String(),
		Egenskaper:         o.Egenskaper(),
		TildeltTil:         o.tildeltTil,
		FerdigstiltAvIdent: o.ferdigstiltAvIdent,
		FerdigstiltAvOID:   o.ferdigstiltAvOID,
		KanAvvises:         o.kanAvvises,
		Opprettet:          o.opprettet,
	}
}

// Gjenopprett rebuilds a task from its snapshot and its review, if any.
func Gjenopprett(s Snapshot, totrinn *Totrinnsvurdering) (*Oppgave, error) {
	tilstand, err := TilstandFraNavn(s.Tilstand)
	if err != nil {
		return nil, err
	}
	o := &Oppgave{
		id:                 s.ID,
		fødselsnummer:      s.Fødselsnummer,
		vedtaksperiodeID:   s.VedtaksperiodeID,
		utbetalingID:       s.UtbetalingID,
		hendelseID:         s.HendelseID,
		tilstand:           tilstand,
		egenskaper:         make(map[Egenskap]struct{}, len(s.Egenskaper)),
		tildeltTil:         s.TildeltTil,
		totrinn:            totrinn,
		ferdigstiltAvIdent: s.FerdigstiltAvIdent,
		ferdigstiltAvOID:   s.FerdigstiltAvOID,
		kanAvvises:         s.KanAvvises,
		opprettet:          s.Opprettet,
	}
	for _, e := range s.Egenskaper {
		o.egenskaper[e] = struct{}{}
	}
	return o, nil
}
