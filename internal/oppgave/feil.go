package oppgave

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kode identifies a rejected caseworker action.
type Kode string

const (
	KodeManglerTilgang                           Kode = "ManglerTilgang"
	KodeOppgaveIkkeTildelt                       Kode = "OppgaveIkkeTildelt"
	KodeOppgaveTildeltNoenAndre                  Kode = "OppgaveTildeltNoenAndre"
	KodeOppgaveAlleredeSendtBeslutter            Kode = "OppgaveAlleredeSendtBeslutter"
	KodeOppgaveAlleredeSendtIRetur               Kode = "OppgaveAlleredeSendtIRetur"
	KodeOppgaveKreverVurderingAvToSaksbehandlere Kode = "OppgaveKreverVurderingAvToSaksbehandlere"
	KodeOppgaveKreverBeslutter                   Kode = "OppgaveKreverBeslutter"
)

// Feil is a caseworker action the task refused: an access violation or a
// step out of order. The caller turns it into a rejected request; it is never
// retried.
type Feil struct {
	Kode      Kode
	OppgaveID uuid.UUID
}

func (f *Feil) Error() string {
	if f.OppgaveID == uuid.Nil {
		return "oppgave: " + string(f.Kode)
	}
	return fmt.Sprintf("oppgave %s: %s", f.OppgaveID, f.Kode)
}

// Is matches sentinels by code, so errors.Is(err, ErrManglerTilgang) holds
// for any task.
func (f *Feil) Is(target error) bool {
	t, ok := target.(*Feil)
	if !ok {
		return false
	}
	return t.Kode == f.Kode && (t.OppgaveID == uuid.Nil || t.OppgaveID == f.OppgaveID)
}

// Sentinels for errors.Is.
var (
	ErrManglerTilgang                           = &Feil{Kode: KodeManglerTilgang}
	ErrOppgaveIkkeTildelt                       = &Feil{Kode: KodeOppgaveIkkeTildelt}
	ErrOppgaveTildeltNoenAndre                  = &Feil{Kode: KodeOppgaveTildeltNoenAndre}
	ErrOppgaveAlleredeSendtBeslutter            = &Feil{Kode: KodeOppgaveAlleredeSendtBeslutter}
	ErrOppgaveAlleredeSendtIRetur               = &Feil{Kode: KodeOppgaveAlleredeSendtIRetur}
	ErrOppgaveKreverVurderingAvToSaksbehandlere = &Feil{Kode: KodeOppgaveKreverVurderingAvToSaksbehandlere}
	ErrOppgaveKreverBeslutter                   = &Feil{Kode: KodeOppgaveKreverBeslutter}
)

// ErrTotrinnsvurderingMangler means the task was never set up for two-tier
// review. It is a configuration problem, not a Feil.
var ErrTotrinnsvurderingMangler = errors.New("oppgave: totrinnsvurdering er ikke konfigurert")

func (o *Oppgave) feil(k Kode) error {
	return &Feil{Kode: k, OppgaveID: o.id}
}
