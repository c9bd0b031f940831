// Package kommando holds the workflow run for each godkjenningsbehov: gather
// facts about the person and case, decide whether the case can be automated,
// and otherwise set up review and create the task a caseworker will pick up.
package kommando

import (
	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/automatisering"
)

// Behov names requested by the workflow.
const (
	BehovPersoninfo      = "HentPersoninfoV2"
	BehovRisikovurdering = "Risikovurdering"
	BehovVergemål        = "Vergemål"
	BehovEgenAnsatt      = "EgenAnsatt"
	BehovÅpneOppgaver    = "ÅpneOppgaver"
)

// Godkjenningsbehov is the payload of a request to approve a payout.
type Godkjenningsbehov struct {
	Fødselsnummer           string                       `json:"fødselsnummer"`
	AktørID                 string                       `json:"aktørId"`
	VedtaksperiodeID        uuid.UUID                    `json:"vedtaksperiodeId"`
	UtbetalingID            uuid.UUID                    `json:"utbetalingId"`
	Kategori                automatisering.Kategori      `json:"kategori"`
	Periodetype             automatisering.Periodetype   `json:"periodetype"`
	Inntektskilde           automatisering.Inntektskilde `json:"inntektskilde"`
	Mottaker                automatisering.Mottaker      `json:"mottaker"`
	Beløp                   int64                        `json:"beløp"`
	KorrigertSøknad         bool                         `json:"korrigertSøknad"`
	KanAvvises              bool                         `json:"kanAvvises"`
	Utland                  bool                         `json:"utland"`
	Varsler                 []string                     `json:"varsler"`
	PågåendeOverstyring     bool                         `json:"pågåendeOverstyring"`
	KreverTotrinnsvurdering bool                         `json:"kreverTotrinnsvurdering"`
}

// Hendelse is a stored godkjenningsbehov. Its ID correlates every behov and
// løsning of the workflow.
type Hendelse struct {
	ID                uuid.UUID
	Godkjenningsbehov Godkjenningsbehov
}

// Adressebeskyttelse is the address protection level of a person.
type Adressebeskyttelse string

const (
	Ugradert               Adressebeskyttelse = "Ugradert"
	Fortrolig              Adressebeskyttelse = "Fortrolig"
	StrengtFortrolig       Adressebeskyttelse = "StrengtFortrolig"
	StrengtFortroligUtland Adressebeskyttelse = "StrengtFortroligUtland"
)

// Personinfo is the løsning for BehovPersoninfo.
type Personinfo struct {
	Fornavn            string             `json:"fornavn"`
	Etternavn          string             `json:"etternavn"`
	Adressebeskyttelse Adressebeskyttelse `json:"adressebeskyttelse"`
}

// VergemålLøsning is the løsning for BehovVergemål.
type VergemålLøsning struct {
	Vergemål bool `json:"vergemål"`
	Fullmakt bool `json:"fullmakt"`
}

// EgenAnsattLøsning is the løsning for BehovEgenAnsatt.
type EgenAnsattLøsning struct {
	EgenAnsatt bool `json:"egenAnsatt"`
}

// ÅpneOppgaverLøsning is the løsning for BehovÅpneOppgaver: open tasks for the
// person in other systems.
type ÅpneOppgaverLøsning struct {
	Antall int `json:"antall"`
}

// Vurderinger collects the answers gathered before the automation decision.
type Vurderinger struct {
	Risikovurdering *automatisering.Risikovurdering `json:"risikovurdering"`
	Vergemål        bool                            `json:"vergemål"`
	Fullmakt        bool                            `json:"fullmakt"`
	EgenAnsatt      bool                            `json:"egenAnsatt"`
	ÅpneOppgaver    int                             `json:"åpneOppgaver"`
}

// Vurdering is the automation decision as stored on the context.
type Vurdering struct {
	Automatisert bool     `json:"automatisert"`
	Stikkprøve   bool     `json:"stikkprøve"`
	Årsaker      []string `json:"årsaker,omitempty"`
}

func vurderingFra(u automatisering.Utfall) Vurdering {
	switch u := u.(type) {
	case automatisering.Automatisert:
		return Vurdering{Automatisert: true}
	case automatisering.Stikkprøve:
		return Vurdering{Stikkprøve: true, Årsaker: []string{u.Årsak}}
	case automatisering.ManuellSaksbehandling:
		return Vurdering{Årsaker: u.Årsaker}
	default:
		panic("kommando: unknown automatisering utfall")
	}
}
