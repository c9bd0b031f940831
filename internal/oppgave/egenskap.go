package oppgave

import (
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

// Egenskap is a tag on an Oppgave. Some tags restrict who may work on it.
type Egenskap string

const (
	Søknad      Egenskap = "SØKNAD"
	Revurdering Egenskap = "REVURDERING"

	Førstegangsbehandling Egenskap = "FORSTEGANGSBEHANDLING"
	Forlengelse           Egenskap = "FORLENGELSE"
	OvergangFraIT         Egenskap = "OVERGANG_FRA_IT"
	Infotrygdforlengelse  Egenskap = "INFOTRYGDFORLENGELSE"

	EnArbeidsgiver     Egenskap = "EN_ARBEIDSGIVER"
	FlereArbeidsgivere Egenskap = "FLERE_ARBEIDSGIVERE"

	UtbetalingTilSykmeldt     Egenskap = "UTBETALING_TIL_SYKMELDT"
	UtbetalingTilArbeidsgiver Egenskap = "UTBETALING_TIL_ARBEIDSGIVER"
	DeltUtbetaling            Egenskap = "DELT_UTBETALING"
	IngenUtbetaling           Egenskap = "INGEN_UTBETALING"

	FortroligAdresse        Egenskap = "FORTROLIG_ADRESSE"
	StrengtFortroligAdresse Egenskap = "STRENGT_FORTROLIG_ADRESSE"
	EgenAnsatt              Egenskap = "EGEN_ANSATT"
	Stikkprøve              Egenskap = "STIKKPRØVE"
	RiskQA                  Egenskap = "RISK_QA"
	Vergemål                Egenskap = "VERGEMÅL"
	Fullmakt                Egenskap = "FULLMAKT"
	Utland                  Egenskap = "UTLAND"

	Beslutter Egenskap = "BESLUTTER"
	Retur     Egenskap = "RETUR"
	PåVent    Egenskap = "PÅ_VENT"
)

var tilgangsstyrte = map[Egenskap]saksbehandler.Tilgangsgruppe{
	FortroligAdresse:        saksbehandler.Kode7,
	StrengtFortroligAdresse: saksbehandler.StrengtFortrolig,
	EgenAnsatt:              saksbehandler.Skjermede,
	Beslutter:               saksbehandler.Beslutter,
	Stikkprøve:              saksbehandler.Stikkprøve,
	RiskQA:                  saksbehandler.RiskQA,
}

// Tilgangsgruppe returns the capability needed to work on a task carrying e.
// It reports false for tags anyone may work on.
func (e Egenskap) Tilgangsgruppe() (saksbehandler.Tilgangsgruppe, bool) {
	g, ok := tilgangsstyrte[e]
	return g, ok
}
