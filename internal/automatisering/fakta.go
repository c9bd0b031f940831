package automatisering

import (
	"slices"

	"github.com/google/uuid"
)

// Periodetype classifies the vedtaksperiode relative to earlier periods.
type Periodetype string

const (
	Førstegangsbehandling Periodetype = "FORSTEGANGSBEHANDLING"
	Forlengelse           Periodetype = "FORLENGELSE"
	Infotrygdforlengelse  Periodetype = "INFOTRYGDFORLENGELSE"
	OvergangFraIT         Periodetype = "OVERGANG_FRA_IT"
)

// Inntektskilde says whether one or several employers are involved.
type Inntektskilde string

const (
	EnArbeidsgiver     Inntektskilde = "EN_ARBEIDSGIVER"
	FlereArbeidsgivere Inntektskilde = "FLERE_ARBEIDSGIVERE"
)

// Mottaker is who receives the payout.
type Mottaker string

const (
	MottakerSykmeldt     Mottaker = "SYKMELDT"
	MottakerArbeidsgiver Mottaker = "ARBEIDSGIVER"
	MottakerBegge        Mottaker = "BEGGE"
	MottakerIngen        Mottaker = "INGEN"
)

// TilSykmeldt reports whether any part of the payout goes to the insured person.
func (m Mottaker) TilSykmeldt() bool {
	return m == MottakerSykmeldt || m == MottakerBegge
}

// Kategori is the kind of case being decided.
type Kategori string

const (
	KategoriSøknad      Kategori = "SØKNAD"
	KategoriRevurdering Kategori = "REVURDERING"
)

// Risikovurdering is the answer from the risk assessment.
type Risikovurdering struct {
	KanGodkjennesAutomatisk  bool     `json:"kanGodkjennesAutomatisk"`
	KreverSupersaksbehandler bool     `json:"kreverSupersaksbehandler"`
	Funn                     []string `json:"funn,omitempty"`
}

// Fakta is everything the decision looks at for one godkjenningsbehov.
type Fakta struct {
	HendelseID       uuid.UUID
	VedtaksperiodeID uuid.UUID
	UtbetalingID     uuid.UUID

	Kategori        Kategori
	Periodetype     Periodetype
	Inntektskilde   Inntektskilde
	Mottaker        Mottaker
	Beløp           int64
	KorrigertSøknad bool

	// Risikovurdering is nil when no assessment exists.
	Risikovurdering     *Risikovurdering
	Varsler             []string
	ÅpneOppgaver        int
	Vergemål            bool
	Fullmakt            bool
	EgenAnsatt          bool
	PågåendeOverstyring bool
}

// celInput is the fakta as seen by configured rules. Keys are plain ASCII
// so expressions can select them as fields.
func (f Fakta) celInput() map[string]any {
	var risiko any
	if f.Risikovurdering != nil {
		risiko = map[string]any{
			"kanGodkjennesAutomatisk":  f.Risikovurdering.KanGodkjennesAutomatisk,
			"kreverSupersaksbehandler": f.Risikovurdering.KreverSupersaksbehandler,
			"funn":                     slices.Clone(f.Risikovurdering.Funn),
		}
	}
	varsler := f.Varsler
	if varsler == nil {
		varsler = []string{}
	}
	return map[string]any{
		"fakta": map[string]any{
			"vedtaksperiodeId":    f.VedtaksperiodeID.String(),
			"utbetalingId":        f.UtbetalingID.String(),
			"kategori":            string(f.Kategori),
			"periodetype":         string(f.Periodetype),
			"inntektskilde":       string(f.Inntektskilde),
			"mottaker":            string(f.Mottaker),
			"belop":               f.Beløp,
			"korrigertSoknad":     f.KorrigertSøknad,
			"risikovurdering":     risiko,
			"varsler":             varsler,
			"apneOppgaver":        int64(f.ÅpneOppgaver),
			"vergemal":            f.Vergemål,
			"fullmakt":            f.Fullmakt,
			"egenAnsatt":          f.EgenAnsatt,
			"pagaendeOverstyring": f.PågåendeOverstyring,
		},
	}
}
