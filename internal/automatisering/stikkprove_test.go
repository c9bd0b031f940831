package automatisering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStikkprøveStrata(t *testing.T) {
	s := Stikkprøver{
		UTSEnArbeidsgiverFørstegangsbehandling:              1,
		UTSEnArbeidsgiverForlengelse:                        2,
		UTSFlereArbeidsgivereFørstegangsbehandling:          3,
		UTSFlereArbeidsgivereForlengelse:                    4,
		FullRefusjonEnArbeidsgiverFørstegangsbehandling:     5,
		FullRefusjonEnArbeidsgiverForlengelse:               6,
		FullRefusjonFlereArbeidsgivereFørstegangsbehandling: 7,
		FullRefusjonFlereArbeidsgivereForlengelse:           8,
	}
	tests := []struct {
		mottaker    Mottaker
		kilde       Inntektskilde
		periodetype Periodetype
		want        int
	}{
		{MottakerSykmeldt, EnArbeidsgiver, Førstegangsbehandling, 1},
		{MottakerBegge, EnArbeidsgiver, Forlengelse, 2},
		{MottakerSykmeldt, FlereArbeidsgivere, Førstegangsbehandling, 3},
		{MottakerSykmeldt, FlereArbeidsgivere, Forlengelse, 4},
		{MottakerArbeidsgiver, EnArbeidsgiver, Førstegangsbehandling, 5},
		{MottakerArbeidsgiver, EnArbeidsgiver, Forlengelse, 6},
		{MottakerArbeidsgiver, FlereArbeidsgivere, Førstegangsbehandling, 7},
		{MottakerArbeidsgiver, FlereArbeidsgivere, Forlengelse, 8},
		{MottakerIngen, EnArbeidsgiver, Forlengelse, 0},
		{MottakerArbeidsgiver, EnArbeidsgiver, Infotrygdforlengelse, 0},
	}
	for _, tt := range tests {
		f := Fakta{Mottaker: tt.mottaker, Inntektskilde: tt.kilde, Periodetype: tt.periodetype}
		got, _ := s.divisor(f)
		assert.Equal(t, tt.want, got, "%s/%s/%s", tt.mottaker, tt.kilde, tt.periodetype)
	}
}
