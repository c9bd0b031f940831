package automatisering

import "math/rand/v2"

// Stikkprøver holds the sampling divisors. A case is sampled with
// probability 1/divisor; zero turns sampling off for that combination.
//
// UTS means some of the payout goes to the insured person. FullRefusjon means
// all of it goes to the employer.
type Stikkprøver struct {
	UTSEnArbeidsgiverFørstegangsbehandling              int
	UTSEnArbeidsgiverForlengelse                        int
	UTSFlereArbeidsgivereFørstegangsbehandling          int
	UTSFlereArbeidsgivereForlengelse                    int
	FullRefusjonEnArbeidsgiverFørstegangsbehandling     int
	FullRefusjonEnArbeidsgiverForlengelse               int
	FullRefusjonFlereArbeidsgivereFørstegangsbehandling int
	FullRefusjonFlereArbeidsgivereForlengelse           int
}

// Trekk draws whether a case is sampled given a positive divisor.
type Trekk func(divisor int) bool

func tilfeldigTrekk(divisor int) bool {
	return rand.IntN(divisor) == 0 //nolint:gosec // sampling, not security
}

// divisor picks the divisor and a readable label for the case's stratum.
func (s Stikkprøver) divisor(f Fakta) (int, string) {
	type nøkkel struct {
		uts   bool
		flere bool
		fgb   bool
	}
	var k nøkkel
	switch {
	case f.Mottaker.TilSykmeldt():
		k.uts = true
	case f.Mottaker == MottakerArbeidsgiver:
	default:
		return 0, ""
	}
	switch f.Inntektskilde {
	case EnArbeidsgiver:
	case FlereArbeidsgivere:
		k.flere = true
	default:
		return 0, ""
	}
	switch f.Periodetype {
	case Førstegangsbehandling:
		k.fgb = true
	case Forlengelse:
	default:
		return 0, ""
	}

	tabell := map[nøkkel]int{
		{uts: true, flere: false, fgb: true}:   s.UTSEnArbeidsgiverFørstegangsbehandling,
		{uts: true, flere: false, fgb: false}:  s.UTSEnArbeidsgiverForlengelse,
		{uts: true, flere: true, fgb: true}:    s.UTSFlereArbeidsgivereFørstegangsbehandling,
		{uts: true, flere: true, fgb: false}:   s.UTSFlereArbeidsgivereForlengelse,
		{uts: false, flere: false, fgb: true}:  s.FullRefusjonEnArbeidsgiverFørstegangsbehandling,
		{uts: false, flere: false, fgb: false}: s.FullRefusjonEnArbeidsgiverForlengelse,
		{uts: false, flere: true, fgb: true}:   s.FullRefusjonFlereArbeidsgivereFørstegangsbehandling,
		{uts: false, flere: true, fgb: false}:  s.FullRefusjonFlereArbeidsgivereForlengelse,
	}

	etikett := "Stikkprøve full refusjon"
	if k.uts {
		etikett = "Stikkprøve UTS"
	}
	if k.flere {
		etikett += " flere arbeidsgivere"
	} else {
		etikett += " én arbeidsgiver"
	}
	if k.fgb {
		etikett += ", førstegangsbehandling"
	} else {
		etikett += ", forlengelse"
	}
	return tabell[k], etikett
}
