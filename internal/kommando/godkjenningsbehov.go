package kommando

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/spesialist/internal/automatisering"
	"github.com/ashita-ai/spesialist/internal/command"
	"github.com/ashita-ai/spesialist/internal/oppgave"
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
)

// Context data keys.
const (
	dataPersoninfo  = "personinfo"
	dataVurderinger = "vurderinger"
	dataVurdering   = "automatisering"
)

// Oppgaver loads and stores tasks. AktivOppgave returns nil when the
// vedtaksperiode has no task in a non-terminal state.
type Oppgaver interface {
	AktivOppgave(ctx context.Context, vedtaksperiodeID uuid.UUID) (*oppgave.Oppgave, error)
	LagreOppgave(ctx context.Context, o *oppgave.Oppgave) error
}

// Totrinnsvurderinger loads and stores reviews. AktivTotrinnsvurdering
// returns nil when no open review exists.
type Totrinnsvurderinger interface {
	AktivTotrinnsvurdering(ctx context.Context, vedtaksperiodeID uuid.UUID) (*oppgave.Totrinnsvurdering, error)
	LagreTotrinnsvurdering(ctx context.Context, t *oppgave.Totrinnsvurdering) error
}

// Reservasjoner finds the caseworker who has reserved a person, or nil.
type Reservasjoner interface {
	Reservasjon(ctx context.Context, fødselsnummer string) (*saksbehandler.Saksbehandler, error)
}

// Lager is everything the workflow reads and writes. All of it must belong
// to one unit of work.
type Lager interface {
	Oppgaver
	Totrinnsvurderinger
	Reservasjoner
	automatisering.Logg
}

// Fabrikk builds workflows. It is created once and shared.
type Fabrikk struct {
	cfg    automatisering.Config
	opts   []automatisering.Option
	logger *slog.Logger
}

// NyFabrikk returns a Fabrikk deciding automation with cfg.
func NyFabrikk(cfg automatisering.Config, logger *slog.Logger, opts ...automatisering.Option) *Fabrikk {
	return &Fabrikk{
		cfg:    cfg,
		opts:   append([]automatisering.Option{automatisering.WithLogger(logger)}, opts...),
		logger: logger,
	}
}

// Godkjenningsbehov builds the workflow for h. The same Macro shape is built
// for the first run and every resume.
func (f *Fabrikk) Godkjenningsbehov(lager Lager, h Hendelse) *command.Macro {
	g := &godkjenning{
		hendelse:       h,
		lager:          lager,
		automatisering: automatisering.New(f.cfg, lager, f.opts...),
		logger:         f.logger,
	}
	return command.NewMacro("godkjenningsbehov",
		command.Step{Name: "innhent_personinfo", Run: g.innhentPersoninfo},
		command.Step{Name: "innhent_vurderinger", Run: g.innhentVurderinger},
		command.Step{Name: "vurder_automatisering", Run: g.vurderAutomatisering},
		command.Step{Name: "opprett_totrinnsvurdering", Run: g.opprettTotrinnsvurdering},
		command.Step{Name: "opprett_oppgave", Run: g.opprettOppgave},
	)
}

type godkjenning struct {
	hendelse       Hendelse
	lager          Lager
	automatisering *automatisering.Automatisering
	logger         *slog.Logger
}

func (g *godkjenning) behov() Godkjenningsbehov { return g.hendelse.Godkjenningsbehov }

func (g *godkjenning) innhentPersoninfo(_ context.Context, cc *command.Context) (bool, error) {
	var info Personinfo
	if ok, err := cc.Hent(dataPersoninfo, &info); ok || err != nil {
		return ok, err
	}
	ok, err := cc.Løsning(BehovPersoninfo, &info)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, cc.Behov(BehovPersoninfo, map[string]string{"aktørId": g.behov().AktørID})
	}
	return true, cc.Lagre(dataPersoninfo, info)
}

// innhentVurderinger asks for all remaining facts at once. They are answered
// together, so one resume sees every løsning.
func (g *godkjenning) innhentVurderinger(_ context.Context, cc *command.Context) (bool, error) {
	var v Vurderinger
	if ok, err := cc.Hent(dataVurderinger, &v); ok || err != nil {
		return ok, err
	}

	params := map[string]any{
		BehovRisikovurdering: map[string]any{
			"vedtaksperiodeId": g.behov().VedtaksperiodeID,
			"periodetype":      g.behov().Periodetype,
		},
		BehovVergemål:     nil,
		BehovEgenAnsatt:   nil,
		BehovÅpneOppgaver: map[string]string{"aktørId": g.behov().AktørID},
	}

	var (
		vergemål   VergemålLøsning
		egenAnsatt EgenAnsattLøsning
		åpne       ÅpneOppgaverLøsning
		mangler    []string
	)
	for navn, target := range map[string]any{
		BehovRisikovurdering: &v.Risikovurdering,
		BehovVergemål:        &vergemål,
		BehovEgenAnsatt:      &egenAnsatt,
		BehovÅpneOppgaver:    &åpne,
	} {
		ok, err := cc.Løsning(navn, target)
		if err != nil {
			return false, err
		}
		if !ok {
			mangler = append(mangler, navn)
		}
	}
	if len(mangler) > 0 {
		for _, navn := range mangler {
			if err := cc.Behov(navn, params[navn]); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	v.Vergemål = vergemål.Vergemål
	v.Fullmakt = vergemål.Fullmakt
	v.EgenAnsatt = egenAnsatt.EgenAnsatt
	v.ÅpneOppgaver = åpne.Antall
	return true, cc.Lagre(dataVurderinger, v)
}

func (g *godkjenning) vurderAutomatisering(ctx context.Context, cc *command.Context) (bool, error) {
	var vurdering Vurdering
	if ok, err := cc.Hent(dataVurdering, &vurdering); ok || err != nil {
		return ok, err
	}
	var v Vurderinger
	if _, err := cc.Hent(dataVurderinger, &v); err != nil {
		return false, err
	}

	b := g.behov()
	fakta := automatisering.Fakta{
		HendelseID:          g.hendelse.ID,
		VedtaksperiodeID:    b.VedtaksperiodeID,
		UtbetalingID:        b.UtbetalingID,
		Kategori:            b.Kategori,
		Periodetype:         b.Periodetype,
		Inntektskilde:       b.Inntektskilde,
		Mottaker:            b.Mottaker,
		Beløp:               b.Beløp,
		KorrigertSøknad:     b.KorrigertSøknad,
		Risikovurdering:     v.Risikovurdering,
		Varsler:             b.Varsler,
		ÅpneOppgaver:        v.ÅpneOppgaver,
		Vergemål:            v.Vergemål,
		Fullmakt:            v.Fullmakt,
		EgenAnsatt:          v.EgenAnsatt,
		PågåendeOverstyring: b.PågåendeOverstyring,
	}
	utfall, err := g.automatisering.Utfør(ctx, fakta, func(context.Context) error {
		m, err := GodkjenningMelding(b.Fødselsnummer, b.VedtaksperiodeID, Godkjenning{
			HendelseID:           g.hendelse.ID,
			UtbetalingID:         b.UtbetalingID,
			Godkjent:             true,
			AutomatiskBehandling: true,
			SaksbehandlerIdent:   AutomatiskIdent,
		})
		if err != nil {
			return err
		}
		cc.Publiser(m)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, cc.Lagre(dataVurdering, vurderingFra(utfall))
}

func (g *godkjenning) opprettTotrinnsvurdering(ctx context.Context, cc *command.Context) (bool, error) {
	vurdering, err := g.vurdering(cc)
	if err != nil || vurdering.Automatisert {
		return err == nil, err
	}
	b := g.behov()
	if !b.PågåendeOverstyring && !b.KreverTotrinnsvurdering {
		return true, nil
	}
	aktiv, err := g.lager.AktivTotrinnsvurdering(ctx, b.VedtaksperiodeID)
	if err != nil {
		return false, fmt.Errorf("kommando: load totrinnsvurdering: %w", err)
	}
	if aktiv != nil {
		return true, nil
	}
	if err := g.lager.LagreTotrinnsvurdering(ctx, oppgave.NyTotrinnsvurdering(b.VedtaksperiodeID)); err != nil {
		return false, fmt.Errorf("kommando: save totrinnsvurdering: %w", err)
	}
	return true, nil
}

func (g *godkjenning) opprettOppgave(ctx context.Context, cc *command.Context) (bool, error) {
	vurdering, err := g.vurdering(cc)
	if err != nil || vurdering.Automatisert {
		return err == nil, err
	}
	b := g.behov()
	eksisterende, err := g.lager.AktivOppgave(ctx, b.VedtaksperiodeID)
	if err != nil {
		return false, fmt.Errorf("kommando: load oppgave: %w", err)
	}
	if eksisterende != nil && eksisterende.UtbetalingID() == b.UtbetalingID {
		g.logger.Info("kommando: oppgave finnes allerede",
			"oppgave_id", eksisterende.ID(), "vedtaksperiode_id", b.VedtaksperiodeID)
		return true, nil
	}
	if eksisterende != nil {
		// A task for an earlier utbetaling is stale. It must be saved before
		// the new one so the vedtaksperiode never has two active tasks.
		if err := g.invalider(ctx, cc, eksisterende); err != nil {
			return false, err
		}
	}

	var info Personinfo
	if _, err := cc.Hent(dataPersoninfo, &info); err != nil {
		return false, err
	}
	var v Vurderinger
	if _, err := cc.Hent(dataVurderinger, &v); err != nil {
		return false, err
	}
	totrinn, err := g.lager.AktivTotrinnsvurdering(ctx, b.VedtaksperiodeID)
	if err != nil {
		return false, fmt.Errorf("kommando: load totrinnsvurdering: %w", err)
	}

	o, endringer := oppgave.Opprett(oppgave.NyOppgave{
		Fødselsnummer:     b.Fødselsnummer,
		VedtaksperiodeID:  b.VedtaksperiodeID,
		UtbetalingID:      b.UtbetalingID,
		HendelseID:        g.hendelse.ID,
		Egenskaper:        egenskaper(b, info, v, vurdering),
		KanAvvises:        b.KanAvvises,
		Totrinnsvurdering: totrinn,
	})
	reservert, err := g.lager.Reservasjon(ctx, b.Fødselsnummer)
	if err != nil {
		return false, fmt.Errorf("kommando: load reservasjon: %w", err)
	}
	if reservert != nil {
		endringer = append(endringer, o.ForsøkTildelingVedReservasjon(*reservert)...)
	}
	if err := g.lager.LagreOppgave(ctx, o); err != nil {
		return false, fmt.Errorf("kommando: save oppgave: %w", err)
	}

	meldinger, err := OppgaveMeldinger(b.Fødselsnummer, endringer)
	if err != nil {
		return false, err
	}
	for _, m := range meldinger {
		cc.Publiser(m)
	}
	g.logger.Info("kommando: oppgave opprettet",
		"oppgave_id", o.ID(), "vedtaksperiode_id", b.VedtaksperiodeID, "egenskaper", o.Egenskaper())
	return true, nil
}

func (g *godkjenning) invalider(ctx context.Context, cc *command.Context, o *oppgave.Oppgave) error {
	endringer := o.Avbryt()
	if err := g.lager.LagreOppgave(ctx, o); err != nil {
		return fmt.Errorf("kommando: save invalidated oppgave: %w", err)
	}
	meldinger, err := OppgaveMeldinger(o.Fødselsnummer(), endringer)
	if err != nil {
		return err
	}
	for _, m := range meldinger {
		cc.Publiser(m)
	}
	g.logger.Info("kommando: oppgave for tidligere utbetaling invalidert",
		"oppgave_id", o.ID(), "utbetaling_id", o.UtbetalingID(), "vedtaksperiode_id", o.VedtaksperiodeID())
	return nil
}

func (g *godkjenning) vurdering(cc *command.Context) (Vurdering, error) {
	var v Vurdering
	ok, err := cc.Hent(dataVurdering, &v)
	if err != nil {
		return Vurdering{}, err
	}
	if !ok {
		return Vurdering{}, fmt.Errorf("kommando: hendelse %s has no automatisering result", g.hendelse.ID)
	}
	return v, nil
}

func egenskaper(b Godkjenningsbehov, info Personinfo, v Vurderinger, vurdering Vurdering) []oppgave.Egenskap {
	var e []oppgave.Egenskap
	add := func(ok bool, egenskap oppgave.Egenskap) {
		if ok {
			e = append(e, egenskap)
		}
	}

	switch b.Kategori {
	case automatisering.KategoriRevurdering:
		e = append(e, oppgave.Revurdering)
	default:
		e = append(e, oppgave.Søknad)
	}
	switch b.Periodetype {
	case automatisering.Førstegangsbehandling:
		e = append(e, oppgave.Førstegangsbehandling)
	case automatisering.Forlengelse:
		e = append(e, oppgave.Forlengelse)
	case automatisering.Infotrygdforlengelse:
		e = append(e, oppgave.Infotrygdforlengelse)
	case automatisering.OvergangFraIT:
		e = append(e, oppgave.OvergangFraIT)
	}
	switch b.Inntektskilde {
	case automatisering.EnArbeidsgiver:
		e = append(e, oppgave.EnArbeidsgiver)
	case automatisering.FlereArbeidsgivere:
		e = append(e, oppgave.FlereArbeidsgivere)
	}
	switch b.Mottaker {
	case automatisering.MottakerSykmeldt:
		e = append(e, oppgave.UtbetalingTilSykmeldt)
	case automatisering.MottakerArbeidsgiver:
		e = append(e, oppgave.UtbetalingTilArbeidsgiver)
	case automatisering.MottakerBegge:
		e = append(e, oppgave.DeltUtbetaling)
	case automatisering.MottakerIngen:
		e = append(e, oppgave.IngenUtbetaling)
	}
	switch info.Adressebeskyttelse {
	case Fortrolig:
		e = append(e, oppgave.FortroligAdresse)
	case StrengtFortrolig, StrengtFortroligUtland:
		e = append(e, oppgave.StrengtFortroligAdresse)
	}

	add(v.EgenAnsatt, oppgave.EgenAnsatt)
	add(v.Vergemål, oppgave.Vergemål)
	add(v.Fullmakt, oppgave.Fullmakt)
	add(b.Utland, oppgave.Utland)
	add(vurdering.Stikkprøve, oppgave.Stikkprøve)
	add(v.Risikovurdering != nil && v.Risikovurdering.KreverSupersaksbehandler, oppgave.RiskQA)
	return e
}
