// Package automatisering decides whether a case can be approved without a
// caseworker.
//
// The decision runs in a fixed order: a result already logged for the
// hendelse is returned unchanged; corrected applications are throttled;
// pre-approved zero-payout categories skip the checks; the named validations
// and configured rules are evaluated and every failure is collected; finally
// a clean case may be drawn for sampling. Every outcome is logged with its
// reasons.
package automatisering

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/spesialist/internal/telemetry"
)

// Reasons given for manual review.
const (
	ÅrsakManglerRisikovurdering     = "Mangler risikovurdering"
	ÅrsakRisikovurderingAvvist      = "Risikovurdering tillater ikke automatisering"
	ÅrsakHarVarsler                 = "Har varsler"
	ÅrsakÅpneOppgaver               = "Det finnes åpne oppgaver i andre saker"
	ÅrsakVergemål                   = "Bruker er under verge"
	ÅrsakFullmakt                   = "Bruker har fullmakt"
	ÅrsakPågåendeOverstyring        = "Har pågående overstyring"
	ÅrsakUTSUtenforPeriodetype      = "Utbetaling til sykmeldt utenfor tillatt periodetype"
	ÅrsakEgenAnsatt                 = "Bruker er egen ansatt"
	ÅrsakForMangeKorrigerteSøknader = "Antall automatisk godkjente korrigerte søknader er overskredet"
)

// Utfall is the decision. The set is closed: Automatisert,
// ManuellSaksbehandling or Stikkprøve.
type Utfall interface {
	utfall() string
}

// Automatisert means the case was approved without a caseworker.
type Automatisert struct{}

// ManuellSaksbehandling means at least one check failed.
type ManuellSaksbehandling struct {
	Årsaker []string
}

// Stikkprøve means every check passed but the case was drawn for review.
type Stikkprøve struct {
	Årsak string
}

func (Automatisert) utfall() string          { return "automatisert" }
func (ManuellSaksbehandling) utfall() string { return "manuell" }
func (Stikkprøve) utfall() string            { return "stikkprove" }

// Resultat is the logged form of a decision.
type Resultat struct {
	HendelseID       uuid.UUID
	VedtaksperiodeID uuid.UUID
	UtbetalingID     uuid.UUID
	Automatisert     bool
	Stikkprøve       bool
	KorrigertSøknad  bool
	Årsaker          []string
	Opprettet        time.Time
}

// Utfall converts the logged result back into a decision.
func (r Resultat) Utfall() Utfall {
	switch {
	case r.Automatisert:
		return Automatisert{}
	case r.Stikkprøve:
		var årsak string
		if len(r.Årsaker) > 0 {
			årsak = r.Årsaker[0]
		}
		return Stikkprøve{Årsak: årsak}
	default:
		return ManuellSaksbehandling{Årsaker: slices.Clone(r.Årsaker)}
	}
}

// Logg records decisions. Implementations must make Lagre part of the same
// unit of work as the callback's side effects.
type Logg interface {
	// TidligereResultat returns the result logged for the hendelse, or nil.
	TidligereResultat(ctx context.Context, hendelseID uuid.UUID) (*Resultat, error)
	// AntallAutomatiserteKorrigerteSøknader counts automated corrected
	// applications for the vedtaksperiode logged at or after siden.
	AntallAutomatiserteKorrigerteSøknader(ctx context.Context, vedtaksperiodeID uuid.UUID, siden time.Time) (int, error)
	Lagre(ctx context.Context, r Resultat) error
}

// Config is the decision policy. It is built once and passed in.
type Config struct {
	Stikkprøver Stikkprøver
	// MaksKorrigerteSøknader caps automated corrected applications per
	// vedtaksperiode within the last six months.
	MaksKorrigerteSøknader int
	// ForhåndsgodkjenteKategorier skip validation when the payout is zero.
	ForhåndsgodkjenteKategorier []Kategori
	// TillattePeriodetyperUTS are the period types where payout to the
	// insured person may be automated.
	TillattePeriodetyperUTS []Periodetype
	Regler                  *Regelsett
}

// DefaultConfig returns the policy used when nothing is configured.
// Sampling is off.
func DefaultConfig() Config {
	return Config{
		MaksKorrigerteSøknader:      2,
		ForhåndsgodkjenteKategorier: []Kategori{KategoriRevurdering},
		TillattePeriodetyperUTS:     []Periodetype{Forlengelse},
	}
}

// Option configures an Automatisering.
type Option func(*Automatisering)

// WithTrekk replaces the random draw used for sampling.
func WithTrekk(t Trekk) Option {
	return func(a *Automatisering) { a.trekk = t }
}

// WithKlokke replaces the clock used for the throttle window.
func WithKlokke(now func() time.Time) Option {
	return func(a *Automatisering) { a.nå = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Automatisering) { a.logger = l }
}

var (
	tracer        = telemetry.Tracer("spesialist/automatisering")
	utfallCounter = sync.OnceValue(func() metric.Int64Counter {
		return telemetry.Int64Counter(telemetry.Meter("spesialist/automatisering"),
			"spesialist.automatisering.utfall", "Automation decisions by outcome")
	})
)

// Automatisering makes automation decisions.
type Automatisering struct {
	cfg    Config
	logg   Logg
	trekk  Trekk
	nå     func() time.Time
	logger *slog.Logger
}

// New creates an Automatisering writing its decisions to logg.
func New(cfg Config, logg Logg, opts ...Option) *Automatisering {
	a := &Automatisering{
		cfg:    cfg,
		logg:   logg,
		trekk:  tilfeldigTrekk,
		nå:     time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Utfør decides the case. onAutomatiserbar is called exactly once, and only
// when the case is approved; if it fails the decision is not logged and the
// error is returned.
func (a *Automatisering) Utfør(ctx context.Context, f Fakta, onAutomatiserbar func(context.Context) error) (Utfall, error) {
	ctx, span := tracer.Start(ctx, "automatisering.utfør",
		trace.WithAttributes(
			attribute.String("spesialist.hendelse_id", f.HendelseID.String()),
			attribute.String("spesialist.vedtaksperiode_id", f.VedtaksperiodeID.String()),
		),
	)
	defer span.End()

	utfall, err := a.utfør(ctx, f, onAutomatiserbar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("spesialist.utfall", utfall.utfall()))
	utfallCounter().Add(ctx, 1, metric.WithAttributes(attribute.String("utfall", utfall.utfall())))
	return utfall, nil
}

func (a *Automatisering) utfør(ctx context.Context, f Fakta, onAutomatiserbar func(context.Context) error) (Utfall, error) {
	tidligere, err := a.logg.TidligereResultat(ctx, f.HendelseID)
	if err != nil {
		return nil, fmt.Errorf("automatisering: load previous result: %w", err)
	}
	if tidligere != nil {
		return tidligere.Utfall(), nil
	}

	var årsaker []string
	begrenset, err := a.forMangeKorrigerteSøknader(ctx, f)
	if err != nil {
		return nil, err
	}
	if begrenset {
		årsaker = append(årsaker, ÅrsakForMangeKorrigerteSøknader)
	}

	if !begrenset && a.forhåndsgodkjent(f) {
		a.logger.Info("automatisering: forhåndsgodkjent kategori uten utbetaling",
			"hendelse_id", f.HendelseID, "kategori", f.Kategori)
		return a.automatiser(ctx, f, onAutomatiserbar)
	}

	årsaker = append(årsaker, a.valider(f)...)
	if len(årsaker) > 0 {
		r := a.resultat(f)
		r.Årsaker = årsaker
		if err := a.lagre(ctx, r); err != nil {
			return nil, err
		}
		a.logger.Info("automatisering: til manuell saksbehandling",
			"hendelse_id", f.HendelseID, "årsaker", årsaker)
		return ManuellSaksbehandling{Årsaker: slices.Clone(årsaker)}, nil
	}

	if divisor, etikett := a.cfg.Stikkprøver.divisor(f); divisor > 0 && a.trekk(divisor) {
		r := a.resultat(f)
		r.Stikkprøve = true
		r.Årsaker = []string{etikett}
		if err := a.lagre(ctx, r); err != nil {
			return nil, err
		}
		a.logger.Info("automatisering: trukket ut til stikkprøve",
			"hendelse_id", f.HendelseID, "årsak", etikett)
		return Stikkprøve{Årsak: etikett}, nil
	}

	return a.automatiser(ctx, f, onAutomatiserbar)
}

func (a *Automatisering) forMangeKorrigerteSøknader(ctx context.Context, f Fakta) (bool, error) {
	if !f.KorrigertSøknad {
		return false, nil
	}
	siden := a.nå().AddDate(0, -6, 0)
	antall, err := a.logg.AntallAutomatiserteKorrigerteSøknader(ctx, f.VedtaksperiodeID, siden)
	if err != nil {
		return false, fmt.Errorf("automatisering: count corrected applications: %w", err)
	}
	return antall >= a.cfg.MaksKorrigerteSøknader, nil
}

func (a *Automatisering) forhåndsgodkjent(f Fakta) bool {
	return f.Beløp == 0 && slices.Contains(a.cfg.ForhåndsgodkjenteKategorier, f.Kategori)
}

// valider runs every validation and returns the reasons for those that
// failed, in a fixed order.
func (a *Automatisering) valider(f Fakta) []string {
	var årsaker []string
	switch {
	case f.Risikovurdering == nil:
		årsaker = append(årsaker, ÅrsakManglerRisikovurdering)
	case !f.Risikovurdering.KanGodkjennesAutomatisk:
		årsaker = append(årsaker, ÅrsakRisikovurderingAvvist)
	}
	if len(f.Varsler) > 0 {
		årsaker = append(årsaker, ÅrsakHarVarsler)
	}
	if f.ÅpneOppgaver > 0 {
		årsaker = append(årsaker, ÅrsakÅpneOppgaver)
	}
	if f.Vergemål {
		årsaker = append(årsaker, ÅrsakVergemål)
	}
	if f.Fullmakt {
		årsaker = append(årsaker, ÅrsakFullmakt)
	}
	if f.PågåendeOverstyring {
		årsaker = append(årsaker, ÅrsakPågåendeOverstyring)
	}
	if f.Mottaker.TilSykmeldt() && !slices.Contains(a.cfg.TillattePeriodetyperUTS, f.Periodetype) {
		årsaker = append(årsaker, ÅrsakUTSUtenforPeriodetype)
	}
	if f.EgenAnsatt {
		årsaker = append(årsaker, ÅrsakEgenAnsatt)
	}
	return append(årsaker, a.cfg.Regler.Evaluer(f)...)
}

func (a *Automatisering) automatiser(ctx context.Context, f Fakta, onAutomatiserbar func(context.Context) error) (Utfall, error) {
	if err := onAutomatiserbar(ctx); err != nil {
		return nil, fmt.Errorf("automatisering: approve %s: %w", f.HendelseID, err)
	}
	r := a.resultat(f)
	r.Automatisert = true
	if err := a.lagre(ctx, r); err != nil {
		return nil, err
	}
	a.logger.Info("automatisering: automatisk godkjent",
		"hendelse_id", f.HendelseID, "vedtaksperiode_id", f.VedtaksperiodeID)
	return Automatisert{}, nil
}

func (a *Automatisering) resultat(f Fakta) Resultat {
	return Resultat{
		HendelseID:       f.HendelseID,
		VedtaksperiodeID: f.VedtaksperiodeID,
		UtbetalingID:     f.UtbetalingID,
		KorrigertSøknad:  f.KorrigertSøknad,
		Opprettet:        a.nå().UTC(),
	}
}

func (a *Automatisering) lagre(ctx context.Context, r Resultat) error {
	if err := a.logg.Lagre(ctx, r); err != nil {
		return fmt.Errorf("automatisering: log result: %w", err)
	}
	return nil
}
