// Package spesialist is the public API for embedding the spesialist
// adjudication service.
//
// The service consumes godkjenningsbehov from the bus, gathers the facts it
// needs by publishing behov and waiting for løsninger, decides whether the
// case can be approved automatically, and otherwise creates a task for a
// caseworker:
//
//	app, err := spesialist.New(
//	    spesialist.WithVersion(version),
//	    spesialist.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way round. Public
// types carry no internal imports; conversions live in this file.
package spesialist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/spesialist/internal/automatisering"
	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/config"
	"github.com/ashita-ai/spesialist/internal/kommando"
	"github.com/ashita-ai/spesialist/internal/mediator"
	"github.com/ashita-ai/spesialist/internal/service/saksbehandling"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/telemetry"
	"github.com/ashita-ai/spesialist/migrations"
)

// App is the spesialist lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	listener     *bus.Listener
	outbox       *bus.OutboxWorker
	service      *saksbehandling.Service
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises spesialist. It connects to the database, runs migrations,
// wires the bus to the workflows and returns a ready-to-run App. It does not
// start any goroutines; call Run.
func New(opts ...Option) (*App, error) {
	o := resolveOptions(opts)
	logger := o.logger

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	autoCfg, err := cfg.AutomatiseringConfig()
	if err != nil {
		return nil, fmt.Errorf("automatisering: %w", err)
	}

	logger.Info("spesialist starting",
		"version", o.version,
		"regler", autoCfg.Regler.Len(),
		"maks_korrigerte_soknader", autoCfg.MaksKorrigerteSøknader,
	)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     o.version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := migrate(context.Background(), db, o); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	validator, err := bus.NewValidator()
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("bus: %w", err)
	}

	var autoOpts []automatisering.Option
	if o.trekk != nil {
		autoOpts = append(autoOpts, automatisering.WithTrekk(automatisering.Trekk(o.trekk)))
	}
	fabrikk := kommando.NyFabrikk(autoCfg, logger, autoOpts...)

	var handler bus.Handler = mediator.New(db, fabrikk, logger)
	if len(o.meldingHooks) > 0 {
		handler = &hookHandler{next: handler, hooks: o.meldingHooks, logger: logger}
	}

	var publisher bus.Publisher = bus.NewNotifyPublisher(db)
	if o.publisher != nil {
		publisher = &publisherAdapter{p: o.publisher}
	}

	return &App{
		cfg:          cfg,
		db:           db,
		listener:     bus.NewListener(db, validator, handler, logger, cfg.ListenerConcurrency),
		outbox:       bus.NewOutboxWorker(db.Pool(), publisher, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize),
		service:      saksbehandling.New(db, logger),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      o.version,
	}, nil
}

// Migrate applies the embedded migrations and any registered with
// WithExtraMigrations, then returns.
func Migrate(ctx context.Context, opts ...Option) error {
	o := resolveOptions(opts)
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	// Migrations never LISTEN.
	db, err := storage.New(ctx, cfg.DatabaseURL, "", o.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(context.Background())
	return migrate(ctx, db, o)
}

// Saksbehandling returns the caseworker operations. An API layer
// authenticates the caseworker and delegates to it.
func (a *App) Saksbehandling() *saksbehandling.Service {
	return a.service
}

// Run starts the bus listener, the outbox worker and housekeeping, then
// blocks until ctx is cancelled or the listener fails. On return, Shutdown
// is called automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.outbox.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.listener.Start(gctx)
	})
	g.Go(func() error {
		a.mottattCleanupLoop(gctx)
		return nil
	})
	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); err == nil {
		err = shutdownErr
	}
	return err
}

// Shutdown drains the outbox so that every decision already committed is
// published, then closes the database and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("spesialist shutting down")

	outboxCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	a.outbox.Drain(outboxCtx)
	cancel()

	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("spesialist stopped")
	return nil
}

// mottattCleanupLoop forgets dedupe records older than the redelivery window.
func (a *App) mottattCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupMottatteMeldinger(opCtx, a.cfg.MottattTTL)
			cancel()
			if err != nil {
				a.logger.Warn("mottatt cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("mottatt cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

func loadConfig(o resolvedOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
		if o.notifyURL == "" {
			cfg.NotifyURL = o.databaseURL
		}
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	return cfg, nil
}

func migrate(ctx context.Context, db *storage.DB, o resolvedOptions) error {
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			return fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// publisherAdapter wraps a Publisher to satisfy bus.Publisher.
type publisherAdapter struct {
	p Publisher
}

func (a *publisherAdapter) Publiser(ctx context.Context, nøkkel string, m bus.Melding) error {
	pm, err := toPublicMelding(m)
	if err != nil {
		return err
	}
	pm.Nøkkel = nøkkel
	return a.p.Publiser(ctx, pm)
}

// hookHandler notifies MeldingHooks after the mediator has committed a message.
type hookHandler struct {
	next   bus.Handler
	hooks  []MeldingHook
	logger *slog.Logger
}

func (h *hookHandler) Håndter(ctx context.Context, m bus.Melding) error {
	if err := h.next.Håndter(ctx, m); err != nil {
		return err
	}
	if !mediator.Relevant(m) {
		return nil
	}
	pm, err := toPublicMelding(m)
	if err != nil {
		h.logger.Warn("melding hook: convert", "error", err, "melding_id", m.ID)
		return nil
	}
	for _, hook := range h.hooks {
		if err := hook.OnMelding(ctx, pm); err != nil {
			h.logger.Warn("melding hook failed", "error", err, "melding_id", m.ID, "event_name", m.Navn)
		}
	}
	return nil
}

func toPublicMelding(m bus.Melding) (Melding, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Melding{}, fmt.Errorf("marshal melding %s: %w", m.ID, err)
	}
	return Melding{
		ID:               m.ID,
		Navn:             m.Navn,
		Nøkkel:           m.Nøkkel(),
		VedtaksperiodeID: m.VedtaksperiodeID,
		Opprettet:        m.Opprettet,
		Data:             data,
	}, nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
