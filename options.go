package spesialist

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL     string
	notifyURL       string
	logger          *slog.Logger
	version         string
	publisher       Publisher
	meldingHooks    []MeldingHook
	trekk           func(divisor int) bool
	extraMigrations []fs.FS
}

func resolveOptions(opts []Option) resolvedOptions {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version == "" {
		o.version = "dev"
	}
	return o
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when queries go through a connection pooler; LISTEN needs a
// direct connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPublisher replaces the Postgres NOTIFY publisher used by the outbox.
// Only the last call wins.
func WithPublisher(p Publisher) Option {
	return func(o *resolvedOptions) { o.publisher = p }
}

// WithMeldingHook registers a hook notified after each inbound message has
// been handled. Multiple hooks may be registered.
func WithMeldingHook(hook MeldingHook) Option {
	return func(o *resolvedOptions) { o.meldingHooks = append(o.meldingHooks, hook) }
}

// WithStikkprøveTrekk replaces the random draw deciding whether an
// automatable case is sampled for manual review. draw is called with a
// positive divisor and reports whether the case is sampled.
func WithStikkprøveTrekk(draw func(divisor int) bool) Option {
	return func(o *resolvedOptions) { o.trekk = draw }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the
// embedded migrations. Filesystems are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
