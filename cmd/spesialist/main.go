package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/spesialist"
	"github.com/ashita-ai/spesialist/internal/automatisering"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "spesialist",
	Short:         "Adjudication of sykepenger payouts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("SPESIALIST_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.AddCommand(serveCmd(logger), migrateCmd(logger), reglerCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the bus and run workflows until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := spesialist.New(
				spesialist.WithVersion(version),
				spesialist.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := spesialist.Migrate(cmd.Context(), spesialist.WithLogger(logger)); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func reglerCmd() *cobra.Command {
	regler := &cobra.Command{Use: "regler", Short: "Work with automation rule files"}
	regler.AddCommand(&cobra.Command{
		Use:   "sjekk <fil>",
		Short: "Compile a rule file and report errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := automatisering.LesRegler(args[0])
			if err != nil {
				return err
			}
			rs, err := automatisering.NyttRegelsett(r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d regler ok\n", rs.Len())
			return err
		},
	})
	return regler
}
