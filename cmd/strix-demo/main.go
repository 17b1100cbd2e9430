// Command strix-demo publishes and consumes user events through the strix engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/casualjim/strix/internal/config"
	"github.com/casualjim/strix/pkg/slogx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand(cfg).ExecuteContext(ctx); err != nil {
		slog.Error("strix-demo failed", slogx.Error(err))
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
	return nil
}

func rootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "strix-demo",
		Short:         "Publish and consume user events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return setupLogging(cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.URL, "url", cfg.URL, "broker connection url, overrides the specification server")
	flags.StringVar(&cfg.Server, "server", cfg.Server, "specification server to connect to, defaults to the last declared")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	root.AddCommand(listenCommand(cfg), publishCommand(cfg), specCommand())
	return root
}

func listenCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Consume user events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListen(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfg.Channel, "channel", cfg.Channel, "listen on a single channel instead of all")
	cmd.Flags().BoolVar(&cfg.RepublishErrors, "republish-errors", cfg.RepublishErrors, "republish messages whose handler failed")
	cmd.Flags().DurationVar(&cfg.OperationTimeout, "operation-timeout", cfg.OperationTimeout, "bound each handler invocation, 0 disables")
	return cmd
}

func publishCommand(cfg *config.Config) *cobra.Command {
	var (
		name  string
		email string
		count int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish user signed up events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd.Context(), cfg, UserSignedUp{Name: name, Email: email}, count)
		},
	}
	cmd.Flags().StringVar(&name, "name", "Ada Lovelace", "user name")
	cmd.Flags().StringVar(&email, "email", "ada@example.com", "user email")
	cmd.Flags().IntVar(&count, "count", 1, "number of events to publish")
	return cmd
}

func specCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spec",
		Short: "Print the user events specification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printSpec(cmd.OutOrStdout())
		},
	}
}
