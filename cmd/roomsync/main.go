// ABOUTME: Entry point for the roomsync command line client
// ABOUTME: Wires config, logging and the sync session into cobra commands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/2389/roomsync/internal/config"
	"github.com/2389/roomsync/internal/session"
)

// version is overridden at build time with -ldflags "-X main.version=<tag>".
var version = "dev"

const banner = `
                                              
  _ __ ___   ___  _ __ ___  ___ _   _ _ __   ___
 | '__/ _ \ / _ \| '_ ' _ \/ __| | | | '_ \ / __|
 | | | (_) | (_) | | | | | \__ \ |_| | | | | (__
 |_|  \___/ \___/|_| |_| |_|___/\__, |_| |_|\___|
                                |___/
`

// app carries state shared by all commands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
	reg    *prometheus.Registry
	sess   *session.Session
}

func main() {
	a := &app{}
	root := a.rootCommand()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "roomsync",
		Short:         "Real-time conversation client",
		Long:          "roomsync lists your conversations, shows their history and keeps them in sync as new messages arrive.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default is $XDG_CONFIG_HOME/roomsync/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		a.conversationsCommand(),
		a.chatCommand(),
		a.tailCommand(),
	)
	return root
}

// setup loads configuration and builds the session.
func (a *app) setup(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := config.ResolvePath(a.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = setupLogger(cfg.Logging)
	a.reg = prometheus.NewRegistry()

	a.logger.Debug("starting roomsync",
		"config", configPath,
		"api_url", cfg.Server.APIURL,
		"push_url", cfg.Server.PushURL,
	)

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics, a.reg, a.logger)
	}

	sess, err := session.New(cfg, a.logger, a.reg)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	a.sess = sess
	return nil
}

func (a *app) teardown() {
	if a.sess != nil {
		_ = a.sess.Close()
	}
}

// startPump runs the session's event loop in the background.
func (a *app) startPump(ctx context.Context) {
	go func() {
		if err := a.sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("session stopped", "error", err)
		}
	}()
}

func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}
