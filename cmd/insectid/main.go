package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	insectid "github.com/menta2k/insect-identifier"
	"github.com/menta2k/insect-identifier/internal/config"
	"github.com/menta2k/insect-identifier/internal/logging"
)

// app is shared by every subcommand
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func main() {
	// A .env file is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func rootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "insectid",
		Short:         "Identify insects in photos and keep a collection of captures",
		Version:       insectid.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.GetConfigPath()+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text, json, cli, discard")

	root.AddCommand(
		identifyCommand(a),
		snapCommand(a),
		listCommand(a),
		showCommand(a),
		analyzeCommand(a),
		removeCommand(a),
		clearCommand(a),
		serveCommand(a),
		configCommand(a),
	)
	return root
}

// setup loads configuration and installs the logger
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	a.cfg = cfg
	log.WithFields(log.Fields{
		"provider": cfg.Vision.Provider,
		"backend":  cfg.Store.Backend,
	}).Debug("configuration loaded")
	return nil
}
