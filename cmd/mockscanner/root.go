package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/banshee-data/mockscanner/internal/config"
	"github.com/banshee-data/mockscanner/internal/monitoring"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool

	settings *config.Settings
	logger   *zap.Logger
	undo     func()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mockscanner",
		Short: "Mock 2D scanner with Gaussian and Lorentzian test fields",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setupLogging(); err != nil {
				return err
			}
			if err := opts.loadSettings(); err != nil {
				opts.close()
				return err
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.close()
		},
	}
	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Settings file (.json, .yaml or .yml)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newGrabCmd(opts),
		newClientCmd(opts),
		newReplayCmd(),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// setupLogging builds the zap logger and routes the package loggers and the
// standard library logger through it.
func (o *rootOptions) setupLogging() error {
	zcfg := zap.NewProductionConfig()
	if o.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.logger = logger

	sugar := logger.Sugar()
	restoreStd := zap.RedirectStdLog(logger)
	prevLogf, prevDebugf := monitoring.Logf, monitoring.Debugf
	monitoring.SetLogger(sugar.Infof)
	if o.verbose {
		monitoring.SetDebugLogger(sugar.Debugf)
	}
	o.undo = func() {
		restoreStd()
		monitoring.SetLogger(prevLogf)
		monitoring.SetDebugLogger(prevDebugf)
	}
	return nil
}

func (o *rootOptions) loadSettings() error {
	if o.configPath == "" {
		o.settings = &config.Settings{}
		return nil
	}
	s, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.settings = s
	return nil
}

func (o *rootOptions) close() {
	if o.undo != nil {
		o.undo()
		o.undo = nil
	}
	if o.logger != nil {
		_ = o.logger.Sync()
	}
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
