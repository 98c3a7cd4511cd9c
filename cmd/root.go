// Package cmd defines and implements the CLI commands for the listkeeper
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/app"
	"github.com/listkeeper/listkeeper/internal/fetch"
	"github.com/listkeeper/listkeeper/internal/logging"
	"github.com/listkeeper/listkeeper/internal/pipeline"
	"github.com/listkeeper/listkeeper/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Exit codes: configuration and data-integrity failures are distinguished
// from step-execution failures so callers can react differently.
const (
	exitStepFailure = 1
	exitConfigError = 2
)

// App defines the application interface that commands use. This allows
// injecting a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetClient() *fetch.Client
	GetRegistry() *pipeline.Registry
}

// newApp is the application factory. It's a variable so tests can replace
// it with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// exitError carries a process exit code through cobra's error return path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error { return &exitError{code: exitConfigError, err: err} }

func stepErr(err error) error { return &exitError{code: exitStepFailure, err: err} }

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listkeeper",
		Short: "A pipeline tool for curated, cross-referenced software directories.",
		Long: `listkeeper maintains a directory of structured YAML records (software,
tags, platforms, licenses) and runs a configurable sequence of enrichment,
validation and export steps over it: URL reachability checks, repository
metadata lookup, linting, markdown export.`,

		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and config is loaded, but before
		// the subcommand's RunE: the right place to initialize the
		// global logger and build the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.InitLogger(viper.GetBool("development"))

			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return configErr(fmt.Errorf("initialize application services: %w", err))
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./listkeeper.yaml)")
	cmd.PersistentFlags().Bool("dev", false, "enable development logging")
	_ = viper.BindPFlag("development", cmd.PersistentFlags().Lookup("dev"))

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	config.InitConfig()
}

// appFromContext retrieves the injected App.
func appFromContext(cmd *cobra.Command) (App, error) {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, configErr(errors.New("application not initialized"))
	}
	return appInstance, nil
}

// Execute is the main entry point. It maps command errors to exit codes.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(exitStepFailure)
	}
}
