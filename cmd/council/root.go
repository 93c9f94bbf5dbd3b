package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-council/infrastructure/llm"
	"github.com/ahrav/go-council/infrastructure/middleware"
	"github.com/ahrav/go-council/internal/application"
	"github.com/ahrav/go-council/internal/logging"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Ask a council of LLMs, have them rank each other, and get a synthesized answer",
	Long: `council sends a question to several models in parallel, lets each model
rank the anonymized answers of its peers, and has a chairman model write the
final answer from the answers and rankings.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("settings", "", "settings file path (default $COUNCIL_SETTINGS_FILE or data/settings.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json (default $LOG_FORMAT or text)")
}

// runtime is everything a command needs, assembled from flags, the
// environment, and the settings file.
type runtime struct {
	env      envConfig
	logger   *slog.Logger
	store    *application.SettingsStore
	registry *prometheus.Registry
	metrics  *middleware.PrometheusMetrics
	gateway  *llm.Gateway
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	dotenv := loadDotEnv()
	env := configFromEnv(os.Getenv)

	flags := cmd.Flags()
	if v, _ := flags.GetString("settings"); v != "" {
		env.SettingsFile = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		env.LogLevel = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		env.LogFormat = v
	}

	logger := logging.New(env.LogLevel, env.LogFormat)
	slog.SetDefault(logger)
	if dotenv != "" {
		logger.Debug("loaded .env", "path", dotenv)
	}

	store := application.NewSettingsStore(env.SettingsFile, logger)
	if _, err := store.Load(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(registry)

	return &runtime{
		env:      env,
		logger:   logger,
		store:    store,
		registry: registry,
		metrics:  metrics,
	}, nil
}

// settings returns the stored settings with the environment overrides
// applied in memory.
func (r *runtime) settings() (application.Settings, error) {
	s, err := r.store.Current()
	if err != nil {
		return application.Settings{}, err
	}
	if patch, ok := r.env.settingsPatch(); ok {
		s = patch.Apply(s)
		if err := s.Validate(); err != nil {
			return application.Settings{}, fmt.Errorf("%s/%s override: %w", envCouncilModels, envChairmanModel, err)
		}
	}
	return s, nil
}

// ensureGateway builds the shared gateway once. Its request timeout is only
// the fallback for calls made outside a council; each turn passes the
// timeout from its own settings snapshot.
func (r *runtime) ensureGateway(settings application.Settings) error {
	if r.gateway != nil {
		return nil
	}
	gw, err := newGateway(r.env, settings, r.metrics, r.logger)
	if err != nil {
		return err
	}
	r.gateway = gw
	return nil
}

func (r *runtime) councilOptions() []application.Option {
	return []application.Option{
		application.WithLogger(r.logger),
		application.WithMetrics(r.metrics),
		application.WithObserver(middleware.NewOTelStageObserver(r.metrics)),
	}
}
