package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-council/infrastructure/llm"
	"github.com/ahrav/go-council/infrastructure/middleware"
	"github.com/ahrav/go-council/internal/application"
	"github.com/ahrav/go-council/internal/ports"
)

// Environment variables read at startup.
const (
	envRouterType     = "ROUTER_TYPE"
	envOllamaHost     = "OLLAMA_HOST"
	envCouncilModels  = "COUNCIL_MODELS"
	envChairmanModel  = "CHAIRMAN_MODEL"
	envSettingsFile   = "COUNCIL_SETTINGS_FILE"
	envLogLevel       = "LOG_LEVEL"
	envLogFormat      = "LOG_FORMAT"
	envCORSOrigins    = "CORS_ALLOWED_ORIGINS"
	envRateLimit      = "COUNCIL_RATE_LIMIT"
	envPort           = "PORT"
	defaultSettings   = "data/settings.yaml"
	defaultListenPort = "8001"
)

// Gateway resilience defaults.
const (
	maxRetries       = 2
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 5 * time.Second
	breakerFailures  = 5
	breakerCooldown  = 30 * time.Second
	defaultRateLimit = 10.0
	tracingService   = "go-council"
)

// envConfig is the process configuration taken from the environment.
type envConfig struct {
	Router        string
	APIKeys       map[string]string
	OllamaHost    string
	SettingsFile  string
	LogLevel      string
	LogFormat     string
	CouncilModels []string
	ChairmanModel string
	CORSOrigins   []string
	RateLimit     float64
	Port          string
}

// loadDotEnv loads the first .env found in the working directory or its
// parent. Variables already set in the environment win.
func loadDotEnv() string {
	for _, p := range []string{".env", "../.env"} {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err == nil {
			return abs
		}
	}
	return ""
}

func configFromEnv(getenv func(string) string) envConfig {
	cfg := envConfig{
		Router:        getenv(envRouterType),
		APIKeys:       make(map[string]string),
		OllamaHost:    getenv(envOllamaHost),
		SettingsFile:  getenv(envSettingsFile),
		LogLevel:      getenv(envLogLevel),
		LogFormat:     getenv(envLogFormat),
		CouncilModels: splitList(getenv(envCouncilModels)),
		ChairmanModel: strings.TrimSpace(getenv(envChairmanModel)),
		CORSOrigins:   splitList(getenv(envCORSOrigins)),
		RateLimit:     defaultRateLimit,
		Port:          getenv(envPort),
	}
	for provider, name := range llm.APIKeyEnvVars {
		if v := getenv(name); v != "" {
			cfg.APIKeys[provider] = v
		}
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = defaultSettings
	}
	if cfg.Port == "" {
		cfg.Port = defaultListenPort
	}
	if v := getenv(envRateLimit); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimit = f
		}
	}
	return cfg
}

// settingsPatch turns COUNCIL_MODELS and CHAIRMAN_MODEL into a patch.
func (c envConfig) settingsPatch() (application.SettingsPatch, bool) {
	var p application.SettingsPatch
	if len(c.CouncilModels) > 0 {
		p.CouncilModels = c.CouncilModels
	}
	if c.ChairmanModel != "" {
		chairman := c.ChairmanModel
		p.ChairmanModel = &chairman
	}
	return p, p.CouncilModels != nil || p.ChairmanModel != nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newGateway builds the model gateway. Every model gets its own circuit
// breaker; the rate limiter is shared by all of them.
func newGateway(
	cfg envConfig,
	settings application.Settings,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) (*llm.Gateway, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)

	return llm.NewGateway(llm.GatewayConfig{
		Router:         llm.RouterType(cfg.Router),
		APIKeys:        cfg.APIKeys,
		OllamaHost:     cfg.OllamaHost,
		RequestTimeout: settings.RequestTimeout(),
		Logger:         logger,
		MiddlewareFor: func(model string) []llm.Middleware {
			return []llm.Middleware{
				llm.TracingMiddleware(tracingService),
				llm.MetricsMiddleware(metrics),
				llm.CircuitBreakerMiddlewareWithMetrics(breakerFailures, breakerCooldown,
					middleware.CircuitBreakerMetrics(metrics, model)),
				llm.RetryMiddleware(maxRetries, retryBaseDelay, retryMaxDelay),
				llm.SharedRateLimitMiddleware(limiter),
			}
		},
	})
}
