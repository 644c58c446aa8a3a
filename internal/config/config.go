package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Result policies accepted by results.policy.
const (
	ResultPolicyOverwrite = "overwrite"
	ResultPolicyReject    = "reject"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	NATSSubjectPrefix    string
	JWTSecret            string
	StatsCacheTTL        time.Duration
	DispatchWorkers      int
	DispatchQueueSize    int
	DispatchMaxAttempts  int
	DispatchBackoffBase  time.Duration
	DispatchBackoffMax   time.Duration
	DispatchTimeout      time.Duration
	ResultPolicy         string
	SubmitRateLimit      int
	SubmitRateLimitEvery time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// JudgeDispatchSubject is the NATS subject dispatch jobs are published on.
func (c Config) JudgeDispatchSubject() string {
	return c.NATSSubjectPrefix + ".judge.dispatch"
}

// JudgeResultSubject is the NATS subject judge results arrive on.
func (c Config) JudgeResultSubject() string {
	return c.NATSSubjectPrefix + ".judge.result"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CODER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Coder Judge API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("nats.subject_prefix", "coder")
	v.SetDefault("stats.cache_ttl", "1m")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.backoff_base", "200ms")
	v.SetDefault("dispatch.backoff_max", "10s")
	v.SetDefault("dispatch.timeout", "5s")
	v.SetDefault("results.policy", ResultPolicyOverwrite)
	v.SetDefault("submit.rate_limit", 10)
	v.SetDefault("submit.rate_window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"stats.cache_ttl", "dispatch.backoff_base", "dispatch.backoff_max", "dispatch.timeout", "submit.rate_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		NATSSubjectPrefix:    strings.Trim(v.GetString("nats.subject_prefix"), "."),
		JWTSecret:            v.GetString("jwt.secret"),
		StatsCacheTTL:        durations["stats.cache_ttl"],
		DispatchWorkers:      v.GetInt("dispatch.workers"),
		DispatchQueueSize:    v.GetInt("dispatch.queue_size"),
		DispatchMaxAttempts:  v.GetInt("dispatch.max_attempts"),
		DispatchBackoffBase:  durations["dispatch.backoff_base"],
		DispatchBackoffMax:   durations["dispatch.backoff_max"],
		DispatchTimeout:      durations["dispatch.timeout"],
		ResultPolicy:         strings.ToLower(strings.TrimSpace(v.GetString("results.policy"))),
		SubmitRateLimit:      v.GetInt("submit.rate_limit"),
		SubmitRateLimitEvery: durations["submit.rate_window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.ResultPolicy {
	case ResultPolicyOverwrite, ResultPolicyReject:
	default:
		return Config{}, fmt.Errorf("unknown results policy %q", cfg.ResultPolicy)
	}

	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 4
	}

	if cfg.DispatchQueueSize <= 0 {
		cfg.DispatchQueueSize = 256
	}

	if cfg.DispatchMaxAttempts <= 0 {
		cfg.DispatchMaxAttempts = 1
	}

	return cfg, nil
}
