// Package config loads fleetgate settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetgate/internal/logger"

	"github.com/spf13/viper"
)

// Fleet provider backends.
const (
	ProviderEC2        = "ec2"
	ProviderDocker     = "docker"
	ProviderKubernetes = "kubernetes"
	ProviderSim        = "sim"
)

// Config holds all configuration values for the application.
type Config struct {
	// Shared secret compared against the request's securitystring.
	SecureString string

	// HTTP server port for the standalone dispatcher
	HTTPPort int

	// Fleet backend: ec2, docker, kubernetes or sim
	FleetProvider string
	AWSRegion     string

	// Docker backend settings
	DockerLabel       string
	DockerStopTimeout time.Duration

	// Kubernetes backend settings
	KubeNamespace string
	KubeSelector  string
	KubeConfig    string

	// Simulator backend settings
	SimDBPath    string
	SimBootDelay time.Duration
	SimSeed      []string

	// Action events; disabled when NATSURL is empty
	NATSURL     string
	NATSSubject string

	// Auditor: Postgres action log and its HTTP port
	DatabaseURL string
	AuditPort   int

	// OTLP/gRPC collector; trace export is disabled when empty
	OTELEndpoint string

	// Requests per second per client, 0 means unlimited
	RateLimit      float64
	RateLimitBurst int

	// Trust the last X-Forwarded-For hop as the client address
	TrustForwardedFor bool

	LogLevel string
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"securestring":        "SECURESTRING",
	"http_port":           "PORT",
	"fleet_provider":      "FLEET_PROVIDER",
	"aws_region":          "AWS_REGION",
	"docker_label":        "DOCKER_LABEL",
	"docker_stop_timeout": "DOCKER_STOP_TIMEOUT",
	"kube_namespace":      "KUBE_NAMESPACE",
	"kube_selector":       "KUBE_SELECTOR",
	"kube_config":         "KUBECONFIG",
	"sim_db_path":         "SIM_DB_PATH",
	"sim_boot_delay":      "SIM_BOOT_DELAY",
	"sim_seed":            "SIM_SEED",
	"nats_url":            "NATS_URL",
	"nats_subject":        "NATS_SUBJECT",
	"database_url":        "DATABASE_URL",
	"audit_port":          "AUDIT_PORT",
	"otel_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	"rate_limit":          "RATE_LIMIT",
	"rate_limit_burst":    "RATE_LIMIT_BURST",
	"trust_forwarded_for": "TRUST_FORWARDED_FOR",
	"log_level":           "LOG_LEVEL",
}

// Load reads configuration from the given YAML file (or ./fleetgate.yaml when
// path is empty and the file exists), then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 8080)
	v.SetDefault("fleet_provider", ProviderEC2)
	v.SetDefault("docker_stop_timeout", 10*time.Second)
	v.SetDefault("kube_namespace", "default")
	v.SetDefault("kube_selector", "fleetgate.io/managed=true")
	v.SetDefault("sim_db_path", "./data/fleet")
	v.SetDefault("sim_boot_delay", 2*time.Second)
	v.SetDefault("sim_seed", []string{"web-1", "web-2", "batch-1"})
	v.SetDefault("nats_subject", "fleet.actions")
	v.SetDefault("audit_port", 8081)
	v.SetDefault("rate_limit_burst", 5)
	v.SetDefault("log_level", "info")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fleetgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		SecureString:      v.GetString("securestring"),
		HTTPPort:          v.GetInt("http_port"),
		FleetProvider:     v.GetString("fleet_provider"),
		AWSRegion:         v.GetString("aws_region"),
		DockerLabel:       v.GetString("docker_label"),
		DockerStopTimeout: v.GetDuration("docker_stop_timeout"),
		KubeNamespace:     v.GetString("kube_namespace"),
		KubeSelector:      v.GetString("kube_selector"),
		KubeConfig:        v.GetString("kube_config"),
		SimDBPath:         v.GetString("sim_db_path"),
		SimBootDelay:      v.GetDuration("sim_boot_delay"),
		SimSeed:           stringList(v, "sim_seed"),
		NATSURL:           v.GetString("nats_url"),
		NATSSubject:       v.GetString("nats_subject"),
		DatabaseURL:       v.GetString("database_url"),
		AuditPort:         v.GetInt("audit_port"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
		RateLimit:         v.GetFloat64("rate_limit"),
		RateLimitBurst:    v.GetInt("rate_limit_burst"),
		TrustForwardedFor: v.GetBool("trust_forwarded_for"),
		LogLevel:          v.GetString("log_level"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.FleetProvider {
	case ProviderEC2, ProviderDocker, ProviderKubernetes, ProviderSim:
	default:
		return fmt.Errorf("invalid fleet_provider %q (want ec2, docker, kubernetes or sim)", c.FleetProvider)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.AuditPort <= 0 || c.AuditPort > 65535 {
		return fmt.Errorf("invalid audit_port %d", c.AuditPort)
	}
	if c.DockerStopTimeout < 0 {
		return fmt.Errorf("docker_stop_timeout must be non-negative, got %v", c.DockerStopTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be non-negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be at least 1 when rate_limit is set")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// stringList accepts a YAML list or a comma-separated string (the env form).
func stringList(v *viper.Viper, key string) []string {
	raw, ok := v.Get(key).(string)
	if !ok {
		return v.GetStringSlice(key)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
