// Package config provides environment-driven configuration with defaults
// for the responder, the label guard webhook and the ipsctl CLI.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvList splits a comma-separated variable, dropping empty items.
func GetEnvList(key, defaultValue string) []string {
	raw := GetEnv(key, defaultValue)
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetEnvLogLevel parses a logrus level, falling back to defaultValue.
func GetEnvLogLevel(key string, defaultValue logrus.Level) logrus.Level {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return lvl
}

// Rule storage backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// ResponderConfig holds configuration for the alert responder service.
type ResponderConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        logrus.Level

	RulesBackend  string
	RulesFile     string
	RulesWatch    bool
	RedisAddr     string
	RedisRulesKey string

	LabelKey         string
	SubscriberBuffer int
	LogStreamLevel   logrus.Level

	Kubeconfig     string
	ClusterTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	PolicyNamespaces []string
}

// KafkaEnabled reports whether the Kafka alert ingest should run.
func (c ResponderConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// GuardConfig holds configuration for the label guard admission webhook.
type GuardConfig struct {
	HTTPAddr     string
	TLSCertFile  string
	TLSKeyFile   string
	LabelKey     string
	AllowedUsers []string
	LogLevel     logrus.Level
}

// CLIConfig holds defaults for ipsctl.
type CLIConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// DefaultResponderConfig returns responder config from environment with defaults.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		HTTPAddr:         GetEnv("HTTP_ADDR", ":5000"),
		ShutdownTimeout:  GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:         GetEnvLogLevel("LOG_LEVEL", logrus.InfoLevel),
		RulesBackend:     GetEnv("RULES_BACKEND", BackendFile),
		RulesFile:        GetEnv("RULES_FILE", "/etc/ips/rules.json"),
		RulesWatch:       GetEnvBool("RULES_WATCH", true),
		RedisAddr:        GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisRulesKey:    GetEnv("REDIS_RULES_KEY", "ips:rules"),
		LabelKey:         GetEnv("LABEL_KEY", "seguridad"),
		SubscriberBuffer: GetEnvInt("SUBSCRIBER_BUFFER", 256),
		LogStreamLevel:   GetEnvLogLevel("LOG_STREAM_LEVEL", logrus.InfoLevel),
		Kubeconfig:       GetEnv("KUBECONFIG", ""),
		ClusterTimeout:   GetEnvDuration("CLUSTER_TIMEOUT", 10*time.Second),
		KafkaBrokers:     GetEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:       GetEnv("KAFKA_TOPIC", ""),
		KafkaGroupID:     GetEnv("KAFKA_GROUP_ID", "ips-responder"),
		PolicyNamespaces: GetEnvList("POLICY_NAMESPACES", ""),
	}
}

// DefaultGuardConfig returns webhook config from environment.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		HTTPAddr:     GetEnv("HTTP_ADDR", ":8443"),
		TLSCertFile:  GetEnv("TLS_CERT_FILE", "/etc/webhook/certs/tls.crt"),
		TLSKeyFile:   GetEnv("TLS_KEY_FILE", "/etc/webhook/certs/tls.key"),
		LabelKey:     GetEnv("LABEL_KEY", "seguridad"),
		AllowedUsers: GetEnvList("GUARD_ALLOWED_USERS", "system:serviceaccount:ips-system:ips-responder"),
		LogLevel:     GetEnvLogLevel("LOG_LEVEL", logrus.InfoLevel),
	}
}

// DefaultCLIConfig returns ipsctl defaults from environment.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Endpoint: GetEnv("IPS_ENDPOINT", "http://localhost:5000"),
		Timeout:  GetEnvDuration("IPS_TIMEOUT", 15*time.Second),
	}
}
