package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnv(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("IPS_TEST_GETENV_UNSET")
		got := GetEnv("IPS_TEST_GETENV_UNSET", "default")
		if got != "default" {
			t.Errorf("GetEnv(unset) = %q, want %q", got, "default")
		}
	})

	t.Run("returns value when set", func(t *testing.T) {
		t.Setenv("IPS_TEST_GETENV_SET", "myvalue")
		got := GetEnv("IPS_TEST_GETENV_SET", "default")
		if got != "myvalue" {
			t.Errorf("GetEnv(set) = %q, want %q", got, "myvalue")
		}
	})

	t.Run("trims space", func(t *testing.T) {
		t.Setenv("IPS_TEST_GETENV_TRIM", "  trimmed  ")
		got := GetEnv("IPS_TEST_GETENV_TRIM", "default")
		if got != "trimmed" {
			t.Errorf("GetEnv(trim) = %q, want %q", got, "trimmed")
		}
	})
}

func TestGetEnvDuration(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("IPS_TEST_DURATION_UNSET")
		got := GetEnvDuration("IPS_TEST_DURATION_UNSET", 5*time.Second)
		if got != 5*time.Second {
			t.Errorf("GetEnvDuration(unset) = %v, want 5s", got)
		}
	})

	t.Run("parses valid duration", func(t *testing.T) {
		t.Setenv("IPS_TEST_DURATION_VALID", "30s")
		got := GetEnvDuration("IPS_TEST_DURATION_VALID", time.Second)
		if got != 30*time.Second {
			t.Errorf("GetEnvDuration(30s) = %v, want 30s", got)
		}
	})

	t.Run("returns default on invalid duration", func(t *testing.T) {
		t.Setenv("IPS_TEST_DURATION_INVALID", "not-a-duration")
		got := GetEnvDuration("IPS_TEST_DURATION_INVALID", 7*time.Second)
		if got != 7*time.Second {
			t.Errorf("GetEnvDuration(invalid) = %v, want 7s", got)
		}
	})
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("IPS_TEST_INT_VALID", "42")
	if got := GetEnvInt("IPS_TEST_INT_VALID", 1); got != 42 {
		t.Errorf("GetEnvInt(42) = %d", got)
	}
	t.Setenv("IPS_TEST_INT_INVALID", "forty-two")
	if got := GetEnvInt("IPS_TEST_INT_INVALID", 1); got != 1 {
		t.Errorf("GetEnvInt(invalid) = %d, want default 1", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("IPS_TEST_BOOL_FALSE", "false")
	if GetEnvBool("IPS_TEST_BOOL_FALSE", true) {
		t.Error("GetEnvBool(false) = true")
	}
	t.Setenv("IPS_TEST_BOOL_JUNK", "maybe")
	if !GetEnvBool("IPS_TEST_BOOL_JUNK", true) {
		t.Error("GetEnvBool(junk) should fall back to default true")
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("IPS_TEST_LIST", " a, b ,,c ")
	got := GetEnvList("IPS_TEST_LIST", "")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("GetEnvList = %v", got)
	}
	os.Unsetenv("IPS_TEST_LIST_EMPTY")
	if got := GetEnvList("IPS_TEST_LIST_EMPTY", ""); len(got) != 0 {
		t.Errorf("GetEnvList(empty) = %v, want none", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	t.Setenv("IPS_TEST_LEVEL", "debug")
	if got := GetEnvLogLevel("IPS_TEST_LEVEL", logrus.InfoLevel); got != logrus.DebugLevel {
		t.Errorf("GetEnvLogLevel(debug) = %v", got)
	}
	t.Setenv("IPS_TEST_LEVEL", "loud")
	if got := GetEnvLogLevel("IPS_TEST_LEVEL", logrus.WarnLevel); got != logrus.WarnLevel {
		t.Errorf("GetEnvLogLevel(invalid) = %v, want warn", got)
	}
}

func TestDefaultResponderConfig(t *testing.T) {
	os.Unsetenv("KAFKA_BROKERS")
	os.Unsetenv("KAFKA_TOPIC")
	os.Unsetenv("RULES_FILE")
	os.Unsetenv("LABEL_KEY")
	cfg := DefaultResponderConfig()
	if cfg.HTTPAddr == "" {
		t.Error("HTTPAddr should be set")
	}
	if cfg.RulesFile != "/etc/ips/rules.json" {
		t.Errorf("RulesFile = %q", cfg.RulesFile)
	}
	if cfg.LabelKey != "seguridad" {
		t.Errorf("LabelKey = %q", cfg.LabelKey)
	}
	if cfg.SubscriberBuffer <= 0 {
		t.Errorf("SubscriberBuffer = %d", cfg.SubscriberBuffer)
	}
	if cfg.KafkaEnabled() {
		t.Error("Kafka ingest should be disabled when brokers are unset")
	}
}

func TestResponderConfig_KafkaEnabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC", "suricata-alerts")
	cfg := DefaultResponderConfig()
	if !cfg.KafkaEnabled() {
		t.Fatal("Kafka ingest should be enabled")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestDefaultGuardConfig(t *testing.T) {
	cfg := DefaultGuardConfig()
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		t.Error("TLS paths should be set")
	}
	if len(cfg.AllowedUsers) == 0 {
		t.Error("AllowedUsers should default to the responder service account")
	}
	for _, u := range cfg.AllowedUsers {
		if u == "" {
			t.Error("AllowedUsers should not contain empty strings")
		}
	}
}
