package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Bus.Driver != "rabbitmq" {
		t.Fatalf("bus driver = %q, want rabbitmq", c.Bus.Driver)
	}
	if c.Aggregator.CallTimeout != 3*time.Second {
		t.Fatalf("call timeout = %v, want 3s", c.Aggregator.CallTimeout)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "bus:\n  driver: nats\n  url: nats://broker:4222\nservice:\n  http_addr: \":9000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Bus.Driver != "nats" || c.Bus.URL != "nats://broker:4222" {
		t.Fatalf("bus not overridden: %+v", c.Bus)
	}
	if c.Service.HTTPAddr != ":9000" {
		t.Fatalf("http addr = %q, want :9000", c.Service.HTTPAddr)
	}
	// untouched keys keep defaults
	if c.Services.PackageURL != "http://localhost:8081" {
		t.Fatalf("package url = %q, want default", c.Services.PackageURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "amqp://env-host:5672/")
	t.Setenv("AGGREGATOR_CALL_TIMEOUT", "750ms")

	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Bus.URL != "amqp://env-host:5672/" {
		t.Fatalf("bus url = %q, want env value", c.Bus.URL)
	}
	if c.Aggregator.CallTimeout != 750*time.Millisecond {
		t.Fatalf("call timeout = %v, want 750ms", c.Aggregator.CallTimeout)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
