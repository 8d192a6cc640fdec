package dbosruntime

import (
	"context"
	"errors"
	"testing"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://localhost/db"}
	cfg.WithDefaults()

	if cfg.AppName != "derivative-pipeline" {
		t.Errorf("AppName = %q", cfg.AppName)
	}
	if cfg.QueueName != "derivatives" {
		t.Errorf("QueueName = %q", cfg.QueueName)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}

	custom := Config{QueueName: "q", Concurrency: 9, AppName: "a"}
	custom.WithDefaults()
	if custom.QueueName != "q" || custom.Concurrency != 9 || custom.AppName != "a" {
		t.Errorf("explicit values overwritten: %+v", custom)
	}
}

func TestNewRuntimeRequiresDatabaseURL(t *testing.T) {
	if _, err := NewRuntime(context.Background(), Config{}, nil); !errors.Is(err, ErrDatabaseURLRequired) {
		t.Fatalf("err = %v, want ErrDatabaseURLRequired", err)
	}
}
