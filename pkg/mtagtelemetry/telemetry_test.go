package mtagtelemetry

import (
	"context"
	"os"
	"sync"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	// Reset global state for test
	resetGlobalConfig()

	// Ensure OTEL_ENABLED is not set
	os.Unsetenv("OTEL_ENABLED")

	ctx := context.Background()
	shutdown, err := Init(ctx)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if shutdown == nil {
		t.Error("Expected shutdown function to be non-nil")
	}

	// Shutdown should not error
	if err := shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}
}

func TestEnabled(t *testing.T) {
	// Reset global state
	resetGlobalConfig()

	// Test disabled
	os.Unsetenv("OTEL_ENABLED")
	if Enabled() {
		t.Error("Expected Enabled() to return false")
	}
}

func TestGetConfig(t *testing.T) {
	// Reset global state
	resetGlobalConfig()

	os.Setenv("OTEL_SERVICE_NAME", "test-service")
	defer os.Unsetenv("OTEL_SERVICE_NAME")

	cfg := GetConfig()

	if cfg == nil {
		t.Fatal("Expected config to be non-nil")
	}

	if cfg.ServiceName != "test-service" {
		t.Errorf("Expected ServiceName 'test-service', got '%s'", cfg.ServiceName)
	}
}

func TestSetConfig_OverridesEnv(t *testing.T) {
	resetGlobalConfig()

	os.Setenv("OTEL_SERVICE_NAME", "from-env")
	defer os.Unsetenv("OTEL_SERVICE_NAME")

	SetConfig(&Config{Enabled: true, ServiceName: "from-mtag-yaml"})

	cfg := GetConfig()
	if cfg.ServiceName != "from-mtag-yaml" {
		t.Errorf("Expected SetConfig to win over OTEL_SERVICE_NAME, got '%s'", cfg.ServiceName)
	}
	if !Enabled() {
		t.Error("Expected Enabled() to reflect the SetConfig override")
	}
}

func TestSetConfig_NoOpAfterFirstLoad(t *testing.T) {
	resetGlobalConfig()

	os.Unsetenv("OTEL_ENABLED")
	_ = Enabled() // forces loadConfig's Once to fire from the environment

	SetConfig(&Config{Enabled: true, ServiceName: "too-late"})

	if Enabled() {
		t.Error("SetConfig after loadConfig already ran must not retroactively enable tracing")
	}
}

// resetGlobalConfig resets the global config for testing
func resetGlobalConfig() {
	globalConfig = nil
	configOnce = sync.Once{}
}
