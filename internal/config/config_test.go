package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  enabled: true\n  broker_url: tcp://localhost:1883\n  password: ${SATCORE_TEST_MQTT_PASSWORD}\n"), 0600)
	os.Setenv("SATCORE_TEST_MQTT_PASSWORD", "secret123")
	defer os.Unsetenv("SATCORE_TEST_MQTT_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("{}\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 51100 {
		t.Errorf("Listen.Port = %d, want 51100", cfg.Listen.Port)
	}
	if cfg.RouterPool.Count != 4 {
		t.Errorf("RouterPool.Count = %d, want 4", cfg.RouterPool.Count)
	}
}

func TestLoad_RoundTripsListenPortAndRouterCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9100\nrouter_pool:\n  count: 8\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 9100 {
		t.Errorf("Listen.Port = %d, want 9100", cfg.Listen.Port)
	}
	if cfg.RouterPool.Count != 8 {
		t.Errorf("RouterPool.Count = %d, want 8", cfg.RouterPool.Count)
	}
}

func TestValidate_ListenPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range listen.port")
	}
}

func TestValidate_MQTTEnabledRequiresBrokerURL(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	cfg.MQTT.BrokerURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for mqtt.enabled without broker_url")
	}
}

func TestValidate_MQTTDisabledSkipsBrokerURLCheck(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mqtt should skip validation, got: %v", err)
	}
}

func TestMQTTConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  MQTTConfig
		want bool
	}{
		{"enabled with url", MQTTConfig{Enabled: true, BrokerURL: "tcp://x:1883"}, true},
		{"disabled", MQTTConfig{Enabled: false, BrokerURL: "tcp://x:1883"}, false},
		{"enabled no url", MQTTConfig{Enabled: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}
