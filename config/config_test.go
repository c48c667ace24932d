package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"smsrelay/device"
	"smsrelay/relay"
)

// clearEnv registers cleanup for key and unsets it for the test.
func clearEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{backendURLEnv, pollIntervalEnv, ledgerPathEnv, metricsAddrEnv} {
		clearEnv(t, key)
	}
}

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SMS_RELAY_DATA_DIR", tempDir)
	clearRelayEnv(t)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.RelayID == "" {
		t.Fatalf("expected non-empty relay ID")
	}
	if firstCfg.PollInterval() != 5*time.Second {
		t.Fatalf("expected default poll interval 5s, got %s", firstCfg.PollInterval())
	}
	if firstCfg.RequestTimeout() != 10*time.Second {
		t.Fatalf("expected default request timeout 10s, got %s", firstCfg.RequestTimeout())
	}
	if firstCfg.ListLimit != relay.DefaultListLimit {
		t.Fatalf("expected list limit %d, got %d", relay.DefaultListLimit, firstCfg.ListLimit)
	}
	if firstCfg.LedgerBackend != LedgerBackendFile {
		t.Fatalf("expected default ledger backend %q, got %q", LedgerBackendFile, firstCfg.LedgerBackend)
	}
	if want := filepath.Join(tempDir, "ledger.json"); firstCfg.LedgerPath != want {
		t.Fatalf("expected ledger path %q, got %q", want, firstCfg.LedgerPath)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.RelayID != firstCfg.RelayID {
		t.Fatalf("expected stable relay ID, got %q then %q", firstCfg.RelayID, secondCfg.RelayID)
	}
	if secondCfg.BackendURL != firstCfg.BackendURL {
		t.Fatalf("expected stable backend URL, got %q then %q", firstCfg.BackendURL, secondCfg.BackendURL)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	clearRelayEnv(t)

	cfgPath := ConfigPath(tempDir)
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	partial := &RelayConfig{
		RelayID:       "legacy-relay",
		BackendURL:    "https://backend.example",
		LedgerBackend: "SQLite",
		ListLimit:     -3,
	}
	if err := Save(cfgPath, partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn failed: %v", err)
	}
	if cfg.RelayID != "legacy-relay" {
		t.Fatalf("expected relay ID to be retained, got %q", cfg.RelayID)
	}
	if cfg.LedgerBackend != LedgerBackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.LedgerBackend)
	}
	if want := filepath.Join(tempDir, "relay.db"); cfg.LedgerPath != want {
		t.Fatalf("expected sqlite ledger path %q, got %q", want, cfg.LedgerPath)
	}
	if cfg.ListLimit != relay.DefaultListLimit {
		t.Fatalf("expected list limit to normalize to %d, got %d", relay.DefaultListLimit, cfg.ListLimit)
	}
	if cfg.ListCommand != device.DefaultListCommand || cfg.SendCommand != device.DefaultSendCommand {
		t.Fatalf("expected default commands, got %q %q", cfg.ListCommand, cfg.SendCommand)
	}

	onDisk, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if onDisk.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Fatalf("expected normalized config to be saved, got poll interval %d", onDisk.PollIntervalSeconds)
	}
}

func TestLoadOrCreateAppliesEnvOverridesWithoutSaving(t *testing.T) {
	tempDir := t.TempDir()
	clearRelayEnv(t)
	t.Setenv("SMS_RELAY_BACKEND_URL", "https://override.example")
	t.Setenv("SMS_RELAY_POLL_INTERVAL", "30")
	t.Setenv("SMS_RELAY_METRICS_ADDR", "127.0.0.1:9102")

	cfg, cfgPath, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn failed: %v", err)
	}
	if cfg.BackendURL != "https://override.example" {
		t.Fatalf("expected backend URL override, got %q", cfg.BackendURL)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Fatalf("expected poll interval override, got %s", cfg.PollInterval())
	}
	if cfg.MetricsAddr != "127.0.0.1:9102" {
		t.Fatalf("expected metrics addr override, got %q", cfg.MetricsAddr)
	}

	onDisk, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if onDisk.BackendURL == "https://override.example" || onDisk.MetricsAddr != "" {
		t.Fatalf("expected overrides to stay out of config.json, got %+v", onDisk)
	}
}

func TestLoadOrCreateRejectsInvalidPollInterval(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("SMS_RELAY_POLL_INTERVAL", "soon")

	if _, _, err := LoadOrCreateIn(t.TempDir()); err == nil {
		t.Fatalf("expected error for invalid poll interval override")
	}
}

func TestLoadOrCreateReadsEnvFile(t *testing.T) {
	tempDir := t.TempDir()
	clearRelayEnv(t)

	envFile := filepath.Join(tempDir, ".env")
	if err := os.WriteFile(envFile, []byte("SMS_RELAY_BACKEND_URL=https://dotenv.example\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, _, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn failed: %v", err)
	}
	if cfg.BackendURL != "https://dotenv.example" {
		t.Fatalf("expected backend URL from .env, got %q", cfg.BackendURL)
	}
}

func TestLoadEnvFileMissingIsNotAnError(t *testing.T) {
	if err := LoadEnvFile(t.TempDir()); err != nil {
		t.Fatalf("expected nil error for missing .env, got %v", err)
	}
}

func TestLoadOrCreateMovesDefaultLedgerPathWithBackend(t *testing.T) {
	tempDir := t.TempDir()
	clearRelayEnv(t)

	if _, _, err := LoadOrCreateIn(tempDir); err != nil {
		t.Fatalf("first LoadOrCreateIn failed: %v", err)
	}

	cfgPath := ConfigPath(tempDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.LedgerBackend = LedgerBackendSQLite
	if err := Save(cfgPath, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	switched, _, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn after switch failed: %v", err)
	}
	if want := filepath.Join(tempDir, "relay.db"); switched.LedgerPath != want {
		t.Fatalf("expected sqlite ledger path %q, got %q", want, switched.LedgerPath)
	}

	switched.LedgerBackend = LedgerBackendFile
	if err := Save(cfgPath, switched); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back, _, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn after switch back failed: %v", err)
	}
	if want := filepath.Join(tempDir, "ledger.json"); back.LedgerPath != want {
		t.Fatalf("expected file ledger path %q, got %q", want, back.LedgerPath)
	}
}

func TestLoadOrCreateKeepsCustomLedgerPathOnBackendSwitch(t *testing.T) {
	tempDir := t.TempDir()
	clearRelayEnv(t)

	custom := filepath.Join(tempDir, "state", "seen.db")
	if err := Save(ConfigPath(tempDir), &RelayConfig{
		RelayID:       "relay",
		LedgerBackend: LedgerBackendSQLite,
		LedgerPath:    custom,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, _, err := LoadOrCreateIn(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreateIn failed: %v", err)
	}
	if cfg.LedgerPath != custom {
		t.Fatalf("expected custom ledger path to be kept, got %q", cfg.LedgerPath)
	}
}
