package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"smsrelay/backend"
	"smsrelay/device"
	"smsrelay/relay"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "smsrelay"
	// DefaultPollIntervalSeconds is relay.DefaultPollInterval in config units.
	DefaultPollIntervalSeconds = int(relay.DefaultPollInterval / time.Second)
	// DefaultRequestTimeoutSeconds is backend.DefaultRequestTimeout in config units.
	DefaultRequestTimeoutSeconds = int(backend.DefaultRequestTimeout / time.Second)
	// LedgerBackendFile keeps the dedup ledger in a JSON array file.
	LedgerBackendFile = "file"
	// LedgerBackendSQLite keeps the dedup ledger in relay.db.
	LedgerBackendSQLite = "sqlite"

	configFileName    = "config.json"
	envFileName       = ".env"
	ledgerFileName    = "ledger.json"
	ledgerDBFileName  = "relay.db"
	dataDirEnv        = "SMS_RELAY_DATA_DIR"
	backendURLEnv     = "SMS_RELAY_BACKEND_URL"
	pollIntervalEnv   = "SMS_RELAY_POLL_INTERVAL"
	ledgerPathEnv     = "SMS_RELAY_LEDGER_PATH"
	metricsAddrEnv    = "SMS_RELAY_METRICS_ADDR"
	defaultBackendURL = "http://127.0.0.1:8000"
)

// RelayConfig contains persistent relay settings.
type RelayConfig struct {
	RelayID               string `json:"relay_id"`
	BackendURL            string `json:"backend_url"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	ListLimit             int    `json:"list_limit"`
	LedgerBackend         string `json:"ledger_backend"`
	LedgerPath            string `json:"ledger_path"`
	SendRatePerMinute     int    `json:"send_rate_per_minute"`
	MetricsAddr           string `json:"metrics_addr"`
	MDNSAnnounce          bool   `json:"mdns_announce"`
	ListCommand           string `json:"list_command"`
	SendCommand           string `json:"send_command"`
}

// PollInterval returns the configured wait between cycles.
func (c *RelayConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request backend timeout.
func (c *RelayConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SMS_RELAY_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(dataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// LoadEnvFile loads dataDir/.env into the process environment.
//
// A missing file is not an error. Variables already set win over the file.
func LoadEnvFile(dataDir string) error {
	path := filepath.Join(dataDir, envFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*RelayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg RelayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *RelayConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate resolves the data directory and calls LoadOrCreateIn.
func LoadOrCreate() (*RelayConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateIn(dataDir)
}

// LoadOrCreateIn ensures dataDir and its config exist, then returns both.
//
// Environment overrides, including those from dataDir/.env, are applied to
// the returned config but never written back to config.json.
func LoadOrCreateIn(dataDir string) (*RelayConfig, string, error) {
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}
	if err := LoadEnvFile(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *RelayConfig {
	return &RelayConfig{
		RelayID:               uuid.NewString(),
		BackendURL:            defaultBackendURL,
		PollIntervalSeconds:   DefaultPollIntervalSeconds,
		RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		ListLimit:             relay.DefaultListLimit,
		LedgerBackend:         LedgerBackendFile,
		LedgerPath:            defaultLedgerPath(dataDir, LedgerBackendFile),
		ListCommand:           device.DefaultListCommand,
		SendCommand:           device.DefaultSendCommand,
	}
}

func defaultLedgerPath(dataDir, ledgerBackend string) string {
	if ledgerBackend == LedgerBackendSQLite {
		return filepath.Join(dataDir, ledgerDBFileName)
	}
	return filepath.Join(dataDir, ledgerFileName)
}

func normalizeDefaults(cfg *RelayConfig, dataDir string) bool {
	updated := false

	if cfg.RelayID == "" {
		cfg.RelayID = uuid.NewString()
		updated = true
	}

	if strings.TrimSpace(cfg.BackendURL) == "" {
		cfg.BackendURL = defaultBackendURL
		updated = true
	}

	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = DefaultPollIntervalSeconds
		updated = true
	}

	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
		updated = true
	}

	if cfg.ListLimit <= 0 {
		cfg.ListLimit = relay.DefaultListLimit
		updated = true
	}

	ledgerBackend := normalizeLedgerBackend(cfg.LedgerBackend)
	if ledgerBackend == "" {
		ledgerBackend = LedgerBackendFile
	}
	if cfg.LedgerBackend != ledgerBackend {
		cfg.LedgerBackend = ledgerBackend
		updated = true
	}

	// A path still at the other backend's default follows the backend switch.
	otherBackend := LedgerBackendSQLite
	if cfg.LedgerBackend == LedgerBackendSQLite {
		otherBackend = LedgerBackendFile
	}
	if cfg.LedgerPath == "" || cfg.LedgerPath == defaultLedgerPath(dataDir, otherBackend) {
		cfg.LedgerPath = defaultLedgerPath(dataDir, cfg.LedgerBackend)
		updated = true
	}

	if cfg.SendRatePerMinute < 0 {
		cfg.SendRatePerMinute = 0
		updated = true
	}

	if cfg.ListCommand == "" {
		cfg.ListCommand = device.DefaultListCommand
		updated = true
	}

	if cfg.SendCommand == "" {
		cfg.SendCommand = device.DefaultSendCommand
		updated = true
	}

	return updated
}

func normalizeLedgerBackend(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case LedgerBackendFile:
		return LedgerBackendFile
	case LedgerBackendSQLite:
		return LedgerBackendSQLite
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *RelayConfig) error {
	if value := os.Getenv(backendURLEnv); value != "" {
		cfg.BackendURL = value
	}
	if value := os.Getenv(pollIntervalEnv); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("parse %s: invalid seconds %q", pollIntervalEnv, value)
		}
		cfg.PollIntervalSeconds = seconds
	}
	if value := os.Getenv(ledgerPathEnv); value != "" {
		cfg.LedgerPath = value
	}
	if value := os.Getenv(metricsAddrEnv); value != "" {
		cfg.MetricsAddr = value
	}
	return nil
}
