// Package config provides centralized configuration for the orchestrator.
// Recognized environment variables are listed alongside each field; an
// optional STATE_DIR/config.yaml may supply the same values, with
// environment variables always taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the orchestrator daemon.
type Config struct {
	Port int `yaml:"port"` // ORCHESTRATOR_PORT, default 8080

	SrcChainRPC string `yaml:"src_chain_rpc"` // SRC_CHAIN_RPC, required
	DstChainRPC string `yaml:"dst_chain_rpc"` // DST_CHAIN_RPC, required

	SrcEscrowContract string `yaml:"src_escrow_contract"` // SRC_ESCROW_CONTRACT, required: EVM escrow address watched for events
	DstHTLCContract   string `yaml:"dst_htlc_contract"`   // DST_HTLC_CONTRACT, required: NEAR account ID of the HTLC contract

	SrcConfirmations uint64 `yaml:"src_confirmations"` // SRC_CONFIRMATIONS, default 5
	DstConfirmations uint64 `yaml:"dst_confirmations"` // DST_CONFIRMATIONS, default 1

	APIKeys []string `yaml:"api_keys"` // API_KEYS, comma-separated

	StateDir string `yaml:"state_dir"` // STATE_DIR, default ./state

	SessionDefaultTTL        time.Duration `yaml:"-"`                           // SESSION_DEFAULT_TTL_SECONDS, default 3600
	MaxSubscribersPerSession int           `yaml:"max_subscribers_per_session"` // MAX_SUBSCRIBERS_PER_SESSION, default 64

	LogLevel string `yaml:"log_level"` // LOG_LEVEL
}

// fileOverlay is the subset of Config that may be supplied via YAML; session
// TTL is expressed in seconds there since time.Duration has no natural YAML
// scalar form.
type fileOverlay struct {
	Port                     int      `yaml:"port"`
	SrcChainRPC              string   `yaml:"src_chain_rpc"`
	DstChainRPC              string   `yaml:"dst_chain_rpc"`
	SrcEscrowContract        string   `yaml:"src_escrow_contract"`
	DstHTLCContract          string   `yaml:"dst_htlc_contract"`
	SrcConfirmations         uint64   `yaml:"src_confirmations"`
	DstConfirmations         uint64   `yaml:"dst_confirmations"`
	APIKeys                  []string `yaml:"api_keys"`
	StateDir                 string   `yaml:"state_dir"`
	SessionDefaultTTLSeconds int      `yaml:"session_default_ttl_seconds"`
	MaxSubscribersPerSession int      `yaml:"max_subscribers_per_session"`
	LogLevel                 string   `yaml:"log_level"`
}

// Default returns a Config populated with spec defaults, before any
// environment or file overlay is applied.
func Default() *Config {
	return &Config{
		Port:                     8080,
		SrcConfirmations:         5,
		DstConfirmations:         1,
		StateDir:                 "./state",
		SessionDefaultTTL:        time.Duration(3600) * time.Second,
		MaxSubscribersPerSession: 64,
		LogLevel:                 "info",
	}
}

// Load builds the effective configuration: defaults, overlaid by
// STATE_DIR/config.yaml if present, overlaid by recognized environment
// variables. STATE_DIR itself is resolved from the environment (or the
// default) before the file is looked up, since it names the file's
// location.
func Load() (*Config, error) {
	cfg := Default()

	stateDir := cfg.StateDir
	if v := os.Getenv("STATE_DIR"); v != "" {
		stateDir = v
	}
	cfg.StateDir = stateDir

	if err := applyFile(cfg, filepath.Join(stateDir, "config.yaml")); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if overlay.Port != 0 {
		cfg.Port = overlay.Port
	}
	if overlay.SrcChainRPC != "" {
		cfg.SrcChainRPC = overlay.SrcChainRPC
	}
	if overlay.DstChainRPC != "" {
		cfg.DstChainRPC = overlay.DstChainRPC
	}
	if overlay.SrcEscrowContract != "" {
		cfg.SrcEscrowContract = overlay.SrcEscrowContract
	}
	if overlay.DstHTLCContract != "" {
		cfg.DstHTLCContract = overlay.DstHTLCContract
	}
	if overlay.SrcConfirmations != 0 {
		cfg.SrcConfirmations = overlay.SrcConfirmations
	}
	if overlay.DstConfirmations != 0 {
		cfg.DstConfirmations = overlay.DstConfirmations
	}
	if len(overlay.APIKeys) > 0 {
		cfg.APIKeys = overlay.APIKeys
	}
	if overlay.StateDir != "" {
		cfg.StateDir = overlay.StateDir
	}
	if overlay.SessionDefaultTTLSeconds != 0 {
		cfg.SessionDefaultTTL = time.Duration(overlay.SessionDefaultTTLSeconds) * time.Second
	}
	if overlay.MaxSubscribersPerSession != 0 {
		cfg.MaxSubscribersPerSession = overlay.MaxSubscribersPerSession
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCHESTRATOR_PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("SRC_CHAIN_RPC"); v != "" {
		cfg.SrcChainRPC = v
	}
	if v := os.Getenv("DST_CHAIN_RPC"); v != "" {
		cfg.DstChainRPC = v
	}
	if v := os.Getenv("SRC_ESCROW_CONTRACT"); v != "" {
		cfg.SrcEscrowContract = v
	}
	if v := os.Getenv("DST_HTLC_CONTRACT"); v != "" {
		cfg.DstHTLCContract = v
	}
	if v := os.Getenv("SRC_CONFIRMATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SRC_CONFIRMATIONS: %w", err)
		}
		cfg.SrcConfirmations = n
	}
	if v := os.Getenv("DST_CONFIRMATIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DST_CONFIRMATIONS: %w", err)
		}
		cfg.DstConfirmations = n
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.APIKeys = splitCSV(v)
	}
	if v := os.Getenv("SESSION_DEFAULT_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_DEFAULT_TTL_SECONDS: %w", err)
		}
		cfg.SessionDefaultTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("MAX_SUBSCRIBERS_PER_SESSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_SUBSCRIBERS_PER_SESSION: %w", err)
		}
		cfg.MaxSubscribersPerSession = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate checks that required fields are present and bounds are sane.
func (c *Config) Validate() error {
	if c.SrcChainRPC == "" {
		return fmt.Errorf("SRC_CHAIN_RPC is required")
	}
	if c.DstChainRPC == "" {
		return fmt.Errorf("DST_CHAIN_RPC is required")
	}
	if c.SrcEscrowContract == "" {
		return fmt.Errorf("SRC_ESCROW_CONTRACT is required")
	}
	if c.DstHTLCContract == "" {
		return fmt.Errorf("DST_HTLC_CONTRACT is required")
	}
	if c.SessionDefaultTTL < 10*time.Minute || c.SessionDefaultTTL > 24*time.Hour {
		return fmt.Errorf("session TTL %s out of allowed range [10m, 24h]", c.SessionDefaultTTL)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
