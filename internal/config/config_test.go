package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.SrcConfirmations != 5 {
		t.Errorf("expected src confirmations 5, got %d", cfg.SrcConfirmations)
	}
	if cfg.DstConfirmations != 1 {
		t.Errorf("expected dst confirmations 1, got %d", cfg.DstConfirmations)
	}
	if cfg.SessionDefaultTTL.String() != "1h0m0s" {
		t.Errorf("expected default TTL 1h0m0s, got %s", cfg.SessionDefaultTTL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
}

func TestValidateRequiresChainFields(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error with no chain fields set")
	}

	cfg.SrcChainRPC = "http://localhost:8545"
	cfg.DstChainRPC = "http://localhost:3030"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error with no contract fields set")
	}

	cfg.SrcEscrowContract = "0x1111111111111111111111111111111111111111"
	cfg.DstHTLCContract = "htlc.near"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", "9090")
	t.Setenv("SRC_CHAIN_RPC", "http://base-rpc:8545")
	t.Setenv("DST_CHAIN_RPC", "http://near-rpc:3030")
	t.Setenv("SRC_ESCROW_CONTRACT", "0x2222222222222222222222222222222222222222")
	t.Setenv("DST_HTLC_CONTRACT", "htlc-v2.near")
	t.Setenv("API_KEYS", "key-a, key-b ,key-c")
	t.Setenv("SESSION_DEFAULT_TTL_SECONDS", "1800")

	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.SrcEscrowContract != "0x2222222222222222222222222222222222222222" {
		t.Errorf("SrcEscrowContract = %s", cfg.SrcEscrowContract)
	}
	if cfg.DstHTLCContract != "htlc-v2.near" {
		t.Errorf("DstHTLCContract = %s", cfg.DstHTLCContract)
	}
	if len(cfg.APIKeys) != 3 || cfg.APIKeys[0] != "key-a" || cfg.APIKeys[2] != "key-c" {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
	if cfg.SessionDefaultTTL.String() != "30m0s" {
		t.Errorf("SessionDefaultTTL = %s, want 30m0s", cfg.SessionDefaultTTL)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("splitCSV = %v", got)
	}
}
