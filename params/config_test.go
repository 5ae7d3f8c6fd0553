package params

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LEDGER_URL", "https://ledger.example.com")
	t.Setenv("OPERATOR_PARTY", "venue::prod")
	t.Setenv("EXTERNAL_PARTIES", "ext::alice, ext::bob,")
	t.Setenv("MATCH_INTERVAL_MS", "250")
	t.Setenv("MATCH_MAX_PER_CYCLE", "8")

	cfg := LoadFromEnv("does-not-exist.env")
	if cfg.Ledger.BaseURL != "https://ledger.example.com" {
		t.Errorf("BaseURL = %q", cfg.Ledger.BaseURL)
	}
	if cfg.Parties.Operator != "venue::prod" {
		t.Errorf("Operator = %q", cfg.Parties.Operator)
	}
	if len(cfg.Parties.External) != 2 || cfg.Parties.External[1] != "ext::bob" {
		t.Errorf("External = %v", cfg.Parties.External)
	}
	if cfg.Matching.Interval != 250*time.Millisecond || cfg.Matching.MaxPerCycle != 8 {
		t.Errorf("Matching = %+v", cfg.Matching)
	}
	// Untouched keys keep defaults.
	if cfg.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.KeySealHex = "aa"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := cfg
	bad.Matching.SettleWindow = bad.Matching.MinSettleWindow
	if err := bad.Validate(); err == nil {
		t.Error("settle window at the minimum should be rejected")
	}

	bad = cfg
	bad.Ledger.TokenURL = "https://auth.example.com/token"
	if err := bad.Validate(); err == nil {
		t.Error("token URL without client credentials should be rejected")
	}

	bad = cfg
	bad.KeySealHex = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing seal key should be rejected")
	}
}
