// Package params holds the venue's static configuration, loaded from the
// environment with optional .env support.
package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger is the connection to the external settlement ledger.
type Ledger struct {
	BaseURL     string
	HTTPTimeout time.Duration

	// Static bearer token; used when TokenURL is empty.
	Token string

	// OAuth client-credentials flow for token refresh.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
}

// Templates names the ledger contract templates the venue exercises.
type Templates struct {
	Holding    string // package:Module:Entity
	Allocation string
}

// Parties is the custody configuration: the operator party acts for the
// venue; external parties hold their own keys and co-sign interactively.
type Parties struct {
	Operator string
	External []string
}

// Matching bounds the matcher loop.
type Matching struct {
	Interval        time.Duration
	MaxPerCycle     int
	SettleWindow    time.Duration
	MinSettleWindow time.Duration
}

type Config struct {
	Ledger    Ledger
	Templates Templates
	Parties   Parties
	Matching  Matching

	APIAddr    string
	DataDir    string
	KeysDir    string
	KeySealHex string // 32 bytes hex; seals signing keys at rest
	LogFile    string
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			BaseURL:     "http://localhost:7575",
			HTTPTimeout: 30 * time.Second,
		},
		Templates: Templates{
			Holding:    "trading:Trading.Holding:Holding",
			Allocation: "trading:Trading.Allocation:Allocation",
		},
		Parties: Parties{
			Operator: "venue::operator",
		},
		Matching: Matching{
			Interval:        500 * time.Millisecond,
			MaxPerCycle:     64,
			SettleWindow:    time.Hour,
			MinSettleWindow: time.Minute,
		},
		APIAddr: ":8080",
		DataDir: "data/venue",
		KeysDir: "data/keys",
		LogFile: "data/venue.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	setString(&cfg.Ledger.BaseURL, "LEDGER_URL")
	setDuration(&cfg.Ledger.HTTPTimeout, "LEDGER_HTTP_TIMEOUT_MS")
	setString(&cfg.Ledger.Token, "LEDGER_TOKEN")
	setString(&cfg.Ledger.TokenURL, "LEDGER_TOKEN_URL")
	setString(&cfg.Ledger.ClientID, "LEDGER_CLIENT_ID")
	setString(&cfg.Ledger.ClientSecret, "LEDGER_CLIENT_SECRET")
	setString(&cfg.Ledger.Audience, "LEDGER_AUDIENCE")

	setString(&cfg.Templates.Holding, "TEMPLATE_HOLDING")
	setString(&cfg.Templates.Allocation, "TEMPLATE_ALLOCATION")

	setString(&cfg.Parties.Operator, "OPERATOR_PARTY")
	if v := os.Getenv("EXTERNAL_PARTIES"); v != "" {
		cfg.Parties.External = splitList(v)
	}

	setDuration(&cfg.Matching.Interval, "MATCH_INTERVAL_MS")
	setInt(&cfg.Matching.MaxPerCycle, "MATCH_MAX_PER_CYCLE")
	setDuration(&cfg.Matching.SettleWindow, "SETTLE_WINDOW_MS")
	setDuration(&cfg.Matching.MinSettleWindow, "MIN_SETTLE_WINDOW_MS")

	setString(&cfg.APIAddr, "API_ADDR")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.KeysDir, "KEYS_DIR")
	setString(&cfg.KeySealHex, "KEY_SEAL_HEX")
	setString(&cfg.LogFile, "LOG_FILE")

	return cfg
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}
	if c.Parties.Operator == "" {
		return fmt.Errorf("OPERATOR_PARTY is required")
	}
	if c.KeySealHex == "" {
		return fmt.Errorf("KEY_SEAL_HEX is required")
	}
	if c.Matching.SettleWindow <= c.Matching.MinSettleWindow {
		return fmt.Errorf("SETTLE_WINDOW_MS must exceed MIN_SETTLE_WINDOW_MS")
	}
	if c.Ledger.TokenURL != "" && (c.Ledger.ClientID == "" || c.Ledger.ClientSecret == "") {
		return fmt.Errorf("LEDGER_TOKEN_URL needs LEDGER_CLIENT_ID and LEDGER_CLIENT_SECRET")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
