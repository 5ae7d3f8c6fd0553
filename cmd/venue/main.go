package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finvault/cantor/params"
	"github.com/finvault/cantor/pkg/allocation"
	"github.com/finvault/cantor/pkg/api"
	"github.com/finvault/cantor/pkg/book"
	"github.com/finvault/cantor/pkg/keystore"
	"github.com/finvault/cantor/pkg/ledger"
	"github.com/finvault/cantor/pkg/party"
	"github.com/finvault/cantor/pkg/session"
	"github.com/finvault/cantor/pkg/settle"
	"github.com/finvault/cantor/pkg/signing"
	"github.com/finvault/cantor/pkg/storage"
	"github.com/finvault/cantor/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Ledger client ----
	var tokens ledger.TokenSource = ledger.StaticTokenSource(cfg.Ledger.Token)
	if cfg.Ledger.TokenURL != "" {
		tokens = ledger.NewCachedTokenSource(
			cfg.Ledger.TokenURL,
			cfg.Ledger.ClientID,
			cfg.Ledger.ClientSecret,
			cfg.Ledger.Audience,
			cfg.Ledger.HTTPTimeout,
		)
	}
	client := ledger.NewClient(ledger.ClientConfig{
		BaseURL:     cfg.Ledger.BaseURL,
		Tokens:      tokens,
		HTTPTimeout: cfg.Ledger.HTTPTimeout,
	}, sugar)

	sugar.Infow("ledger_connecting", "url", cfg.Ledger.BaseURL)
	if err := client.WaitReady(ctx); err != nil {
		sugar.Fatalw("ledger_unreachable", "err", err)
	}
	sugar.Info("ledger_ready")

	// ---- Templates ----
	holdingTpl, err := ledger.ParseTemplateID(cfg.Templates.Holding)
	if err != nil {
		sugar.Fatalw("bad_holding_template", "err", err)
	}
	allocTpl, err := ledger.ParseTemplateID(cfg.Templates.Allocation)
	if err != nil {
		sugar.Fatalw("bad_allocation_template", "err", err)
	}

	// ---- Keys & custody ----
	sealKey, err := hex.DecodeString(cfg.KeySealHex)
	if err != nil {
		sugar.Fatalw("bad_seal_key", "err", err)
	}
	keys, err := keystore.Open(cfg.KeysDir, sealKey, sugar)
	if err != nil {
		sugar.Fatalw("keystore_open_failed", "err", err)
	}

	operator := ledger.Party(cfg.Parties.Operator)
	var external []ledger.Party
	for _, p := range cfg.Parties.External {
		external = append(external, ledger.Party(p))
	}
	registry := party.NewRegistry(external)

	// Self-custodied parties need a local signing key before their first
	// interactive submission.
	for _, p := range external {
		if keys.Has(p) {
			continue
		}
		if _, err := keys.Generate(p, keystore.SchemeEd25519); err != nil {
			sugar.Fatalw("key_generation_failed", "party", p, "err", err)
		}
	}

	// ---- Submission pipeline ----
	ser := session.New(sugar)
	ser.Start()
	defer ser.Close()

	proto := signing.NewProtocol(client, keys, sugar)
	strategies := settle.DefaultStrategies(client, proto, ser, registry, allocTpl)
	executor := settle.NewExecutor(strategies, sugar)

	manager := allocation.NewManager(client, executor, ser, registry, proto, util.RealClock{}, allocation.Config{
		Executor:        operator,
		Templates:       allocation.Templates{Holding: holdingTpl, Allocation: allocTpl},
		MinSettleWindow: cfg.Matching.MinSettleWindow,
	}, sugar)

	// ---- Persistence ----
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Book & matcher ----
	orderBook := book.New()
	matcher := book.NewMatcher(orderBook, manager, store, nil, util.RealClock{},
		book.MatcherConfig{
			Interval:     cfg.Matching.Interval,
			MaxPerCycle:  cfg.Matching.MaxPerCycle,
			SettleWindow: cfg.Matching.SettleWindow,
		}, sugar)

	// Orders that were open when the last process died lost their fund
	// locks with it, so they cannot settle; close them out rather than
	// re-resting them unlocked. Owners resubmit to lock fresh funds.
	open, err := store.LoadAllOpenOrders()
	if err != nil {
		sugar.Fatalw("order_recovery_failed", "err", err)
	}
	for _, o := range open {
		o.Status = book.StatusCancelled
		if err := store.SaveOrder(o); err != nil {
			sugar.Fatalw("order_recovery_failed", "order_id", o.ID, "err", err)
		}
	}
	if len(open) > 0 {
		sugar.Infow("stale_orders_closed", "count", len(open))
	}

	// ---- API server ----
	apiServer := api.NewServer(matcher, orderBook, store, client.Ready, sugar)
	matcher.SetNotifier(apiServer)

	go matcher.Run(ctx)

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.APIAddr)
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("venue_started",
		"operator", cfg.Parties.Operator,
		"external_parties", len(cfg.Parties.External),
		"match_interval_ms", cfg.Matching.Interval.Milliseconds())

	<-ctx.Done()
	sugar.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_error", "err", err)
	}
}
