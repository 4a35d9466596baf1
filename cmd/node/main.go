package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/trailstop/params"
	"github.com/uhyunpark/trailstop/pkg/api"
	"github.com/uhyunpark/trailstop/pkg/crypto"
	"github.com/uhyunpark/trailstop/pkg/custody"
	"github.com/uhyunpark/trailstop/pkg/dex"
	"github.com/uhyunpark/trailstop/pkg/engine"
	"github.com/uhyunpark/trailstop/pkg/keeper"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/telemetry"
	"github.com/uhyunpark/trailstop/pkg/transaction"
	"github.com/uhyunpark/trailstop/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store *storage.Store
	if cfg.Node.DBPath == "" {
		store, err = storage.OpenInMemory()
	} else {
		store, err = storage.Open(cfg.Node.DBPath)
	}
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	clock := util.RealClock{}
	ledger := custody.NewLedger(cfg.Accounts.Custody, clock)

	// ---- Oracle ----
	var (
		priceClient oracle.Client
		feed        *oracle.StaticFeed
	)
	if cfg.Oracle.URL != "" {
		priceClient = oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.Timeout, cfg.Oracle.RateLimit)
		sugar.Infow("oracle_configured", "url", cfg.Oracle.URL)
	} else {
		feed = oracle.NewStaticFeed(cfg.Oracle.Decimals)
		priceClient = feed
		sugar.Infow("oracle_configured", "static_feed", true, "decimals", cfg.Oracle.Decimals)
	}

	// ---- DEX router ----
	var router dex.Router
	if cfg.Router.URL != "" {
		router = dex.NewHTTPRouter(cfg.Router.URL, cfg.Accounts.Router, cfg.Router.Timeout)
		sugar.Infow("router_configured", "url", cfg.Router.URL)
	} else {
		mem := dex.NewMemoryRouter(cfg.Accounts.Router, clock)
		if err := mem.LoadRates(cfg.Router.Rates); err != nil {
			sugar.Fatalw("router_rates_invalid", "err", err)
		}
		router = mem
		sugar.Infow("router_configured", "memory", true)
	}

	metrics, err := telemetry.New()
	if err != nil {
		sugar.Fatalw("metrics_init_failed", "err", err)
	}

	// ---- Engine ----
	eng := engine.New(store, ledger, priceClient, router)
	eng.Clock = clock
	eng.Logger = sugar
	eng.Metrics = metrics
	eng.AllowanceTTL = cfg.Router.AllowanceTTL

	if _, err := eng.Initialize(ctx, cfg.Accounts.Admin, cfg.Accounts.Oracle, cfg.Accounts.Router); err != nil {
		if !errors.Is(err, order.ErrAlreadyInitialized) {
			sugar.Fatalw("engine_init_failed", "err", err)
		}
		sugar.Infow("engine_already_initialized")
	}

	// ---- API Server ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	domain.VerifyingContract = cfg.Accounts.Custody
	verifier := transaction.NewVerifier(domain, store, clock)

	apiServer := api.NewServer(eng, ledger, verifier, api.Options{
		Devnet:         cfg.Node.Devnet,
		Feed:           feed,
		RateLimit:      cfg.API.RateLimit,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, sugar)
	eng.OnEvent = apiServer.PublishEvent

	// ---- Keeper (optional) ----
	// Enable with: KEEPER_ENABLED=true KEEPER_WATCHLIST=watchlist.yaml
	if cfg.Keeper.Enabled {
		watchlist, err := keeper.LoadWatchlist(cfg.Keeper.Watchlist, cfg.Keeper.DefaultTicker)
		if err != nil {
			sugar.Fatalw("watchlist_load_failed", "path", cfg.Keeper.Watchlist, "err", err)
		}
		kcfg := keeper.DefaultConfig()
		kcfg.Address = cfg.Keeper.Address
		kcfg.Interval = cfg.Keeper.Interval
		kcfg.SlippageBps = cfg.Keeper.SlippageBps
		kcfg.DeadlineSeconds = cfg.Keeper.DeadlineSecs
		kcfg.Concurrency = cfg.Keeper.Concurrency
		kcfg.Watchlist = watchlist

		k := keeper.New(kcfg, eng, clock)
		k.Logger = sugar
		go func() {
			if err := k.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("keeper_stopped", "err", err)
			}
		}()
	} else {
		sugar.Info("keeper_disabled")
	}

	sugar.Infow("node_starting",
		"devnet", cfg.Node.Devnet,
		"chain_id", cfg.Node.ChainID,
		"custody", cfg.Accounts.Custody.Hex(),
		"api_addr", cfg.API.Addr,
	)

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}
