package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"spot-trading-engine/config"
	"spot-trading-engine/internal/api"
	"spot-trading-engine/internal/auth"
	"spot-trading-engine/internal/autopilot"
	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/circuit"
	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/events"
	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/notification"
	"spot-trading-engine/internal/risk"
	"spot-trading-engine/internal/scanner"
	"spot-trading-engine/internal/strategy"
	"spot-trading-engine/internal/vault"
)

// store is what both the Postgres repository and the in-memory store offer
type store interface {
	autopilot.Store
	api.TradeSource
}

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	issueToken := flag.String("token", "", "print an API token for this subject and exit")
	tokenScope := flag.String("scope", auth.ScopeRead, "scope of the issued token (read|operate)")
	tokenTTL := flag.Duration("ttl", 30*24*time.Hour, "lifetime of the issued token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Vault overrides environment credentials when enabled
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("Failed to create vault client", "error", err)
	}
	if vaultClient.IsEnabled() {
		creds, err := vaultClient.Credentials(ctx)
		if err != nil {
			logger.Fatal("Failed to load credentials from vault", "error", err)
		}
		cfg.BinanceConfig.APIKey = creds.APIKey
		cfg.BinanceConfig.SecretKey = creds.SecretKey
		cfg.BinanceConfig.TestNet = creds.TestNet
		if creds.JWTSecret != "" {
			cfg.AuthConfig.JWTSecret = creds.JWTSecret
		}
		logger.Info("Exchange credentials loaded from vault", "testnet", creds.TestNet)
	}

	var tokens *auth.TokenManager
	if cfg.AuthConfig.Enabled || *issueToken != "" {
		tokens, err = auth.NewTokenManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer)
		if err != nil {
			logger.Fatal("Failed to create token manager", "error", err)
		}
	}
	if *issueToken != "" {
		token, err := tokens.Issue(*issueToken, *tokenScope, *tokenTTL)
		if err != nil {
			logger.Fatal("Failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	if err := shutdownError(run(ctx, cfg, tokens, vaultClient, logger)); err != nil {
		logger.Error("Engine stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// shutdownError filters the deliberate daily-loss halt out of run's result.
// The controller still returns it so the errgroup stops the feed and the API.
func shutdownError(err error) error {
	if errors.Is(err, autopilot.ErrDailyLossHalt) {
		return nil
	}
	return err
}

func run(ctx context.Context, cfg *config.Config, tokens *auth.TokenManager, vaultClient *vault.Client, logger *logging.Logger) error {
	health := map[string]api.HealthChecker{}
	if vaultClient.IsEnabled() {
		health["vault"] = api.HealthFunc(vaultClient.Health)
	}

	// Exchange: REST client behind the weight limiter and retry policy
	limiter := binance.NewRateLimiter(cfg.BinanceConfig.RequestWeightPerMinute)
	rest := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, cfg.BinanceConfig.TestNet,
		limiter, cfg.BinanceConfig.RequestTimeout.Duration, logger)
	exchange := binance.NewRetryClient(rest, binance.RetryConfig{
		MaxRetries:      cfg.RetryConfig.MaxRetries,
		InitialInterval: cfg.RetryConfig.InitialInterval.Duration,
		Multiplier:      cfg.RetryConfig.Multiplier,
		MaxInterval:     cfg.RetryConfig.MaxInterval.Duration,
	}, logger)

	quote := cfg.ScannerConfig.QuoteAsset
	markets := binance.NewMarketCache(exchange, quote, logger)

	var feed *binance.StreamFeed
	var priceFeed binance.PriceFeed
	if cfg.PriceFeedConfig.Enabled {
		feed = binance.NewStreamFeed(binance.StreamFeedConfig{
			URL:            cfg.PriceFeedConfig.URL,
			ReconnectDelay: cfg.PriceFeedConfig.ReconnectDelay.Duration,
			PingTimeout:    cfg.PriceFeedConfig.PingTimeout.Duration,
			StaleAfter:     cfg.PriceFeedConfig.StaleAfter.Duration,
		}, logger)
		priceFeed = feed
	}
	marketData := binance.NewMarketData(exchange, priceFeed, cfg.PriceFeedConfig.StaleAfter.Duration, logger)

	// Persistence
	var trades store
	if cfg.DatabaseConfig.Enabled {
		db, err := database.Open(ctx, cfg.DatabaseConfig.DSN(), int32(cfg.DatabaseConfig.MaxConns), logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		repo := database.NewRepository(db)
		health["postgres"] = repo
		trades = repo
	} else {
		logger.Warn("Database disabled, positions and trades are kept in memory only")
		trades = database.NewMemoryStore()
	}

	stateStore := newStateStore(ctx, cfg.RedisConfig, logger)
	if cfg.RedisConfig.Enabled {
		health["redis"] = api.HealthFunc(stateStore.CheckRedisConnection)
	}

	// Notifications
	notifier := notification.NewManager(notification.Config{
		Enabled:  cfg.NotificationConfig.Enabled,
		Cooldown: cfg.TradingConfig.MessageCooldown.Duration,
	}, stateStore, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Close(flushCtx); err != nil {
			logger.Warn("Notification queue not drained", "error", err)
		}
	}()
	if tg := cfg.NotificationConfig.Telegram; tg.Enabled {
		telegram, err := notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: tg.BotToken,
			ChatID:   tg.ChatID,
			Enabled:  tg.Enabled,
		})
		if err != nil {
			logger.Warn("Telegram disabled", "error", err)
		} else {
			notifier.AddNotifier(telegram)
			logger.Info("Telegram notifications enabled")
		}
	}
	if dc := cfg.NotificationConfig.Discord; dc.Enabled {
		notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: dc.WebhookURL,
			Enabled:    dc.Enabled,
		}))
		logger.Info("Discord notifications enabled")
	}

	eventBus := events.NewEventBus()
	eventBus.OnPanic(func(et events.EventType, r interface{}) {
		logger.Error("Event subscriber panicked", "event", string(et), "panic", fmt.Sprint(r))
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := autopilot.NewMetrics(registry)

	// Trading components
	riskManager := risk.NewRiskManager(&risk.Config{
		RiskPercent:       cfg.RiskConfig.RiskPercent,
		MaxPositions:      cfg.RiskConfig.MaxPositions,
		MinPositionUSD:    cfg.RiskConfig.MinPositionUSD,
		StopLossPercent:   cfg.RiskConfig.StopLossPercent,
		TakeProfitPercent: cfg.RiskConfig.TakeProfitPercent,
		MaxBuySlippage:    cfg.RiskConfig.MaxBuySlippage,
		FeePercent:        cfg.RiskConfig.FeePercent,
		StopLimitOffset:   cfg.RiskConfig.StopLimitOffset,
	})
	adv := cfg.AdvancedConfig
	trailing := risk.NewTrailingStopManager(&risk.TrailingConfig{
		DynamicStopEnabled:  adv.DynamicStopLoss.Enabled,
		BreakevenAt:         adv.DynamicStopLoss.MoveToBreakevenAt,
		LockProfitAt:        adv.DynamicStopLoss.LockProfitAt,
		LockProfitPercent:   adv.DynamicStopLoss.LockProfitPercent,
		TrailingTPEnabled:   adv.TrailingTakeProfit.Enabled,
		TrailingTPActivate:  adv.TrailingTakeProfit.ActivationPercent,
		TrailingTPPercent:   adv.TrailingTakeProfit.TrailingPercent,
		TrailingStopPercent: cfg.RiskConfig.TrailingStopPercent,
		MinSellProfit:       cfg.RiskConfig.MinSellProfit,
	})
	reentry := autopilot.NewReentryGuard(autopilot.ReentryConfig{
		Enabled:            adv.SmartReentry.Enabled,
		BlockAfterLoss:     adv.SmartReentry.BlockAfterLoss.Duration,
		BlockAfterStopLoss: adv.SmartReentry.BlockAfterStopLoss.Duration,
	}, stateStore, logger)

	var executor autopilot.Executor
	if cfg.TradingConfig.PaperTrading {
		executor = autopilot.NewPaperExecutor(cfg.TradingConfig.PaperBalance, cfg.RiskConfig.FeePercent)
	} else {
		executor = autopilot.NewLiveExecutor(exchange, quote)
	}

	lifecycle := autopilot.NewManager(autopilot.LifecycleConfig{
		FillCheckDelayPaper: cfg.TradingConfig.FillCheckDelayPaper.Duration,
		FillCheckDelayLive:  cfg.TradingConfig.FillCheckDelayLive.Duration,
		PendingTimeoutPaper: cfg.TradingConfig.PendingTimeoutPaper.Duration,
		PendingTimeoutLive:  cfg.TradingConfig.PendingTimeoutLive.Duration,
		PendingCheckDelay:   cfg.TradingConfig.PendingCheckDelay.Duration,
		RearmBracket:        adv.RearmBracket,
	}, autopilot.Dependencies{
		Executor: executor,
		Prices:   marketData,
		Markets:  markets,
		Store:    trades,
		Risk:     riskManager,
		Trailing: trailing,
		Reentry:  reentry,
		Notifier: notifier,
		Events:   eventBus,
		Metrics:  metrics,
		Logger:   logger,
	})

	ind := cfg.IndicatorConfig
	evaluator := strategy.NewEvaluator(strategy.EvaluatorConfig{
		MinCandles:        ind.MinCandles,
		SMAFast:           ind.SMAFast,
		SMASlow:           ind.SMASlow,
		RSIPeriod:         ind.RSIPeriod,
		RSIBuyMin:         ind.RSIBuyMin,
		RSIBuyMax:         ind.RSIBuyMax,
		RSIStrongCeiling:  ind.RSIStrongCeiling,
		RSIMediumCeiling:  ind.RSIMediumCeiling,
		MACDFast:          ind.MACDFast,
		MACDSlow:          ind.MACDSlow,
		MACDSignal:        ind.MACDSignal,
		ATRPeriod:         ind.ATRPeriod,
		VolumeWindow:      ind.VolumeWindow,
		VolumeSurgeFactor: ind.VolumeSurgeFactor,
	})
	sc := cfg.ScannerConfig
	marketScanner := scanner.NewScanner(exchange, evaluator, scanner.Config{
		QuoteAsset:        sc.QuoteAsset,
		MinVolume:         sc.MinVolume,
		MinPrice:          sc.MinPrice,
		MinChange:         sc.MinChange,
		MaxChange:         sc.MaxChange,
		MaxSymbols:        sc.MaxSymbols,
		ExcludeList:       sc.ExcludeList,
		Timeframe:         cfg.TradingConfig.OHLCVTimeframe,
		KlineLimit:        cfg.TradingConfig.OHLCVLimit,
		SymbolDelay:       cfg.TradingConfig.PriceCheckInterval.Duration,
		HistoryRetryAfter: cfg.TradingConfig.MarketRefresh.Duration,
	}, logger)
	marketScanner.SetActiveFilter(markets.IsActive)

	pc := cfg.ProtectionConfig
	protection := circuit.NewMonitor(circuit.ProtectionConfig{
		Enabled:            pc.Enabled,
		ReferenceSymbol:    pc.ReferenceSymbol,
		QuoteAsset:         quote,
		Window:             pc.Window.Duration,
		SentimentReadings:  pc.SentimentReadings,
		BTCDropThreshold:   pc.BTCDropThreshold,
		RedMarketThreshold: pc.RedMarketThreshold,
		SeverityThreshold:  pc.SeverityThreshold,
		DurationMin:        pc.DurationMin.Duration,
		DurationMax:        pc.DurationMax.Duration,
	}, lifecycle, stateStore, logger)

	var breaker *circuit.Breaker
	if cfg.CircuitBreakerConfig.Enabled {
		breaker = circuit.NewBreaker(circuit.BreakerConfig{
			Enabled:              true,
			MaxDailyLoss:         cfg.RiskConfig.MaxDailyLoss,
			MaxConsecutiveLosses: cfg.CircuitBreakerConfig.MaxConsecutiveLosses,
		})
		lifecycle.SetBreaker(breaker)
	}

	controllerDeps := autopilot.ControllerDeps{
		Lifecycle:  lifecycle,
		Scanner:    marketScanner,
		Protection: protection,
		Breaker:    breaker,
		Data:       marketData,
		Markets:    markets,
		Store:      trades,
		Notifier:   notifier,
		Events:     eventBus,
		Metrics:    metrics,
		Logger:     logger,
	}
	if feed != nil {
		controllerDeps.Feed = feed
	}
	controller := autopilot.NewController(autopilot.ControllerConfig{
		ScanInterval:     cfg.TradingConfig.ScanInterval.Duration,
		MarketRefresh:    cfg.TradingConfig.MarketRefresh.Duration,
		DiagnosticsDelay: cfg.TradingConfig.DiagnosticsDelay.Duration,
		DailyReportHour:  cfg.TradingConfig.DailyReportHour,
		MaxPositions:     cfg.RiskConfig.MaxPositions,
		HaltOnDailyLoss:  cfg.CircuitBreakerConfig.HaltProcess,
	}, controllerDeps)

	apiDeps := api.Deps{
		Controller: controller,
		Book:       lifecycle,
		Protection: protection,
		Scanner:    marketScanner,
		Trades:     trades,
		Health:     health,
		Events:     eventBus,
		Gatherer:   registry,
		Tokens:     tokens,
		Logger:     logger,
	}
	if breaker != nil {
		apiDeps.Breaker = breaker
	}

	g, gctx := errgroup.WithContext(ctx)
	if feed != nil {
		g.Go(func() error {
			if err := feed.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("price feed: %w", err)
			}
			return nil
		})
	}
	if cfg.ServerConfig.Enabled {
		server := api.NewServer(api.ServerConfig{
			Host:            cfg.ServerConfig.Host,
			Port:            cfg.ServerConfig.Port,
			ProductionMode:  cfg.ServerConfig.ProductionMode,
			AllowedOrigins:  cfg.ServerConfig.AllowedOrigins,
			ShutdownTimeout: cfg.ServerConfig.ShutdownTimeout.Duration,
			RequestsPerSec:  10,
			Burst:           20,
		}, apiDeps)
		g.Go(func() error { return server.Run(gctx) })
		logger.Info("API enabled", "host", cfg.ServerConfig.Host, "port", cfg.ServerConfig.Port, "auth", tokens != nil)
	}
	g.Go(func() error {
		defer lifecycle.Stop()
		err := controller.Run(gctx)
		if errors.Is(err, autopilot.ErrDailyLossHalt) {
			notifier.Send("Engine halted: daily loss limit reached")
		}
		return err
	})

	logger.Info("Spot trading engine running", "paper", cfg.TradingConfig.PaperTrading,
		"testnet", cfg.BinanceConfig.TestNet, "database", cfg.DatabaseConfig.Enabled, "redis", cfg.RedisConfig.Enabled)

	err := g.Wait()
	logger.Info("Shutting down")
	return err
}

// newStateStore connects Redis when enabled. The store degrades to memory when
// Redis is unreachable.
func newStateStore(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger) *database.RedisStateStore {
	prefix := strings.TrimSuffix(cfg.KeyPrefix, ":")
	if !cfg.Enabled {
		return database.NewRedisStateStore(ctx, nil, prefix, logger)
	}
	client := database.NewRedisClient(cfg.Address, cfg.Password, cfg.DB, cfg.PoolSize)
	return database.NewRedisStateStore(ctx, client, prefix, logger)
}
