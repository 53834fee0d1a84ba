package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"smcbot/internal/api"
	"smcbot/internal/bot"
	"smcbot/internal/config"
	"smcbot/internal/confluence"
	"smcbot/internal/feed"
	"smcbot/internal/models"
	"smcbot/internal/repository"
	"smcbot/internal/risk"
	"smcbot/internal/service"
	"smcbot/pkg/retry"
	"smcbot/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("Server failed", utils.Err(err))
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *utils.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище
	store, err := openStore(rootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", utils.Err(err))
		}
	}()
	durable := repository.NewRetryingStore(store, retry.PersistenceConfig(), log)

	// Источники цен
	candles := feed.NewCandleStore(cfg.Feed.CandleHistory)
	prices, closeFeed := setupFeed(rootCtx, cfg, candles, log)

	// Конвейер и допуск
	params := cfg.Symbols.Params
	admission := risk.NewController(
		risk.LimitsFromConfig(cfg.Risk),
		params,
		risk.NewCooldownTracker(cfg.Risk.Cooldown),
		log,
	)

	engine := bot.NewEngine(bot.ConfigFrom(cfg), bot.Deps{
		Store:     durable,
		Prices:    prices,
		Candles:   candles,
		Evaluator: confluence.NewEngine(log),
		Admission: admission,
		Params:    params,
		Log:       log,
	})

	// Владелец состояния живёт до конца очереди намерений
	ownerCtx, stopOwner := context.WithCancel(context.Background())
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		if err := engine.Run(ownerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Lifecycle engine stopped", utils.Err(err))
		}
	}()

	if _, err := engine.Recover(rootCtx); err != nil {
		stopOwner()
		<-ownerDone
		closeFeed()
		return fmt.Errorf("recover state: %w", err)
	}

	loopsCtx, stopLoops := context.WithCancel(rootCtx)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		engine.RunCycles(loopsCtx)
	}()
	go func() {
		defer loops.Done()
		engine.RunMonitor(loopsCtx)
	}()

	scheduler, err := bot.NewScheduler(engine, cfg.Lifecycle.EODTime, cfg.Lifecycle.EODLocation,
		cfg.Lifecycle.ShutdownTimeout, log)
	if err != nil {
		stopLoops()
		stopOwner()
		closeFeed()
		return err
	}
	scheduler.Start()

	// HTTP API
	portfolio := service.NewPortfolioService(engine, durable)
	signals := service.NewSignalService(engine, log)
	router := api.SetupRoutes(&api.Dependencies{
		Portfolio:      portfolio,
		Signals:        signals,
		Health:         portfolio,
		AdminTokenHash: cfg.Security.AdminTokenHash,
		Log:            log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", utils.String("addr", server.Addr),
			utils.Int("symbols", len(cfg.Symbols.Tracked)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("Shutting down")
	case err := <-serverErr:
		log.Error("HTTP server failed", utils.Err(err))
	}

	// Порядок остановки: HTTP, расписание, циклы, очередь намерений, фиды, БД
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server forced to shutdown", utils.Err(err))
	}
	scheduler.Stop(shutdownCtx)

	stopLoops()
	loops.Wait()

	stopOwner()
	select {
	case <-ownerDone:
	case <-shutdownCtx.Done():
		log.Warn("Intent queue was not drained before timeout")
	}

	closeFeed()
	return nil
}

// openStore выбирает хранилище по драйверу
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *utils.Logger) (repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store, state will not survive restart")
		return repository.NewMemoryStore(), nil
	}
	s, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to database",
		utils.String("driver", cfg.Driver),
		utils.String("dsn", cfg.DSNWithoutPassword()),
	)
	return s, nil
}

// setupFeed собирает цепочку поток → REST → REST → static и заполняет
// историю свечей. Возвращает функцию закрытия соединений.
func setupFeed(ctx context.Context, cfg *config.Config, candles *feed.CandleStore, log *utils.Logger) (*feed.Chain, func()) {
	var (
		providers []feed.Provider
		closers   []func()
		rest      []*feed.RESTProvider
	)

	if cfg.Feed.StreamURL != "" {
		stream := feed.NewStreamProvider(feed.StreamConfig{
			URL:     cfg.Feed.StreamURL,
			Symbols: cfg.Symbols.Tracked,
			Reconnect: feed.WSReconnectConfig{
				InitialDelay:   cfg.Feed.ReconnectBase,
				MaxDelay:       cfg.Feed.ReconnectCap,
				AlertCeiling:   cfg.Feed.ReconnectCeiling,
				ConnectTimeout: cfg.Feed.ConnectTimeout,
				PingInterval:   cfg.Feed.PingInterval,
				PongTimeout:    cfg.Feed.PongTimeout,
			},
			StaleAfter: cfg.Feed.StaleAfter,
		}, candles, log)
		stream.SetOnCeiling(func(attempts int, lastErr error) {
			log.Error("Price stream unavailable, serving from fallback tiers",
				utils.Attempt(attempts), utils.Err(lastErr))
		})
		if err := stream.Start(); err != nil {
			log.Warn("Price stream initial connect failed, retrying in background", utils.Err(err))
		}
		providers = append(providers, stream)
		closers = append(closers, func() {
			if err := stream.Close(); err != nil {
				log.Warn("Failed to close price stream", utils.Err(err))
			}
		})
	}

	client := feed.NewHTTPClient(feed.DefaultHTTPClientConfig())
	for _, t := range []struct {
		name string
		url  string
		tier models.SourceTier
	}{
		{"secondary", cfg.Feed.SecondaryURL, models.TierSecondary},
		{"tertiary", cfg.Feed.TertiaryURL, models.TierTertiary},
	} {
		if t.url == "" {
			continue
		}
		p := feed.NewRESTProvider(feed.RESTConfig{
			Name:       t.name,
			BaseURL:    t.url,
			Tier:       t.tier,
			Rate:       cfg.Feed.RESTRate,
			Burst:      cfg.Feed.RESTBurst,
			Timeout:    cfg.Feed.RESTTimeout,
			StaleAfter: cfg.Feed.StaleAfter,
		}, client, log)
		providers = append(providers, p)
		rest = append(rest, p)
		closers = append(closers, p.Close)
	}

	if len(providers) == 0 {
		log.Warn("No price sources configured, only last-known prices are available")
	}

	chain := feed.NewChain(feed.NewStaticProvider(cfg.Feed.StaticMaxAge), cfg.Feed.RESTTimeout, log, providers...)
	if len(rest) > 0 {
		backfillCandles(ctx, cfg, rest[0], candles, log)
	}

	return chain, func() {
		for _, c := range closers {
			c()
		}
	}
}

// backfillCandles начальное заполнение окна анализа из REST истории
func backfillCandles(ctx context.Context, cfg *config.Config, src *feed.RESTProvider, candles *feed.CandleStore, log *utils.Logger) {
	for _, symbol := range cfg.Symbols.Tracked {
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Feed.RESTTimeout)
		history, err := src.Candles(reqCtx, symbol, cfg.Feed.Timeframe, cfg.Lifecycle.AnalysisWindow)
		cancel()
		if err != nil {
			log.Warn("Candle backfill failed", utils.Symbol(symbol), utils.Err(err))
			continue
		}
		for _, c := range history {
			candles.Add(c)
		}
		log.Debug("Candle backfill complete", utils.Symbol(symbol), utils.Int("candles", candles.Len(symbol)))
	}
}
