package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epic1st/paperfx/config"
	"github.com/epic1st/paperfx/engine"
	"github.com/epic1st/paperfx/exchange"
	"github.com/epic1st/paperfx/logging"
	"github.com/epic1st/paperfx/marketstream"
	"github.com/epic1st/paperfx/metrics"
	"github.com/epic1st/paperfx/money"
	"github.com/epic1st/paperfx/queue"
	"github.com/epic1st/paperfx/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load configuration", err)
	}

	logging.SetLevel(levelFromEnvironment(cfg.Environment))
	logging.Info("starting paperfx engine", logging.Component("main"), logging.Any("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := storage.NewPostgres(ctx, cfg.Database.DSN(), cfg.Trading.SupportedSymbols)
	if err != nil {
		logging.Fatal("failed to connect to postgres", err)
	}
	defer pg.Close()

	redisCache, err := storage.NewRedisCache(storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "paperfx",
	})
	if err != nil {
		logging.Fatal("failed to connect to redis", err)
	}
	defer redisCache.Close()

	defaultBalance, err := money.Parse(cfg.Trading.DefaultBalance)
	if err != nil {
		logging.Fatal("invalid default balance configuration", err)
	}
	if rate, err := money.Parse(cfg.Trading.FeeRate); err == nil {
		engine.SetFeeRate(rate)
	}

	registry := engine.NewPortfolioRegistry(cfg.Trading.SupportedSymbols, defaultBalance, cfg.Trading.DefaultLeverage, pg)

	feed := marketstream.NewClient(cfg.Feed.WSBaseURL)
	if err := feed.Connect(); err != nil {
		logging.Fatal("failed to connect to market feed", err)
	}
	defer feed.Close()

	historical := marketstream.NewHistoricalClient(cfg.Feed.RESTBaseURL, cfg.Feed.Category, cfg.Feed.HistoricalTimeout)

	ex := exchange.New(registry, registry, cfg.Trading.SupportedSymbols, cfg.Trading.SupportedLeverage, pg, pg)
	worker := queue.NewWorker(redisCache, ex)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runMetricsServer(groupCtx, cfg.MetricsAddr)
	})

	group.Go(func() error {
		worker.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		runFeedBridge(groupCtx, registry, feed, historical, cfg.Trading.SupportedSymbols)
		return nil
	})

	logging.Info("paperfx engine ready", logging.Component("main"))

	if err := group.Wait(); err != nil && err != context.Canceled {
		logging.Error("engine exited with error", err, logging.Component("main"))
	}
	logging.Info("paperfx engine stopped", logging.Component("main"))
}

func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Info("metrics server listening", logging.Any("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runFeedBridge seeds each supported symbol's latest price and weekly
// ATH/ATL, then subscribes to its 1-minute kline stream and pushes each
// candle's close price, confirmed or not, into the registry, the way the teacher's
// PnLEngine is driven by its upstream quote channel.
func runFeedBridge(ctx context.Context, registry *engine.PortfolioRegistry, feed *marketstream.Client, historical *marketstream.HistoricalClient, symbols []string) {
	const interval = "1"

	for _, symbol := range symbols {
		if seed := historical.Fetch(ctx, symbol, interval, 1, 0); len(seed) > 0 {
			registry.OnPriceUpdate(symbol, seed[len(seed)-1].Close)
		}
		feed.SeedATHATL(ctx, symbol, historical)

		ch, err := feed.Subscribe(symbol, interval)
		if err != nil {
			logging.Error("failed to subscribe to market feed", err, logging.Symbol(symbol))
			continue
		}
		go bridgeSymbol(ctx, registry, symbol, ch)
	}

	<-ctx.Done()
}

func bridgeSymbol(ctx context.Context, registry *engine.PortfolioRegistry, symbol string, candles <-chan marketstream.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candles:
			if !ok {
				return
			}
			liquidated := registry.OnPriceUpdate(symbol, candle.Close)
			for _, userID := range liquidated {
				metrics.LiquidationsTotal.WithLabelValues(symbol).Inc()
				logging.Warn("account liquidated", logging.UserID(userID), logging.Symbol(symbol))
			}
		}
	}
}

func levelFromEnvironment(environment string) logging.LogLevel {
	if environment == "production" {
		return logging.INFO
	}
	return logging.DEBUG
}
