package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/api"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/audit"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/gateway"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/hub"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/ledger"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/mirror"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/pricecache"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/ranking"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/scheduler"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/source"
	"github.com/leosinghh/crypto-trading-simulator/cmd/server/internal/watchlist"
	"github.com/leosinghh/crypto-trading-simulator/pkg/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger store: Postgres when configured, in-memory otherwise.
	var store ledger.Store
	if cfg.Postgres.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()

		pg := ledger.NewPostgresStore(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure ledger schema", zap.Error(err))
		}
		store = pg
		logger.Info("Ledger store: postgres")
	} else {
		store = ledger.NewMemoryStore()
		logger.Info("Ledger store: in-memory (state will not survive restart)")
	}

	// Redis mirror: external read replica of the price cache.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	feed := mirror.NewRedisFeed(rdb)
	defer feed.Close()

	// Trade audit stream.
	var tradeLog *audit.TradeLog
	if cfg.Kafka.Enabled {
		creator := audit.NewTopicCreator(logger,
			&audit.RealKafkaDialer{Dialer: kafka.DefaultDialer}, audit.RealClock{})
		creator.Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

		tradeLog = audit.NewTradeLog(audit.NewTradeWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer tradeLog.Close()
		logger.Info("Trade audit stream enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	startingCash, err := decimal.NewFromString(cfg.Ledger.StartingCash)
	if err != nil {
		logger.Fatal("Invalid starting cash", zap.String("value", cfg.Ledger.StartingCash), zap.Error(err))
	}

	cache := pricecache.New(cfg.Market.MaxQuoteAge, cfg.Market.FailureThreshold, nil)
	watch := watchlist.NewManager()

	var auditPub ledger.TradePublisher
	if tradeLog != nil {
		auditPub = tradeLog
	}
	ledgerSvc := ledger.NewService(ledger.Options{
		StartingCash: startingCash,
		TradeMaxAge:  cfg.Ledger.TradeMaxAge,
	}, store, cache, auditPub, logger, nil)

	rankEngine := ranking.NewEngine(ledgerSvc, store, logger)

	quoteSrc := source.NewHTTPClient(cfg.Source.BaseURL, cfg.Source.Timeout, logger)
	sched := scheduler.New(scheduler.Options{
		TickInterval:     cfg.Market.TickInterval,
		BatchSize:        cfg.Market.BatchSize,
		MaxParallel:      cfg.Market.MaxParallel,
		BatchTimeout:     cfg.Market.BatchTimeout,
		FailureThreshold: cfg.Market.FailureThreshold,
		BackoffCap:       cfg.Market.BackoffCap,
		Retention:        cfg.Market.Retention,
	}, cache, quoteSrc, watch, store, feed, logger, nil)
	go sched.Run(ctx)

	// Dependency Injection: Hub depends on the feed and watchlist interfaces
	wsHub := hub.NewHub(feed, watch, logger)

	mux := http.NewServeMux()
	api.NewHandler(ledgerSvc, rankEngine, watch, cache, logger).Register(mux)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("Shutdown Complete")
}
