package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leosinghh/crypto-trading-simulator/cmd/quotesim/internal/quotesim"
	"github.com/leosinghh/crypto-trading-simulator/pkg/config"
)

// Default bases for the stock tickers shipped in the default config; unknown
// tickers start at 100.
var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0,
}

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

	rnd := quotesim.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	engine := quotesim.NewEngine(logger, cfg.QuoteSim.Tickers, basePrices, rnd, quotesim.RealClock{})
	server := quotesim.NewServer(engine, rnd, cfg.QuoteSim.FailureRate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	mux := http.NewServeMux()
	server.Register(mux)

	srv := &http.Server{Addr: cfg.QuoteSim.Port, Handler: mux}

	go func() {
		logger.Info("Quote simulator started", zap.String("port", cfg.QuoteSim.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
