package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mirrorfund/internal/bus"
	"mirrorfund/internal/chain"
	"mirrorfund/internal/client/analytics"
	"mirrorfund/internal/client/dataapi"
	"mirrorfund/internal/config"
	cronrunner "mirrorfund/internal/cron"
	"mirrorfund/internal/dedup"
	"mirrorfund/internal/handler"
	"mirrorfund/internal/index"
	"mirrorfund/internal/ingest"
	"mirrorfund/internal/logger"
	"mirrorfund/internal/markets"
	"mirrorfund/internal/mirror"
	"mirrorfund/internal/models"
)

// eventBuffer bounds the in-process hop between ingestion and the mirror
// service. Events beyond it are dropped with a warning; the trade is still on
// the bus for downstream consumers.
const eventBuffer = 1024

func main() {
	cfgPath := os.Getenv("MF_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MF_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	publisher, err := bus.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logger.Fatal("kafka producer init failed", zap.Error(err))
	}
	defer publisher.Close()

	feedHTTP := &http.Client{Timeout: cfg.Feed.Timeout}
	feedClient := dataapi.NewClient(feedHTTP, cfg.Feed.BaseURL)
	analyticsHTTP := &http.Client{Timeout: cfg.Analytics.Timeout}
	analyticsClient := analytics.NewClient(analyticsHTTP, cfg.Analytics.BaseURL, cfg.Analytics.Username, cfg.Analytics.Password)

	seen := dedup.New(cfg.Ingest.DedupCapacity)
	pipeline := &ingest.Pipeline{
		Feed:   feedClient,
		Bus:    publisher,
		Seen:   seen,
		Logger: logger,
		Config: cfg.Ingest,
	}

	indexProvider := &index.Provider{
		Analytics: analyticsClient,
		Logger:    logger,
		TTL:       cfg.Index.TTL,
	}
	endTimes := &markets.EndTimeCache{
		Analytics: analyticsClient,
		Logger:    logger,
		TTL:       cfg.Markets.RefreshTTL,
		Window:    cfg.Markets.Window,
	}

	mirrorSvc, err := mirror.NewService(cfg.Fund, cfg.Index.Name, indexProvider, endTimes, logger)
	if err != nil {
		logger.Fatal("fund configuration invalid", zap.Error(err))
	}

	if cfg.Chain.Enabled {
		rpc, err := ethclient.Dial(cfg.Chain.RPCURL)
		if err != nil {
			logger.Fatal("rpc dial failed", zap.Error(err))
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
		if err != nil {
			logger.Fatal("settlement key invalid", zap.Error(err))
		}
		executor, err := chain.NewExecutor(rpc, key, logger, chain.Config{
			ProxyAddress:        cfg.Chain.ProxyAddress,
			FallbackGasLimit:    cfg.Chain.FallbackGasLimit,
			GasLimitMultiplier:  cfg.Chain.GasLimitMultiplier,
			GasPriceMultiplier:  cfg.Chain.GasPriceMultiplier,
			ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
			ReceiptPollAttempts: cfg.Chain.ReceiptPollAttempts,
		})
		if err != nil {
			logger.Fatal("settlement configuration invalid", zap.Error(err))
		}
		mirrorSvc.Settler = executor
		logger.Info("on-chain settlement enabled",
			zap.String("proxy", cfg.Chain.ProxyAddress),
			zap.Bool("dryRun", cfg.Fund.DryRun))
	}

	events := make(chan models.TradeEvent, eventBuffer)
	pipeline.OnEvent = func(ev models.TradeEvent) {
		select {
		case events <- ev:
		default:
			logger.Warn("mirror event buffer full, dropping trade",
				zap.String("tx", ev.TransactionHash))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mirrorSvc.Run(ctx, events)

	if cfg.Ingest.BackfillEnabled {
		go func() {
			if err := pipeline.Backfill(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("startup backfill failed", zap.Error(err))
			}
		}()
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add(cfg.Cron.Poll, pipeline.Poll); err != nil {
			logger.Fatal("cron register feed poll failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	statusHandler := &handler.StatusHandler{
		Pipeline:  pipeline,
		Mirror:    mirrorSvc,
		FundName:  cfg.Fund.Name,
		IndexName: cfg.Index.Name,
		DryRun:    cfg.Fund.DryRun,
	}
	statusHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
