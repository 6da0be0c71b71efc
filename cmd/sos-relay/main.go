package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"sos-relay/internal/bus"
	"sos-relay/internal/channel"
	"sos-relay/internal/common/database"
	"sos-relay/internal/common/logger"
	"sos-relay/internal/common/mqtt"
	commonredis "sos-relay/internal/common/redis"
	"sos-relay/internal/config"
	"sos-relay/internal/crypto"
	"sos-relay/internal/httpapi"
	"sos-relay/internal/repository"
	"sos-relay/internal/service"
	"sos-relay/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// 1. config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sos-relay")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	for name, reason := range cfg.UnconfiguredChannels() {
		log.Warn("Channel not configured, requests will fail with Unconfigured",
			zap.String("channel", name),
			zap.String("reason", reason),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. alert store
	var (
		alerts repository.AlertStore
		db     *sql.DB
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("Using in-memory alert store, records are lost on restart")
		alerts = repository.NewMemoryAlertStore(nil)
	default:
		db, err = database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close(db)

		pg := repository.NewPostgresAlertStore(db, log)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure alert schema", zap.Error(err))
		}
		alerts = pg
	}

	// 4. redis: listing cache and reconciliation log
	var (
		redisClient *redis.Client
		reconcile   *repository.RedisReconciliationLog
	)
	redisClient = commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		log.Warn("Redis unavailable, cache and reconciliation disabled", zap.Error(err))
		_ = commonredis.Close(redisClient)
		redisClient = nil
	} else {
		defer commonredis.Close(redisClient)
		if cfg.Reconcile.Enabled {
			reconcile = repository.NewRedisReconciliationLog(redisClient,
				cfg.Reconcile.Stream, cfg.Reconcile.Group, cfg.Reconcile.Consumer, log)
			if err := reconcile.EnsureGroup(ctx); err != nil {
				log.Fatal("Failed to create reconcile consumer group", zap.Error(err))
			}
		}
	}

	encrypter, err := crypto.FromKey(cfg.Encryption.Key)
	if err != nil {
		log.Fatal("Invalid encryption key", zap.Error(err))
	}

	// 5. channels
	rpc := channel.NewRPCLedgerClient(channel.RPCLedgerConfig{
		Endpoint:        cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		FromAddress:     cfg.Ledger.FromAddress,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ChainID:         cfg.Ledger.ChainID,
		APIKey:          cfg.Ledger.APIKey,
		GasLimit:        cfg.Ledger.GasLimit,
		PollInterval:    cfg.Ledger.PollInterval,
		Timeout:         cfg.Ledger.RequestTimeout,
	}, log)
	ledger := channel.NewLedgerChannel(rpc, cfg.Ledger.ConfirmTimeout, log)

	gateway := channel.NewTwilioGateway(channel.TwilioConfig{
		BaseURL:    cfg.SMS.BaseURL,
		AccountSID: cfg.SMS.AccountSID,
		AuthToken:  cfg.SMS.AuthToken,
		Timeout:    cfg.SMS.Timeout,
	}, log)
	sms := channel.NewSMSChannel(gateway, cfg.SMS.FromNumber, log)

	var (
		offlineQueue channel.OfflineQueue
		sqliteQueue  *repository.SQLiteOfflineQueue
	)
	if cfg.Offline.QueuePath != "" {
		sqliteQueue, err = repository.OpenSQLiteOfflineQueue(ctx, cfg.Offline.QueuePath, log)
		if err != nil {
			log.Error("Failed to open offline queue, offline channel disabled", zap.Error(err))
		} else {
			defer sqliteQueue.Close()
			offlineQueue = sqliteQueue
		}
	}
	offline := channel.NewOfflineChannel(offlineQueue, log)

	var relay channel.Relay
	switch cfg.Satellite.Mode {
	case "mqtt":
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Error("Failed to connect satellite MQTT broker, satellite channel disabled", zap.Error(err))
		} else {
			defer mqttClient.Disconnect()
			relay = channel.NewMQTTRelay(mqttClient, cfg.Satellite.MQTTTopic, cfg.MQTT.QoS)
		}
	default:
		relay = channel.NewHTTPRelay(cfg.Satellite.RelayURL, cfg.Satellite.Timeout)
	}
	satellite := channel.NewSatelliteChannel(relay, log)

	registry, err := channel.NewRegistry(ledger, sms, offline, satellite)
	if err != nil {
		log.Fatal("Failed to register channels", zap.Error(err))
	}

	// 6. services
	opts := []service.DispatcherOption{}
	if reconcile != nil {
		opts = append(opts, service.WithReconciliation(reconcile))
	}
	if cfg.NATS.URL != "" {
		publisher, err := bus.NewPublisher(cfg.NATS.URL, "sos-relay")
		if err != nil {
			log.Warn("NATS unavailable, alert events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			opts = append(opts, service.WithEvents(publisher))
		}
	}

	dispatcher := service.NewDispatcher(registry, alerts, encrypter, service.DispatcherConfig{
		LedgerWorkers:  cfg.Dispatch.LedgerWorkers,
		Workers:        cfg.Dispatch.Workers,
		LedgerTimeout:  cfg.Dispatch.LedgerTimeout,
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
	}, log, opts...)

	queryOpts := []service.QueryOption{}
	if redisClient != nil {
		queryOpts = append(queryOpts, service.WithCache(store.NewRedisKV(redisClient), cfg.Query.CacheTTL))
	}
	queries := service.NewQueryService(alerts, encrypter, log, queryOpts...)

	var workers sync.WaitGroup
	if sqliteQueue != nil {
		drainOpts := []service.DrainerOption{}
		if reconcile != nil {
			drainOpts = append(drainOpts, service.WithDrainReconciliation(reconcile))
		}
		drainer := service.NewOfflineDrainer(sqliteQueue, ledger, rpc, alerts,
			cfg.Offline.DrainInterval, cfg.Offline.DrainBatch, log, drainOpts...)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := drainer.Run(ctx); err != nil {
				log.Error("Offline drainer stopped", zap.Error(err))
			}
		}()
	}
	if reconcile != nil {
		consumer := service.NewReconcileConsumer(reconcile, ledger, alerts, 0, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error("Reconcile consumer stopped", zap.Error(err))
			}
		}()
	}

	// 7. HTTP
	handler := httpapi.NewHandler(dispatcher, queries, log)
	server := service.NewServer(cfg.HTTP.Addr, handler.Routes(), cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, log)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 8. graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	// in-flight sends still store their records before the stores close
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("Dispatcher shutdown incomplete", zap.Error(err))
	}
	cancel()
	workers.Wait()

	log.Info("sos-relay stopped")
}
