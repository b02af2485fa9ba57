package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"trading-gateway/src/config"
	"trading-gateway/src/helpers"
	"trading-gateway/src/interfaces"
	"trading-gateway/src/logger"
	"trading-gateway/src/risk"
	"trading-gateway/src/server"
	"trading-gateway/src/storage"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags; positional args override the config:
	// arg 1 = port, arg 2 = host
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	var conf *config.Config
	var err error
	if *configPath != "" {
		conf, err = config.NewConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		conf = config.Default()
	}

	args := flag.Args()
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port <= 0 || port > 65535 {
			fmt.Printf("Invalid port: %s\n", args[0])
			os.Exit(1)
		}
		conf.Port = port
	}
	if len(args) >= 2 {
		conf.Host = args[1]
	}

	// Setup logger
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)

	// Setup collaborators
	var orderLog interfaces.IOrderLog
	sink, err := storage.NewSQLiteOrderLog(conf.MConfig, appLogger.Named("OrderLog"))
	if err != nil {
		appLogger.Critical("Failed to init order log: %v", err)
	}
	if err := sink.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate order log: %v", err)
	}
	orderLog = sink

	var history interfaces.IHistoryRepository
	if conf.Storage.DBConnectionString != "" {
		repo, err := storage.NewPostgresHistory(conf.MConfig, appLogger.Named("History"))
		if err != nil {
			appLogger.Critical("Failed to init history repository: %v", err)
		}
		if err := helpers.RetryWithBackoff("history initialize", 3, time.Second, repo.Initialize); err != nil {
			// The gateway still serves orders; history requests answer
			// SERVICE_UNAVAILABLE, as the store is not retried after startup
			appLogger.Warning("History repository unavailable: %v", err)
		} else {
			if err := repo.SeedMockData(conf.Market.Symbols); err != nil {
				appLogger.Warning("History seed failed: %v", err)
			}
			history = repo
		}
	} else {
		appLogger.Warning("No history db configured, history methods will be unavailable")
	}

	// Build and start the gateway
	srv := server.NewGatewayServer(conf, appLogger, server.Dependencies{
		Risk:     risk.NewValidator(),
		History:  history,
		OrderLog: orderLog,
	})

	// Graceful stop on interrupt/termination
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case sig := <-stop:
		appLogger.Info("Received signal %v, shutting down", sig)
		srv.Stop()
		orderLog.Close()
		if history != nil {
			history.Close()
		}
	case err := <-errCh:
		if err != nil {
			appLogger.Error("Server failed: %v", err)
			os.Exit(1)
		}
	}
}
