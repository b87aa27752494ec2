package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/futures_averaging/internal/infrastructure/exchange"
	"github.com/vitos/futures_averaging/internal/infrastructure/logger"
	"github.com/vitos/futures_averaging/internal/infrastructure/storage"
	"github.com/vitos/futures_averaging/internal/usecase"
	"github.com/vitos/futures_averaging/internal/web"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Averaging struct {
		CheckIntervalSec int `yaml:"check_interval_sec"`
	} `yaml:"averaging"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	// Credentials from the environment take priority over the file.
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config (.env is optional)
	_ = godotenv.Load()
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "bot.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Binance USD-M futures)
	restEndpoint := cfg.Exchange.RESTEndpoint
	if restEndpoint == "" {
		restEndpoint = exchange.BinanceBaseURL
	}
	wsEndpoint := cfg.Exchange.WSEndpoint
	if wsEndpoint == "" {
		wsEndpoint = exchange.BinanceWSURL
	}
	binanceAdapter := exchange.NewBinanceAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, restEndpoint, wsEndpoint)
	if err := binanceAdapter.Init(context.Background()); err != nil {
		log.Fatal("Failed to init exchange", zap.Error(err))
	}

	// 5. Init Services
	marketService := usecase.NewMarketService(binanceAdapter, log)

	checkInterval := time.Duration(cfg.Averaging.CheckIntervalSec) * time.Second
	averagingService := usecase.NewAveragingService(binanceAdapter, store, store, marketService, checkInterval, log)

	// Saved bots never resume order management across a restart.
	if err := averagingService.DeactivateSaved(context.Background()); err != nil {
		log.Error("Failed to deactivate saved bots", zap.Error(err))
	}

	scannerService := usecase.NewScannerService(binanceAdapter, store, marketService, log)
	gridService := usecase.NewGridService(binanceAdapter, store, marketService, log)

	// 6. Wait for Shutdown (declared early so goroutines can use 'stop')
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 7. Connect WS and Start Loops
	if err := binanceAdapter.Subscribe(); err != nil {
		log.Error("Failed to start price stream", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go averagingService.Run(runCtx)
	go scannerService.StartListingScanner(runCtx)

	// 8. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, averagingService, marketService, scannerService, gridService, store, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	<-stop

	log.Info("Shutting down...")
	cancel()
	server.Shutdown(context.Background())
}
