package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitos/futures_averaging/internal/infrastructure/exchange"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
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
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	_ = godotenv.Load()
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	restEndpoint := cfg.Exchange.RESTEndpoint
	if restEndpoint == "" {
		restEndpoint = exchange.BinanceBaseURL
	}
	wsEndpoint := cfg.Exchange.WSEndpoint
	if wsEndpoint == "" {
		wsEndpoint = exchange.BinanceWSURL
	}

	fmt.Printf("Testing Binance Interaction...\n")
	fmt.Printf("Endpoint: %s\n", restEndpoint)

	adapter := exchange.NewBinanceAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, restEndpoint, wsEndpoint)
	ctx := context.Background()

	// 2. Check Server Time and Position Mode
	if err := adapter.Init(ctx); err != nil {
		fmt.Printf("❌ Failed to init adapter: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Time sync and position mode probe OK\n")

	// 3. Check Public Endpoints
	price, err := adapter.GetCurrentPrice(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Mark Price (BTCUSDT): %f\n", price)
	}

	instrument, err := adapter.GetInstrument(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get instrument: %v\n", err)
	} else {
		fmt.Printf("✅ Instrument (BTCUSDT): Tick=%f, MinQty=%f\n",
			instrument.TickSize, instrument.MinQty)
	}

	// 4. Check Private Endpoint (Position)
	pos, err := adapter.GetPosition(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else if pos == nil {
		fmt.Printf("✅ Position (BTCUSDT): flat\n")
	} else {
		fmt.Printf("✅ Position (BTCUSDT): Qty=%f, Entry=%f, PnL=%f\n",
			pos.Qty, pos.EntryPrice, pos.UnrealizedPnL)
	}
}
