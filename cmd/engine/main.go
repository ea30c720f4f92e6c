package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/yanun0323/decimal"

	"passive-mm/config"
	"passive-mm/gateway"
	"passive-mm/infrastructure/logger"
	"passive-mm/internal/engine"
	"passive-mm/metrics"
	"passive-mm/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the strategy config YAML")
	metricsAddr := flag.String("metricsAddr", ":9100", "Prometheus metrics listen address, empty disables it")
	apiBaseURL := flag.String("apiBaseURL", "https://api.binance.com", "exchange REST base URL")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog, err := logger.New(logger.DefaultConfig())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Close()

	reg := metrics.New(metrics.DefaultConfig())
	if *metricsAddr != "" {
		go reg.StartServer(*metricsAddr)
	}

	symbol := strings.ToUpper(cfg.Strategy.Symbol)
	exchange := gateway.NewBinanceExchange(*apiBaseURL, symbol, cfg.API.Key, cfg.API.Secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	constraints, err := gateway.FetchSymbolConstraints(ctx, exchange.HTTPClient, *apiBaseURL, symbol)
	if err != nil {
		appLog.LogError(err, map[string]interface{}{"component": "exchange_info", "symbol": symbol})
		constraints = order.SymbolConstraints{
			TickSize: decimalOf(cfg.Strategy.TickSize),
			StepSize: decimalOf(cfg.Strategy.StepSize),
			MinQty:   decimalOf(cfg.Strategy.MinQty),
		}
	}

	eng := engine.New(cfg, appLog, reg, exchange, constraints)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.LogError(err, map[string]interface{}{"component": "sdnotify"})
	} else if ok {
		appLog.Info("sd_notify ready sent")
	}

	quitCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-quitCtx.Done()

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	eng.Stop()
	cancel()
	appLog.Info("engine exited")
}

func decimalOf(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
