// Package main wires the autonomous single-symbol trading core together
// and runs it to completion: load configuration, construct every
// collaborator the loop scheduler depends on, run until a signal or the
// error-rate monitor requests a shutdown, then drain per the configured
// policy.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-core/internal/adoption"
	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/command"
	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/config"
	"github.com/atlas-desktop/trading-core/internal/databar"
	"github.com/atlas-desktop/trading-core/internal/dynstop"
	"github.com/atlas-desktop/trading-core/internal/eventsink"
	"github.com/atlas-desktop/trading-core/internal/exitcoord"
	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/internal/loop"
	"github.com/atlas-desktop/trading-core/internal/metrics"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/scaler"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to the core.yaml configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	httpAddr := flag.String("http-addr", "", "if set, mount /metrics and /commands on this address")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("symbol", cfg.Symbol),
		zap.String("timeframe", cfg.Timeframe),
		zap.String("mindset", string(cfg.Mindset)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timeframe := parseTimeframe(cfg.Timeframe)
	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	callTimeout := time.Duration(cfg.Broker.TimeoutSeconds) * time.Second

	// No live brokerage adapter ships with this module (spec.md §4.1:
	// transport/authentication to a real venue is an external
	// collaborator, out of scope) — Simulated is the paper-trading
	// adapter every deployment starts from until one is supplied.
	seedAccount := types.AccountSnapshot{
		Balance:     decimal.NewFromInt(10000),
		Equity:      decimal.NewFromInt(10000),
		PeakBalance: decimal.NewFromInt(10000),
		FreeMargin:  decimal.NewFromInt(10000),
		MarginLevel: decimal.NewFromInt(1000),
	}
	adapter := broker.NewSimulated(logger, seedAccount)
	adapter.SetSymbolInfo(defaultSymbolInfo(cfg.Symbol))
	// config.BrokerConfig carries no slippage knobs (timeout/retry/backoff
	// only), so the paper fill model stays at a fixed conservative default
	// rather than inventing a new top-level config key for it.
	adapter.SetSlippage(broker.SlippageModel{
		BasePct:            decimal.NewFromFloat(0.0002),
		VolumeImpactFactor: decimal.NewFromFloat(0.00001),
	})

	tracker := position.New(logger)
	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.Names()))

	weights := strategy.Weights{
		Perf:   cfg.Strategy.Dynamic.WeightPerf,
		Regime: cfg.Strategy.Dynamic.WeightRegime,
		Conf:   cfg.Strategy.Dynamic.WeightConfidence,
	}
	checkInterval := time.Duration(cfg.Strategy.Dynamic.CheckIntervalBars) * pollInterval
	fallbackK := cfg.Strategy.Dynamic.FallbackDepth
	if fallbackK <= 0 {
		fallbackK = 2
	}
	selector := strategy.NewSelector(logger, registry, weights, checkInterval, fallbackK)

	metricsRegistry := metrics.New()
	events := eventsink.New(logger, eventsink.Config{Capacity: cfg.Telemetry.EventBufferSize},
		eventsink.LogSink(logger), eventsink.MetricsSink(metricsRegistry))
	go events.Run(ctx)
	defer events.Stop(5 * time.Second)

	commandToken := ""
	if cfg.CommandChannel.TokenEnv != "" {
		commandToken = os.Getenv(cfg.CommandChannel.TokenEnv)
	}
	commandQueue := command.New(command.Config{RateLimit: cfg.CommandChannel.RateLimit, Token: commandToken})

	deps := loop.Deps{
		Broker:     adapter,
		Bars:       databar.New(logger, adapter, cfg.LookbackBars),
		Indicators: indicator.NewEngine(logger),
		Regime:     regime.New(logger, regime.DefaultConfig()),
		Strategies: registry,
		Selector:   selector,
		Confluence: confluence.New(logger, buildConfluenceConfig(cfg.EntryConfluence)),
		Risk:       risk.New(logger, buildRiskConfig(cfg.Risk, seedAccount.Balance)),
		Positions:  tracker,
		ExitCoord:  exitcoord.NewDefault(logger, tracker, nil),
		DynStop:    dynstop.New(logger, buildDynStopConfig(cfg.DynamicSLTP), tracker, adapter),
		Scaler:     scaler.New(logger, buildScalerConfig(cfg.ProfitScaler), tracker, adapter),
		Adoption:   adoption.New(logger, buildAdoptionConfig(cfg.Adoption), tracker, adapter),
		Commands:   commandQueue,
		Events:     events,
		Metrics:    metricsRegistry,
	}

	loopCfg := loop.DefaultConfig()
	loopCfg.Symbol = cfg.Symbol
	loopCfg.Timeframe = timeframe
	loopCfg.PollInterval = pollInterval
	loopCfg.LookbackBars = cfg.LookbackBars
	loopCfg.CallTimeout = callTimeout
	loopCfg.ReconnectBackoff = time.Duration(cfg.Broker.ReconnectBackoffSeconds) * time.Second
	loopCfg.ReconnectMaxAttempts = cfg.Broker.Retries
	loopCfg.MetricsEveryN = metricsEveryN(cfg.Telemetry.MetricsIntervalSeconds, cfg.PollInterval)

	scheduler := loop.New(logger, deps, loopCfg)

	if *httpAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry.Gatherer(), promhttp.HandlerOpts{}))
		mux.Handle("/commands", command.NewRouter(commandQueue))
		server := &http.Server{Addr: *httpAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer server.Close()
		logger.Info("metrics and command endpoints mounted", zap.String("addr", *httpAddr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- scheduler.Run(ctx) }()

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		scheduler.Stop(loopCfg.ShutdownDrain)
		cancel()
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			logger.Error("trading loop exited with error", zap.Error(err))
		}
	}

	logger.Info("trading core stopped")
}

func parseTimeframe(tf string) types.Timeframe {
	switch tf {
	case "M1":
		return types.TimeframeM1
	case "M5":
		return types.TimeframeM5
	case "M15":
		return types.TimeframeM15
	case "H1":
		return types.TimeframeH1
	case "H4":
		return types.TimeframeH4
	case "D1":
		return types.TimeframeD1
	default:
		return types.TimeframeM15
	}
}

func metricsEveryN(metricsIntervalSeconds, pollIntervalSeconds int) int {
	if pollIntervalSeconds <= 0 {
		return 1
	}
	n := metricsIntervalSeconds / pollIntervalSeconds
	if n < 1 {
		n = 1
	}
	return n
}

func defaultSymbolInfo(symbol string) types.SymbolInfo {
	return types.SymbolInfo{
		Symbol:           symbol,
		Point:            decimal.NewFromFloat(0.0001),
		VolumeMin:        decimal.NewFromFloat(0.01),
		VolumeMax:        decimal.NewFromInt(100),
		VolumeStep:       decimal.NewFromFloat(0.01),
		StopsLevelPoints: decimal.NewFromInt(50),
		Digits:           5,
		ContractSize:     decimal.NewFromInt(100000),
		TradeAllowed:     true,
	}
}

func buildRiskConfig(c config.RiskConfig, seedBalance decimal.Decimal) risk.Config {
	cfg := risk.DefaultConfig()
	cfg.SizingMethod = risk.SizingMethod(c.SizingMethod)
	cfg.RiskPctOfBal = decimal.NewFromFloat(c.MaxPositionSizePct / 100)
	cfg.MaxExposurePerSymbolPct = decimal.NewFromFloat(c.MaxTotalExposurePct / 100)
	cfg.DailyLossLimit = seedBalance.Mul(decimal.NewFromFloat(c.MaxDailyLossPct / 100))
	cfg.MaxPositionsPerSymbol = c.MaxPositionsPerSymbol
	cfg.MinRiskReward = decimal.NewFromFloat(c.MinRiskRewardRatio)
	cfg.MinConfidence = decimal.NewFromFloat(c.MinConfidence)
	return cfg
}

func buildConfluenceConfig(c config.ConfluenceConfig) confluence.Config {
	cfg := confluence.DefaultConfig()
	cfg.StrictMode = c.StrictMode
	cfg.MaxWaitBars = c.MaxWaitBars
	cfg.QueueCapacity = c.QueueCapacity
	return cfg
}

func buildDynStopConfig(c config.DynamicStopConfig) dynstop.Config {
	cfg := dynstop.DefaultConfig()
	cfg.ATRMultiple = c.ATRMultiple
	cfg.MinShrinkFactor = c.MinShrinkFactor
	cfg.DrawdownForMinK = c.DrawdownForMinK
	cfg.MinFractionOfPrice = c.MinFractionOfPrice
	return cfg
}

func buildScalerConfig(c config.ProfitScalerConfig) scaler.Config {
	cfg := scaler.DefaultConfig()
	if len(c.Tiers) > 0 {
		tiers := make([]scaler.Tier, 0, len(c.Tiers))
		for _, t := range c.Tiers {
			tiers = append(tiers, scaler.Tier{Name: t.Name, RMultiple: t.RMultiple, TakePercent: t.TakePercent})
		}
		cfg.Tiers = tiers
	}
	cfg.MinBarsInTrade = c.MinBarsInTrade
	cfg.MinProfitAmount = decimal.NewFromFloat(c.MinProfitAmount)
	cfg.EmergencyLockThreshold = decimal.NewFromFloat(c.EmergencyLockThreshold)
	return cfg
}

func buildAdoptionConfig(c config.AdoptionConfig) adoption.Config {
	cfg := adoption.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Whitelist = c.Whitelist
	cfg.Blacklist = c.Blacklist
	cfg.MaxAgeHours = c.MaxAgeHours
	cfg.ApplyDefaultSLTP = c.ApplyDefaultSLTP
	return cfg
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
