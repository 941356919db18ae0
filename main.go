package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartflow-perp/api"
	"smartflow-perp/cache"
	"smartflow-perp/config"
	"smartflow-perp/daemon"
	"smartflow-perp/engine"
	"smartflow-perp/flow"
	"smartflow-perp/internal/httpclient"
	"smartflow-perp/journal"
	"smartflow-perp/logging"
	"smartflow-perp/metrics"
	"smartflow-perp/notify"
	"smartflow-perp/order"
	"smartflow-perp/position"
	"smartflow-perp/risk"
	"smartflow-perp/status"
	"smartflow-perp/strategy"
	"smartflow-perp/web_interface"
)

var (
	cfg    *config.Config
	logger *logging.Logger
)

// Initialize logging with the provided configuration
func initLogging() error {
	logLevel := logging.LogLevel(cfg.LogLevel)
	if cfg.Debug {
		logLevel = logging.DEBUG
	}

	var err error
	logger, err = logging.NewLogger(
		cfg.LogFile,
		cfg.LogMaxSize,
		cfg.LogMaxBackups,
		cfg.LogMaxAge,
		cfg.LogCompress,
		logLevel,
	)

	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

type flags struct {
	configPath string
	preset     string
	dryRun     bool
	debug      bool
	resetHalt  bool

	daemonStart   bool
	daemonStop    bool
	daemonRestart bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.StringVar(&f.preset, "preset", "", "strategy preset: default, strict, atr, scalp")
	flag.BoolVar(&f.dryRun, "dry-run", false, "simulate orders without touching the exchange")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logs")
	flag.BoolVar(&f.resetHalt, "reset-halt", false, "clear a persisted trading halt on startup")
	flag.BoolVar(&f.daemonStart, "start-daemon", false, "Start the application as a daemon")
	flag.BoolVar(&f.daemonStop, "stop-daemon", false, "Stop the daemon process")
	flag.BoolVar(&f.daemonRestart, "restart-daemon", false, "Restart the daemon process")
	flag.Parse()
	return f
}

// handleDaemon runs a daemon control command and reports whether one was given
func handleDaemon(f flags) bool {
	switch {
	case f.daemonStart:
		logInfo("Starting daemon...")
		if err := daemon.StartDaemon(os.Args[1:], cfg.PIDFile); err != nil {
			logFatal("Failed to start daemon: %v", err)
		}
	case f.daemonStop:
		logInfo("Stopping daemon...")
		if err := daemon.StopDaemon(cfg.PIDFile); err != nil {
			logFatal("Failed to stop daemon: %v", err)
		}
	case f.daemonRestart:
		logInfo("Restarting daemon...")
		if err := daemon.RestartDaemon(os.Args[1:], cfg.PIDFile); err != nil {
			logFatal("Failed to restart daemon: %v", err)
		}
	default:
		return false
	}
	return true
}

func newFlowSource(ctx context.Context) (*flow.Adapter, cache.Store) {
	var store cache.Store = cache.NewMemory(time.Now)
	if cfg.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "smartflow:")
		if err != nil {
			logWarning("Redis unavailable, using in-memory flow cache: %v", err)
		} else {
			logInfo("Flow cache: redis %s", cfg.RedisAddr)
			store = r
		}
	}

	var provider flow.Provider
	if cfg.UseMockFlow() {
		logWarning("Flow provider: mock (set NANSEN_API_KEY for live smart-money data)")
		provider = flow.NewMock(time.Now)
	} else {
		logInfo("Flow provider: nansen %s", cfg.NansenBaseURL)
		provider = flow.NewNansen(cfg.NansenBaseURL, cfg.NansenAPIKey, cfg.FlowTimeRange,
			httpclient.New(httpclient.Options{Timeout: cfg.CallTimeout, RequestsPerSec: 2}), logger.With("nansen"))
	}
	return flow.NewAdapter(provider, store, cfg.FlowCacheTTL, logger.With("flow")), store
}

func main() {
	f := parseFlags()

	var err error
	cfg, err = config.Load(f.configPath, f.preset)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if f.debug {
		cfg.Debug = true
	}
	if f.dryRun {
		cfg.DryRun = true
	}

	if err := initLogging(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	if handleDaemon(f) {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logInfo("Application starting...")
	logInfo("Daemon mode: %t", cfg.DaemonMode || daemon.IsDaemon())

	client := api.NewRESTClient(cfg, logger.With("bybit"))
	adapter, store := newFlowSource(ctx)
	defer store.Close()

	rm := risk.NewManager(risk.LimitsFromConfig(cfg), cfg.StartingCapital, cfg.Location(), time.Now, logger.With("risk"))
	if err := rm.Load(cfg.RiskStateFile); err != nil {
		logWarning("Risk state not restored from %s: %v", cfg.RiskStateFile, err)
	}
	if f.resetHalt {
		rm.ResetHalt()
		logInfo("Trading halt cleared by -reset-halt")
	}

	generator := strategy.NewGenerator(cfg, client, adapter, logger.With("strategy"))
	executor := order.NewExecutor(client, client, cfg.DryRun, logger.With("order"))

	var runner *engine.Runner
	snapshot := func() interface{} { return runner.Status() }

	fileJournal, err := journal.NewFile(cfg.DataDir, logger.With("journal"))
	if err != nil {
		logFatal("Journal: %v", err)
	}
	fileJournal.Drawdown = func() float64 { return rm.Drawdown(runner.LastEquity()) }

	recorder := metrics.New()
	hub := web_interface.NewHub(snapshot, logger.With("dashboard"))
	sinks := journal.Multi{fileJournal, recorder, hub}
	if cfg.PostgresDSN != "" {
		pg, err := journal.NewPostgres(ctx, cfg.PostgresDSN, logger.With("postgres"))
		if err != nil {
			logError("Postgres journal disabled: %v", err)
		} else {
			defer pg.Close()
			sinks = append(sinks, pg)
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger.With("telegram"))
		if err != nil {
			logError("Telegram alerts disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}

	monitor := position.NewMonitor(cfg, rm, client, executor, adapter, client, sinks, logger.With("monitor"))
	runner = engine.New(cfg, rm, client, client, generator, executor, monitor, adapter, sinks, recorder, logger.With("engine"))
	go hub.Run(ctx)

	server := status.StartServer(status.Options{
		Addr:          cfg.StatusAddr,
		Status:        snapshot,
		Metrics:       recorder.Handler(),
		Dashboard:     hub,
		ResetHalt:     rm.ResetHalt,
		Halt:          runner.Halt,
		ClosePosition: runner.ClosePosition,
	}, logger.With("status"))

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY-RUN"
	}
	network := "testnet"
	if !cfg.UseTestnet {
		network = "mainnet"
	}
	logInfo("SmartFlow perp bot: preset=%s mode=%s network=%s host=%s", cfg.Preset, mode, network, cfg.RESTHost)
	logInfo("Symbols %v, leverage %dx/%dx, risk %.1f%%/%.1f%% per trade, loop %s",
		cfg.Symbols, cfg.BaseLeverage, cfg.HighLeverage, cfg.BaseRiskPct*100, cfg.HighRiskPct*100, cfg.LoopInterval)

	if !cfg.UseTestnet && !cfg.DryRun {
		logWarning("Trading LIVE on mainnet with real funds, starting in 5s (Ctrl+C to abort)")
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}

	if !cfg.DryRun {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		equity, err := client.Equity(callCtx)
		cancel()
		if err != nil {
			logError("API authentication failed: %v", err)
			logFatal("Please check your API credentials")
		}
		logInfo("API connection established, equity %.2f %s", equity, cfg.SettleCoin)
	}

	runner.Run(ctx)

	logInfo("Shutting down...")
	if err := rm.Save(cfg.RiskStateFile); err != nil {
		logError("Failed to save risk state: %v", err)
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logError("Status server shutdown: %v", err)
		}
		cancel()
	}
	if err := logger.Sync(); err != nil {
		logError("Error syncing logger: %v", err)
	}
}

// logInfo logs info messages
func logInfo(format string, v ...interface{}) {
	logger.Info(format, v...)
}

// logWarning logs warning messages
func logWarning(format string, v ...interface{}) {
	logger.Warning(format, v...)
}

// logError logs error messages
func logError(format string, v ...interface{}) {
	logger.Error(format, v...)
}

// logFatal logs fatal messages and exits
func logFatal(format string, v ...interface{}) {
	logger.Fatal(format, v...)
}
