package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sd_backend/core"
	"sd_backend/diffusion"
	"sd_backend/history"
	"sd_backend/logging"
	"sd_backend/monitor"
	"sd_backend/shutdown"
	"sd_backend/webapi"
)

// activeManager lets the Windows service wrapper stop a running
// instance; console signals do not reach service processes.
var activeManager atomic.Pointer[shutdown.Manager]

// requestShutdown asks the running instance to stop. No-op before the
// manager exists.
func requestShutdown() {
	if m := activeManager.Load(); m != nil {
		go func() {
			_ = m.Shutdown()
		}()
	}
}

func main() {
	// Service management commands (install/uninstall/...) short-circuit
	// normal startup.
	if HandleServiceCommand(os.Args) {
		return
	}
	asService, err := RunAsService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "service error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	if asService {
		return
	}

	os.Exit(run())
}

func run() int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return core.ExitCodeError
	}

	logger := logging.New(config.DevMode, config.LogFilePath)
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Configuration loaded",
		zap.String("addr", config.Addr()),
		zap.String("model_family", config.ModelFamily),
		zap.String("generate_model", config.GenerateModelPath),
		zap.String("inpaint_model", config.InpaintModelPath),
		zap.String("sketch_model", config.SketchModelPath),
		zap.String("openai_api_key", logging.RedactSecret(config.OpenAIAPIKey)),
		zap.String("history_db", config.HistoryDBPath),
		zap.Duration("monitor_interval", config.MonitorInterval),
		zap.Bool("dev_mode", config.DevMode),
	)

	results, ok := core.NewValidationSuite(config).WithShowProgress(true).Validate()
	if !ok {
		for _, r := range results {
			if r.Status == core.CheckFail {
				logger.Error("startup check failed",
					zap.String("check", r.Name),
					zap.String("message", r.Message))
			}
		}
		return core.ExitCodeError
	}

	manager := shutdown.NewManager(logger, shutdown.WithTimeout(config.ShutdownTimeout))
	activeManager.Store(manager)

	// Pipelines: load failures are logged inside and leave the
	// capability unserved, the process still starts.
	gateway := diffusion.BuildGateway(config, logger)
	logger.Info("pipelines initialized",
		zap.Int("loaded", len(gateway.Capabilities())),
		zap.Bool("cuda_available", diffusion.CUDAAvailable()))

	resourceMonitor := monitor.New(
		monitor.Config{Interval: config.MonitorInterval},
		monitor.SelectAcceleratorReader(config.NvidiaSMIPath, logger),
		monitor.GopsutilHostReader{},
		diffusion.ReleaseCachedMemory,
		logger,
	)
	resourceMonitor.StartBackgroundSampling()

	// History is best-effort: a broken database degrades the service
	// instead of stopping it.
	var historyReader webapi.HistoryReader
	var recordSink webapi.RecordSink
	store, err := history.Open(config.HistoryDBPath, config.MigrationsPath)
	if err != nil {
		logger.Error("history store unavailable, generation records disabled", zap.Error(err))
	} else {
		recorder := history.NewRecorder(store, 256, logger)
		historyReader = store
		recordSink = recorder
		manager.Register("history recorder", 30, func(ctx context.Context) error {
			return recorder.Close()
		})
		manager.Register("history store", 31, func(ctx context.Context) error {
			return store.Close()
		})
	}

	serverConfig := webapi.DefaultServerConfig()
	serverConfig.Host = config.Host
	serverConfig.Port = config.Port
	serverConfig.AllowedOrigins = config.AllowedOrigins
	serverConfig.APIKeyHash = config.APIKeyHash
	serverConfig.Family = diffusion.ParseModelFamily(config.ModelFamily)

	server, err := webapi.NewServer(serverConfig, gateway, resourceMonitor,
		historyReader, recordSink, manager, logger)
	if err != nil {
		logger.Error("server setup failed", zap.Error(err))
		return core.ExitCodeError
	}

	manager.Register("http server", 0, func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	manager.Register("memory monitor", 10, func(ctx context.Context) error {
		resourceMonitor.StopBackgroundSampling()
		return nil
	})
	manager.Register("pipelines", 20, func(ctx context.Context) error {
		return gateway.Close()
	})
	manager.Register("temp images", 40, shutdown.CleanupTempImages(logger, serverConfig.TempDir))

	manager.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			_ = manager.Shutdown()
			return core.ExitCodeError
		}
	case <-manager.Context().Done():
	}

	if err := manager.Shutdown(); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return core.ExitCodeError
	}
	return manager.ExitCode()
}
