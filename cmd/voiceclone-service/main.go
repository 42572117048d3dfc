// main package for the voiceclone-service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/device"
	"github.com/book-expert/voiceclone-service/internal/engine"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/book-expert/voiceclone-service/internal/manager"
	"github.com/book-expert/voiceclone-service/internal/model"
	"github.com/book-expert/voiceclone-service/internal/objectstore"
	"github.com/book-expert/voiceclone-service/internal/transcode"
	"github.com/book-expert/voiceclone-service/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voiceclone-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// Temporary logger for the bootstrap phase, before config tells us where
	// logs belong.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	voiceService, err := buildVoiceService(ctx, cfg, log)
	if err != nil {
		return err
	}

	keyring, err := httpapi.NewKeyring(cfg.Paths.KeysFile, log)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}

	defer func() {
		closeErr := keyring.Close()
		if closeErr != nil {
			log.Warn("Failed to close keyring: %v", closeErr)
		}
	}()

	server := httpapi.NewServer(
		voiceService,
		transcode.NewEncoder(cfg.Engine.FFmpegBinary),
		keyring,
		cfg.Engine.DefaultLanguage,
		log,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		log.System("API server listening on %s", addr)

		return server.ListenAndServe(
			groupCtx,
			addr,
			time.Duration(cfg.HTTP.ReadTimeoutSeconds)*time.Second,
			time.Duration(cfg.HTTP.WriteTimeoutSeconds)*time.Second,
		)
	})

	if cfg.NATS.Enabled {
		natsWorker, workerErr := buildWorker(cfg, voiceService, log)
		if workerErr != nil {
			return workerErr
		}

		group.Go(func() error {
			log.System("Worker consuming subject %s", cfg.NATS.TextProcessedSubject)

			return natsWorker.Run(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("service failed: %w", err)
	}

	return nil
}

// buildVoiceService probes the device, loads the model down the fallback
// ladder and precaches every voice. A model that cannot load on any tier is
// fatal.
func buildVoiceService(ctx context.Context, cfg *config.Config, log *logger.Logger) (*manager.Manager, error) {
	prober := device.New(
		cfg.Engine.ProbeAttempts,
		time.Duration(cfg.Engine.ProbeDelaySeconds)*time.Second,
		log,
	)
	decision := prober.Probe(ctx)

	log.System("Device decision: %s (accelerated=%t)", decision.Device, decision.Accelerated)

	runtime := engine.NewRuntime(engine.Config{
		Binary:         cfg.Engine.RuntimeBinary,
		ModelID:        cfg.Engine.ModelID,
		Port:           cfg.Engine.RuntimePort,
		StartupTimeout: time.Duration(cfg.Engine.StartupTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Engine.GenerateTimeoutSeconds) * time.Second,
	}, log)

	handle, err := model.NewLoader(runtime, log).Load(ctx, decision)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	log.System("Model loaded on %s (%s, %s)", handle.Device(), handle.Precision(), handle.Backend())

	voiceService := manager.New(handle, cfg.Paths.VoicesDir, log)
	voiceService.PrecacheAll(ctx)

	return voiceService, nil
}

func buildWorker(cfg *config.Config, voiceService *manager.Manager, log *logger.Logger) (*worker.Worker, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, err
	}

	return worker.New(
		natsConnection,
		cfg.NATS.TextProcessedSubject,
		store,
		voiceService,
		cfg.Engine.DefaultVoice,
		cfg.Engine.DefaultLanguage,
		log,
	), nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
