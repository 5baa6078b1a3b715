package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/adapters"
	"github.com/satriahrh/livecaption/adapters/capture"
	"github.com/satriahrh/livecaption/adapters/llm"
	"github.com/satriahrh/livecaption/adapters/mongo"
	"github.com/satriahrh/livecaption/adapters/sqlite"
	"github.com/satriahrh/livecaption/adapters/stt"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/config"
	"github.com/satriahrh/livecaption/internal/pipeline"
	"github.com/satriahrh/livecaption/internal/procutil"
	"github.com/satriahrh/livecaption/usecase"
)

// app holds the adapters shared by every command
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	devices  *capture.DeviceManager
	opener   *capture.Opener
	starter  *stt.Starter
	sessions repositories.SessionRepository
	model    llm.Model

	closers []func() error
}

// loadConfig reads the config, applies command-line overrides and validates
func loadConfig() (*config.Config, []error, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if sttProvider != "" {
		cfg.STTProvider = sttProvider
	}
	if storage != "" {
		cfg.Storage = storage
	}
	if micInput != "" {
		cfg.MicInput = micInput
	}
	if systemAudio != "" {
		cfg.SystemAudio = systemAudio
	}

	result := cfg.Validate()
	if result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %v", result.Fatals)
	}
	return cfg, result.Warnings, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

// newApp loads the config and builds every adapter. Audio device access is
// optional so the server still starts on machines without a sound stack.
func newApp(ctx context.Context) (*app, error) {
	cfg, warnings, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("Config value corrected", zap.Error(w))
	}

	a := &app{cfg: cfg, logger: logger}

	devices, err := capture.NewDeviceManager(logger)
	if err != nil {
		logger.Warn("Audio devices unavailable, only the screen capture helper can be used", zap.Error(err))
	} else {
		a.devices = devices
		a.closers = append(a.closers, devices.Close)
	}

	spawner := procutil.NewExecSpawner(logger)

	var deviceOpener capture.DeviceOpener
	if a.devices != nil {
		deviceOpener = a.devices
	}
	a.opener = capture.NewOpener(deviceOpener, capture.ProcessConfig{
		Command:    cfg.ScreenCaptureCommand,
		SampleRate: capture.ScreenCaptureSampleRate,
	}, spawner, logger)

	a.starter = stt.NewStarter(stt.StarterConfig{
		DeepgramAPIKey:        cfg.DeepgramAPIKey,
		DeepgramURL:           cfg.DeepgramURL,
		GoogleCredentialsFile: cfg.GoogleCredentials,
		Local: stt.LocalConfig{
			Python:      cfg.LocalSTTPython,
			Script:      cfg.LocalSTTScript,
			Device:      cfg.LocalSTTDevice,
			ComputeType: cfg.LocalSTTComputeType,
		},
	}, spawner, logger)

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	model, err := llm.New(ctx, llm.Config{
		Provider:     cfg.LLMProvider,
		Model:        cfg.LLMModel,
		Language:     cfg.STTLanguage,
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}, logger)
	if err != nil {
		logger.Warn("Summaries and assist disabled, sessions get fallback titles",
			zap.String("provider", cfg.LLMProvider),
			zap.Error(err))
	} else {
		a.model = model
	}

	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage {
	case config.StorageSQLite:
		repo, err := sqlite.NewSessionRepository(a.cfg.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.sessions = repo
		a.closers = append(a.closers, repo.Close)
	case config.StorageMongo:
		client, err := mongo.NewClient(ctx, mongo.ClientConfig{
			URI:      a.cfg.MongoURI,
			Database: a.cfg.MongoDatabase,
		}, a.logger)
		if err != nil {
			return err
		}
		a.sessions = mongo.NewSessionRepository(client.Database, a.logger)
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Close(ctx)
		})
	default:
		a.sessions = adapters.NewMemorySessionRepository()
	}
	a.logger.Info("Session storage ready", zap.String("storage", a.cfg.Storage))
	return nil
}

// deviceLister returns nil when no audio backend is available
func (a *app) deviceLister() usecase.DeviceLister {
	if a.devices == nil {
		return nil
	}
	return a.devices
}

func (a *app) recordingService(captions *usecase.CaptionService, status repositories.StatusSink, notifier usecase.RecordingNotifier) (*usecase.RecordingService, error) {
	return usecase.NewRecordingService(usecase.RecordingConfig{
		Streaming: a.cfg.StreamingConfig(),
		Plan: pipeline.PlanConfig{
			MicInput:    a.cfg.MicInput,
			SystemAudio: strings.ToLower(strings.TrimSpace(a.cfg.SystemAudio)),
		},
	}, usecase.RecordingDeps{
		Devices:    a.deviceLister(),
		Opener:     a.opener,
		Backend:    a.starter,
		Sessions:   a.sessions,
		Summarizer: a.summarizer(),
		Captions:   captions,
		Status:     status,
		Notifier:   notifier,
	}, a.logger)
}

// summarizer and assistant return untyped nils when no model is configured
func (a *app) summarizer() repositories.Summarizer {
	if a.model == nil {
		return nil
	}
	return a.model
}

func (a *app) assistant() repositories.Assistant {
	if a.model == nil {
		return nil
	}
	return a.model
}

// Close releases adapters in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close adapter", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
