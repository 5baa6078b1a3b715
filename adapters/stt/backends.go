package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/procutil"
)

// Supported providers
const (
	ProviderLocal    = "local"
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

// closeGrace bounds how long Close waits for a backend to flush and exit
const closeGrace = 2 * time.Second

// StarterConfig holds provider credentials and helper locations
type StarterConfig struct {
	DeepgramAPIKey        string
	DeepgramURL           string
	GoogleCredentialsFile string
	Local                 LocalConfig
}

// Starter starts the configured transcription backend
type Starter struct {
	config  StarterConfig
	spawner procutil.Spawner
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewStarter creates a Starter
func NewStarter(config StarterConfig, spawner procutil.Spawner, logger *zap.Logger) *Starter {
	return &Starter{
		config:  config,
		spawner: spawner,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Check rejects providers no backend implements
func (s *Starter) Check(config repositories.StreamingConfig) error {
	switch normalizeProvider(config.Provider) {
	case ProviderLocal, ProviderDeepgram, ProviderGoogle, ProviderMock:
		return nil
	}
	return domain.NewPipelineError(domain.KindBackendUnsupported, "check provider",
		fmt.Errorf("unsupported stt provider %q", config.Provider))
}

// Start launches the backend and returns once it is ready to accept audio
func (s *Starter) Start(ctx context.Context, config repositories.StreamingConfig) (repositories.TranscriptionRuntime, error) {
	if err := s.Check(config); err != nil {
		return nil, err
	}
	if config.SampleRate == 0 {
		return nil, startupFailure("validate config", errors.New("sample rate is required"))
	}

	logger := s.logger.With(zap.String("provider", normalizeProvider(config.Provider)))
	switch normalizeProvider(config.Provider) {
	case ProviderLocal:
		return StartLocal(ctx, s.config.Local, config, s.spawner, logger)
	case ProviderDeepgram:
		return DialDeepgram(ctx, DeepgramConfig{
			APIKey: s.config.DeepgramAPIKey,
			URL:    s.config.DeepgramURL,
			Dialer: s.dialer,
		}, config, logger)
	case ProviderGoogle:
		return StartGoogle(ctx, s.config.GoogleCredentialsFile, config, logger)
	default:
		return NewMockRuntime(nil, config, logger), nil
	}
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func startupFailure(op string, err error) error {
	return domain.NewPipelineError(domain.KindBackendStartupFailure, op, err)
}

func ioFailure(op string, err error) error {
	return domain.NewPipelineError(domain.KindBackendIO, op, err)
}

// speakerLabel maps a zero-based diarization index to a caption source
func speakerLabel(id int) string {
	switch id {
	case 0:
		return "SPK1"
	case 1:
		return "SPK2"
	case 2:
		return "SPK3"
	case 3:
		return "SPK4"
	}
	return "SPK"
}

// majoritySpeaker returns the most frequent speaker, preferring the lowest id
// on ties. ok is false when no word carried a speaker.
func majoritySpeaker(speakers []int) (id int, ok bool) {
	counts := make(map[int]int, 4)
	for _, s := range speakers {
		counts[s]++
	}
	best := -1
	for s, n := range counts {
		if best == -1 || n > counts[best] || (n == counts[best] && s < best) {
			best = s
		}
	}
	return best, best != -1
}

// eventStream delivers events to the consumer until it is abandoned
type eventStream struct {
	events  chan entities.TranscriptEvent
	abandon chan struct{}
}

func newEventStream() *eventStream {
	return &eventStream{
		events:  make(chan entities.TranscriptEvent, 64),
		abandon: make(chan struct{}),
	}
}

func (s *eventStream) send(ev entities.TranscriptEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.abandon:
		return false
	}
}

var errClosed = errors.New("runtime closed")

func secondsOf(samples int64, rate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
