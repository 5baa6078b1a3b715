package stt

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

// DefaultMockScript is spoken by the mock when no script is given
var DefaultMockScript = []string{
	"Hello everyone, thanks for joining.",
	"Let's go through the agenda for today.",
	"Any questions before we wrap up?",
}

// MockRuntime produces scripted captions paced by the amount of audio sent:
// an interim after half a second of audio and a final after a full second
type MockRuntime struct {
	logger *zap.Logger
	script []string
	rate   int

	mu        sync.Mutex
	received  int64
	line      int
	interimAt int64
	closed    bool
	events    chan entities.TranscriptEvent
	closeOnce sync.Once
}

var _ repositories.TranscriptionRuntime = (*MockRuntime)(nil)

// NewMockRuntime creates a mock speech runtime
func NewMockRuntime(script []string, config repositories.StreamingConfig, logger *zap.Logger) *MockRuntime {
	if len(script) == 0 {
		script = DefaultMockScript
	}
	rate := config.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", rate),
		zap.String("language", config.Language))

	return &MockRuntime{
		logger: logger,
		script: script,
		rate:   rate,
		events: make(chan entities.TranscriptEvent, 64),
	}
}

func (m *MockRuntime) SendAudio(samples []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ioFailure("send audio", errClosed)
	}
	m.received += int64(len(samples))

	half := int64(m.rate / 2)
	for m.received-m.interimAt >= half {
		m.interimAt += half
		text := m.script[m.line%len(m.script)]
		if (m.interimAt/half)%2 == 1 {
			m.emit(firstHalf(text), entities.CaptionStatusInterim)
			continue
		}
		m.emit(text, entities.CaptionStatusFinal)
		m.line++
	}
	return nil
}

// emit drops the event when the consumer falls behind
func (m *MockRuntime) emit(text string, status entities.CaptionStatus) {
	ev := entities.TranscriptEvent{
		Text:      text,
		Status:    status,
		Source:    speakerLabel(m.line % 2),
		Cursor:    secondsOf(m.interimAt, m.rate),
		HasCursor: true,
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("Mock transcript dropped", zap.String("text", text))
	}
}

func (m *MockRuntime) KeepAlive() error { return nil }

func (m *MockRuntime) Finalize() error {
	m.logger.Info("Finalizing mock transcription stream", zap.Int64("samples", m.samples()))
	return nil
}

func (m *MockRuntime) Events() <-chan entities.TranscriptEvent { return m.events }

func (m *MockRuntime) Err() error { return nil }

func (m *MockRuntime) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.events)
		m.mu.Unlock()
	})
	return nil
}

func (m *MockRuntime) Provider() string { return ProviderMock }

func (m *MockRuntime) samples() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func firstHalf(text string) string {
	runes := []rune(text)
	return string(runes[:(len(runes)+1)/2])
}
