package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/internal/audio"
)

// DeviceManager owns the native audio context used to enumerate and open
// input devices
type DeviceManager struct {
	ctx    *malgo.AllocatedContext
	logger *zap.Logger
	mu     sync.Mutex
}

// NewDeviceManager initializes the platform audio backend
func NewDeviceManager(logger *zap.Logger) (*DeviceManager, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("Audio backend", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &DeviceManager{ctx: ctx, logger: logger}, nil
}

// Devices lists capture devices
func (m *DeviceManager) Devices() ([]entities.CaptureDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]entities.CaptureDevice, 0, len(infos))
	for i := range infos {
		devices = append(devices, entities.CaptureDevice{
			ID:        infos[i].ID.String(),
			Name:      infos[i].Name(),
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return devices, nil
}

// OpenDevice starts capturing from the device with the given id, or from the
// system default when id is empty. The device's native format is used and
// converted to mono int16.
func (m *DeviceManager) OpenDevice(label, id string) (*DeviceSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Alsa.NoMMap = 1

	if id != "" {
		infos, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].ID.String() == id {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s capture device %s not found", label, id)
		}
	}

	s := &DeviceSource{
		label:  label,
		queue:  audio.NewChunkQueue(),
		logger: m.logger.With(zap.String("source", label)),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	}
	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%s failed to open capture device: %w", label, err)
	}

	format, ok := sampleFormat(device.CaptureFormat())
	if !ok {
		device.Uninit()
		return nil, fmt.Errorf("%s unsupported sample format %d", label, device.CaptureFormat())
	}
	s.device = device
	s.rate = int(device.SampleRate())
	s.format.Store(int32(format))
	s.channels.Store(int32(device.CaptureChannels()))

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%s failed to start capture: %w", label, err)
	}

	s.logger.Info("Capture device started",
		zap.Int("sampleRate", s.rate),
		zap.Uint32("channels", device.CaptureChannels()),
		zap.String("format", format.String()))
	return s, nil
}

// Close releases the audio context
func (m *DeviceManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.ctx.Uninit()
	m.ctx.Free()
	if err != nil {
		return fmt.Errorf("failed to release audio context: %w", err)
	}
	return nil
}

// DeviceSource streams a native capture device
type DeviceSource struct {
	label    string
	rate     int
	device   *malgo.Device
	queue    *audio.ChunkQueue
	logger   *zap.Logger
	format   atomic.Int32
	channels atomic.Int32
	failures atomic.Int64

	closeOnce sync.Once
}

func (s *DeviceSource) Label() string { return s.label }
func (s *DeviceSource) SampleRate() int { return s.rate }
func (s *DeviceSource) Queue() *audio.ChunkQueue { return s.queue }

// onData runs on the audio thread and must not block
func (s *DeviceSource) onData(_, input []byte, frameCount uint32) {
	format := audio.SampleFormat(s.format.Load())
	channels := int(s.channels.Load())
	if format == 0 || channels == 0 || len(input) == 0 {
		return
	}
	pcm, err := audio.DecodeInterleaved(input, format, channels)
	if err != nil {
		// log the first failure only; the callback fires every few milliseconds
		if s.failures.Add(1) == 1 {
			s.logger.Error("Input stream decode error", zap.Error(err))
		}
		return
	}
	if len(pcm) > 0 {
		s.queue.Push(pcm)
	}
}

func (s *DeviceSource) onStop() {
	s.logger.Info("Capture device stopped")
	s.queue.Close()
}

// Close stops the device and ends the queue
func (s *DeviceSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.device != nil {
			if stopErr := s.device.Stop(); stopErr != nil {
				err = fmt.Errorf("failed to stop capture device: %w", stopErr)
			}
			s.device.Uninit()
		}
		s.queue.Close()
	})
	return err
}

func sampleFormat(f malgo.FormatType) (audio.SampleFormat, bool) {
	switch f {
	case malgo.FormatU8:
		return audio.FormatU8, true
	case malgo.FormatS16:
		return audio.FormatS16, true
	case malgo.FormatS24:
		return audio.FormatS24, true
	case malgo.FormatS32:
		return audio.FormatS32, true
	case malgo.FormatF32:
		return audio.FormatF32, true
	}
	return 0, false
}
