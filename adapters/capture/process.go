package capture

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/internal/audio"
	"github.com/satriahrh/livecaption/internal/procutil"
)

const (
	// ScreenCaptureSampleRate is the rate the capture helper is asked to emit
	ScreenCaptureSampleRate = 16000

	defaultTerminateGrace = 2 * time.Second
	readBufferBytes       = 4096
)

// ProcessConfig configures the system-audio capture helper
type ProcessConfig struct {
	// Command is the helper executable, optionally followed by arguments
	Command        string
	SampleRate     int
	TerminateGrace time.Duration
}

// ProcessSource reads little-endian 16-bit mono PCM from a helper's stdout
type ProcessSource struct {
	label   string
	rate    int
	grace   time.Duration
	proc    procutil.Process
	queue   *audio.ChunkQueue
	logger  *zap.Logger
	readers sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewProcessSource spawns the helper and starts relaying its output
func NewProcessSource(ctx context.Context, label string, config ProcessConfig, spawner procutil.Spawner, logger *zap.Logger) (*ProcessSource, error) {
	fields := strings.Fields(config.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("screen capture command is required")
	}

	rate := config.SampleRate
	if rate == 0 {
		rate = ScreenCaptureSampleRate
		logger.Info("Using default screen capture sample rate", zap.Int("sampleRate", rate))
	}
	grace := config.TerminateGrace
	if grace == 0 {
		grace = defaultTerminateGrace
	}

	args := append(fields[1:], "--sample-rate", strconv.Itoa(rate))
	proc, err := spawner.Spawn(ctx, procutil.Command{Path: fields[0], Args: args})
	if err != nil {
		return nil, fmt.Errorf("%s failed to launch screen capture helper: %w", label, err)
	}

	s := &ProcessSource{
		label:  label,
		rate:   rate,
		grace:  grace,
		proc:   proc,
		queue:  audio.NewChunkQueue(),
		logger: logger.With(zap.String("source", label)),
	}

	s.readers.Add(2)
	go s.readPCM()
	go s.relayStderr()
	go func() {
		s.readers.Wait()
		s.queue.Close()
	}()

	return s, nil
}

func (s *ProcessSource) Label() string { return s.label }
func (s *ProcessSource) SampleRate() int { return s.rate }
func (s *ProcessSource) Queue() *audio.ChunkQueue { return s.queue }

func (s *ProcessSource) readPCM() {
	defer s.readers.Done()

	var assembler audio.PCMAssembler
	buf := make([]byte, readBufferBytes)
	stdout := s.proc.Stdout()
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if pcm := assembler.Write(buf[:n]); len(pcm) > 0 {
				s.queue.Push(pcm)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("Screen capture stdout read ended", zap.Error(err))
			}
			return
		}
	}
}

func (s *ProcessSource) relayStderr() {
	defer s.readers.Done()

	err := procutil.ReadLines(s.proc.Stderr(), func(line string) {
		if strings.TrimSpace(line) == "" {
			return
		}
		s.logger.Info("Screen capture helper", zap.String("line", line))
	})
	if err != nil {
		s.logger.Debug("Screen capture stderr read ended", zap.Error(err))
	}
}

// Close stops the helper, escalating to a kill after the grace period
func (s *ProcessSource) Close() error {
	s.closeOnce.Do(func() {
		if err := s.proc.Terminate(s.grace); err != nil {
			s.closeErr = fmt.Errorf("failed to stop screen capture helper: %w", err)
		}
		s.queue.Close()
	})
	return s.closeErr
}
