package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
	"github.com/satriahrh/livecaption/internal/procutil"
)

// DefaultReadyTimeout covers a first-run model download
const DefaultReadyTimeout = 180 * time.Second

// LocalConfig locates the faster-whisper helper
type LocalConfig struct {
	Python       string
	Script       string
	Device       string
	ComputeType  string
	ReadyTimeout time.Duration
}

// localMessage is one NDJSON line from the helper
type localMessage struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Status   string   `json:"status"`
	Source   string   `json:"source"`
	Text     string   `json:"text"`
	Start    *float64 `json:"start"`
	Duration *float64 `json:"duration"`
	End      *float64 `json:"end"`
}

// LocalRuntime streams PCM to a local speech helper over stdin and reads
// NDJSON events from its stdout
type LocalRuntime struct {
	proc   procutil.Process
	stream *eventStream
	logger *zap.Logger
	grace  time.Duration

	writeMu sync.Mutex
	stdinUp bool

	mu      sync.Mutex
	err     error
	closing bool

	readers   sync.WaitGroup
	closeOnce sync.Once
}

var _ repositories.TranscriptionRuntime = (*LocalRuntime)(nil)

// StartLocal spawns the helper and waits for its ready event. Any failure
// before ready terminates the helper before returning.
func StartLocal(ctx context.Context, local LocalConfig, config repositories.StreamingConfig, spawner procutil.Spawner, logger *zap.Logger) (*LocalRuntime, error) {
	if local.Python == "" {
		local.Python = "python3"
	}
	if local.Script == "" {
		return nil, startupFailure("start local stt", errors.New("helper script is required"))
	}
	if local.Device == "" {
		local.Device = "auto"
	}
	if local.ComputeType == "" {
		local.ComputeType = "int8"
	}
	timeout := local.ReadyTimeout
	if timeout == 0 {
		timeout = DefaultReadyTimeout
	}
	model := config.Model
	if model == "" {
		model = "small"
		logger.Info("Using default model", zap.String("model", model))
	}

	cmd := procutil.Command{
		Path: local.Python,
		Args: []string{
			local.Script,
			"--sample-rate", strconv.Itoa(config.SampleRate),
			"--model", model,
			"--language", config.Language,
			"--chunk-ms", strconv.Itoa(config.ChunkMs),
			"--device", local.Device,
			"--compute-type", local.ComputeType,
		},
	}
	proc, err := spawner.Spawn(ctx, cmd)
	if err != nil {
		return nil, startupFailure("spawn local stt", err)
	}

	r := &LocalRuntime{
		proc:    proc,
		stream:  newEventStream(),
		logger:  logger,
		grace:   closeGrace,
		stdinUp: true,
	}

	ready := make(chan struct{})
	failed := make(chan error, 1)
	r.readers.Add(2)
	go r.readEvents(ready, failed)
	go r.relayStderr()
	go func() {
		r.readers.Wait()
		close(r.stream.events)
	}()

	logger.Info("Waiting for local stt helper", zap.Int("pid", proc.Pid()), zap.String("model", model))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		logger.Info("Local stt helper ready")
		return r, nil
	case err = <-failed:
	case <-timer.C:
		err = fmt.Errorf("helper not ready after %s", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.abort()
	return nil, startupFailure("start local stt", err)
}

// abort kills the helper and joins its readers
func (r *LocalRuntime) abort() {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	if err := r.proc.Terminate(r.grace); err != nil {
		r.logger.Warn("Failed to terminate local stt helper", zap.Error(err))
	}
	close(r.stream.abandon)
	r.readers.Wait()
}

func (r *LocalRuntime) readEvents(ready chan<- struct{}, failed chan<- error) {
	defer r.readers.Done()

	isReady, ended := false, false
	err := procutil.ReadLines(r.proc.Stdout(), func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		var msg localMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			r.logger.Debug("Ignoring non-JSON helper output", zap.String("line", line))
			return
		}

		switch msg.Type {
		case "ready":
			if !isReady {
				isReady = true
				close(ready)
			}
		case "error":
			if !isReady {
				select {
				case failed <- errors.New(msg.Message):
				default:
				}
				return
			}
			r.logger.Warn("Local stt helper error", zap.String("message", msg.Message))
		case "transcript":
			if ev, ok := msg.event(); ok {
				r.stream.send(ev)
			}
		case "closed":
			ended = true
			r.logger.Info("Local stt helper closed stream")
		}
	})

	if !isReady {
		if err == nil {
			err = fmt.Errorf("helper exited before ready")
		}
		select {
		case failed <- err:
		default:
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing || (ended && err == nil) {
		return
	}
	if err == nil {
		err = errors.New("helper exited")
	}
	r.err = ioFailure("read local stt", err)
}

func (m localMessage) event() (entities.TranscriptEvent, bool) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return entities.TranscriptEvent{}, false
	}
	ev := entities.TranscriptEvent{
		Text:   text,
		Status: entities.CaptionStatusInterim,
		Source: m.Source,
	}
	if m.Status == string(entities.CaptionStatusFinal) {
		ev.Status = entities.CaptionStatusFinal
	}
	if ev.Source == "" {
		ev.Source = "SPK"
	}
	switch {
	case m.End != nil:
		ev.Cursor, ev.HasCursor = seconds(*m.End), true
	case m.Start != nil:
		d := 0.0
		if m.Duration != nil {
			d = *m.Duration
		}
		ev.Cursor, ev.HasCursor = seconds(*m.Start+d), true
	}
	return ev, true
}

func seconds(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}

func (r *LocalRuntime) relayStderr() {
	defer r.readers.Done()

	_ = procutil.ReadLines(r.proc.Stderr(), func(line string) {
		if strings.TrimSpace(line) != "" {
			r.logger.Debug("Local stt helper", zap.String("line", line))
		}
	})
}

func (r *LocalRuntime) SendAudio(samples []int16) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.stdinUp {
		return ioFailure("send audio", errors.New("helper stdin closed"))
	}
	if _, err := r.proc.Stdin().Write(audio.EncodeLE(samples)); err != nil {
		return ioFailure("send audio", err)
	}
	return nil
}

// KeepAlive is a no-op; the helper has no idle timeout
func (r *LocalRuntime) KeepAlive() error { return nil }

// Finalize closes stdin so the helper transcribes its remaining buffer and exits
func (r *LocalRuntime) Finalize() error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.stdinUp {
		return nil
	}
	r.stdinUp = false
	return r.proc.Stdin().Close()
}

func (r *LocalRuntime) Events() <-chan entities.TranscriptEvent { return r.stream.events }

func (r *LocalRuntime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close ends stdin, gives the helper the grace period to flush and exit,
// then terminates it
func (r *LocalRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closing = true
		r.mu.Unlock()

		if finErr := r.Finalize(); finErr != nil {
			r.logger.Debug("Closing helper stdin failed", zap.Error(finErr))
		}

		select {
		case <-r.proc.Done():
		case <-time.After(r.grace):
			r.logger.Warn("Local stt helper did not exit in time, terminating")
		}
		if termErr := r.proc.Terminate(r.grace); termErr != nil {
			err = fmt.Errorf("failed to terminate local stt helper: %w", termErr)
		}

		joined := make(chan struct{})
		go func() {
			r.readers.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(r.grace):
			close(r.stream.abandon)
			<-joined
		}
	})
	return err
}

func (r *LocalRuntime) Provider() string { return ProviderLocal }
