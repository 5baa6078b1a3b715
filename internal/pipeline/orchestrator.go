// Package pipeline coordinates capture sources, the mixer and a transcription
// backend for one recording run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
)

const (
	defaultMixInterval       = 20 * time.Millisecond
	defaultKeepAliveInterval = 3 * time.Second
	defaultDrainTimeout      = 2 * time.Second

	maxSources     = 2
	fallbackSource = "SPK"
)

// State is a step of a recording run
type State string

const (
	StateIdle                State = "idle"
	StateSourcesInitializing State = "sources_initializing"
	StateSourcesReady        State = "sources_ready"
	StateBackendStarting     State = "backend_starting"
	StateStreaming           State = "streaming"
	StateDraining            State = "draining"
	StateStopped             State = "stopped"
)

// Source is an open capture source. Its queue yields mono chunks at
// SampleRate and is closed when acquisition ends.
type Source interface {
	Label() string
	SampleRate() int
	Queue() *audio.ChunkQueue
	Close() error
}

// SourceOpener opens capture sources
type SourceOpener interface {
	Open(ctx context.Context, spec SourceSpec) (Source, error)
}

// BackendStarter starts transcription backends
type BackendStarter interface {
	// Check rejects configurations no backend can serve, before anything is opened
	Check(config repositories.StreamingConfig) error
	Start(ctx context.Context, config repositories.StreamingConfig) (repositories.TranscriptionRuntime, error)
}

// OrchestratorConfig wires an Orchestrator
type OrchestratorConfig struct {
	Streaming repositories.StreamingConfig
	Opener    SourceOpener
	Backend   BackendStarter
	Captions  repositories.CaptionSink
	Status    repositories.StatusSink

	MixInterval       time.Duration
	KeepAliveInterval time.Duration
	DrainTimeout      time.Duration
}

// Orchestrator runs one recording from source setup to teardown
type Orchestrator struct {
	logger   *zap.Logger
	cfg      repositories.StreamingConfig
	opener   SourceOpener
	backend  BackendStarter
	captions repositories.CaptionSink
	status   repositories.StatusSink

	mixInterval       time.Duration
	keepAliveInterval time.Duration
	drainTimeout      time.Duration

	mu    sync.RWMutex
	state State
	ran   bool

	// owned by the Run goroutine
	rt           repositories.TranscriptionRuntime
	sentSamples  int64
	sentSinceKA  bool
	latency      *audio.LatencyMonitor
	lastDropLog  time.Time
	droppedChunk [maxSources]int
	droppedFrame [maxSources]int
}

// ValidateOrchestratorConfig validates the OrchestratorConfig
func ValidateOrchestratorConfig(config OrchestratorConfig) error {
	if config.Opener == nil {
		return fmt.Errorf("source opener is required")
	}
	if config.Backend == nil {
		return fmt.Errorf("backend starter is required")
	}
	if config.Captions == nil {
		return fmt.Errorf("caption sink is required")
	}
	if config.MixInterval < 0 || config.KeepAliveInterval < 0 || config.DrainTimeout < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

// NewOrchestrator creates an orchestrator for a single run
func NewOrchestrator(config OrchestratorConfig, logger *zap.Logger) (*Orchestrator, error) {
	if err := ValidateOrchestratorConfig(config); err != nil {
		return nil, err
	}

	mixInterval := config.MixInterval
	if mixInterval == 0 {
		mixInterval = defaultMixInterval
	}
	keepAlive := config.KeepAliveInterval
	if keepAlive == 0 {
		keepAlive = defaultKeepAliveInterval
	}
	drain := config.DrainTimeout
	if drain == 0 {
		drain = defaultDrainTimeout
	}
	status := config.Status
	if status == nil {
		status = nopStatus{}
	}
	streaming := config.Streaming
	if streaming.SampleRate == 0 {
		streaming.SampleRate = audio.SampleRate
	}

	return &Orchestrator{
		logger:            logger,
		cfg:               streaming,
		opener:            config.Opener,
		backend:           config.Backend,
		captions:          config.Captions,
		status:            status,
		mixInterval:       mixInterval,
		keepAliveInterval: keepAlive,
		drainTimeout:      drain,
		state:             StateIdle,
		latency:           audio.NewLatencyMonitor(logger),
	}, nil
}

// State returns the current step
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("Pipeline state changed", zap.String("state", string(s)))
}

// Run opens the planned sources, starts the backend and streams until ctx is
// cancelled, every source ends, or the backend fails. Whatever was started is
// torn down before Run returns. A stop through ctx is not an error.
func (o *Orchestrator) Run(ctx context.Context, specs []SourceSpec) error {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already ran")
	}
	o.ran = true
	o.mu.Unlock()

	defer o.setState(StateStopped)

	o.setState(StateSourcesInitializing)
	if len(specs) == 0 {
		return domain.NewPipelineError(domain.KindNoInputSource, "start recording", nil)
	}
	if err := o.backend.Check(o.cfg); err != nil {
		return err
	}

	sources := o.openSources(ctx, specs)
	if len(sources) == 0 {
		return domain.NewPipelineError(domain.KindNoUsableSource, "open sources", nil)
	}
	if len(sources) > maxSources {
		for _, extra := range sources[maxSources:] {
			o.logger.Warn("Dropping extra capture source beyond first 2", zap.String("source", extra.Label()))
			o.closeSource(extra)
		}
		sources = sources[:maxSources]
	}
	o.setState(StateSourcesReady)

	o.status.EmitStatus(repositories.StatusReconnecting)
	o.setState(StateBackendStarting)
	rt, err := o.backend.Start(ctx, o.cfg)
	if err != nil {
		o.closeSources(sources)
		o.status.EmitStatus(repositories.StatusDisconnected)
		if domain.KindOf(err) != "" {
			return err
		}
		return domain.NewPipelineError(domain.KindBackendStartupFailure, "start "+o.cfg.Provider, err)
	}
	o.rt = rt

	o.status.EmitStatus(repositories.StatusConnected)
	o.setState(StateStreaming)
	o.logger.Info("Mixed stream started",
		zap.Int("sources", len(sources)),
		zap.Int("sampleRate", audio.SampleRate),
		zap.String("provider", rt.Provider()))

	var loopErr error
	if len(sources) == 1 {
		loopErr = o.runSingle(ctx, sources[0])
	} else {
		loopErr = o.runDual(ctx, sources[0], sources[1])
	}

	o.setState(StateDraining)
	o.drain(sources)
	o.status.EmitStatus(repositories.StatusDisconnected)
	o.logger.Info("Mixed stream stopped", zap.Int64("sentSamples", o.sentSamples), zap.Error(loopErr))
	return loopErr
}

func (o *Orchestrator) openSources(ctx context.Context, specs []SourceSpec) []Source {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		src, err := o.opener.Open(ctx, spec)
		if err != nil {
			o.logger.Warn("Capture setup failed and was skipped",
				zap.String("source", spec.Label),
				zap.String("kind", spec.Kind.String()),
				zap.Error(domain.NewPipelineError(domain.KindSourceDevice, "open "+spec.Label, err)))
			continue
		}
		o.logger.Info("Capture source ready",
			zap.String("source", src.Label()),
			zap.String("device", spec.DeviceName),
			zap.Int("sampleRate", src.SampleRate()))
		sources = append(sources, src)
	}
	return sources
}

func (o *Orchestrator) runSingle(ctx context.Context, src Source) error {
	q := src.Queue()
	ready := q.Ready()
	keepAlive := time.NewTicker(o.keepAliveInterval)
	defer keepAlive.Stop()
	events := o.rt.Events()
	o.lastDropLog = time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil

		case <-ready:
			chunk, ok, closed := q.TryRecv()
			if closed {
				o.logger.Info("Capture source ended", zap.String("source", src.Label()))
				return nil
			}
			if !ok {
				continue
			}
			latest, dropped, closed := audio.DrainLatest(q, chunk, audio.MaxDrainChunks)
			o.droppedChunk[0] += dropped
			o.logDropsIfDue([]Source{src})

			resampled := audio.Resample(latest, src.SampleRate(), audio.SampleRate)
			if err := o.send(resampled); err != nil {
				return err
			}
			if closed {
				o.logger.Info("Capture source ended", zap.String("source", src.Label()))
				return nil
			}

		case <-keepAlive.C:
			if err := o.keepAlive(); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				return o.backendEnded()
			}
			o.emit(ev)
		}
	}
}

func (o *Orchestrator) runDual(ctx context.Context, mic, sys Source) error {
	sources := []Source{mic, sys}
	queues := [maxSources]*audio.ChunkQueue{mic.Queue(), sys.Queue()}
	readies := [maxSources]<-chan struct{}{queues[0].Ready(), queues[1].Ready()}
	backlogs := [maxSources]*audio.Backlog{audio.NewBacklog(audio.MaxBacklogFrames), audio.NewBacklog(audio.MaxBacklogFrames)}
	closed := [maxSources]bool{}

	diag := audio.NewDiagnostics(o.logger)
	mixTick := time.NewTicker(o.mixInterval)
	defer mixTick.Stop()
	keepAlive := time.NewTicker(o.keepAliveInterval)
	defer keepAlive.Stop()
	events := o.rt.Events()
	o.lastDropLog = time.Now()

	receive := func(i int) {
		chunk, ok, isClosed := queues[i].TryRecv()
		if isClosed {
			closed[i] = true
			readies[i] = nil
			o.logger.Info("Capture source ended", zap.String("source", sources[i].Label()))
			return
		}
		if !ok {
			return
		}
		latest, dropped, isClosed := audio.DrainLatest(queues[i], chunk, audio.MaxDrainChunks)
		o.droppedChunk[i] += dropped

		resampled := audio.Resample(latest, sources[i].SampleRate(), audio.SampleRate)
		if i == 0 {
			diag.ObserveMic(resampled)
		} else {
			diag.ObserveSys(resampled)
		}
		o.droppedFrame[i] += backlogs[i].Append(resampled)

		if isClosed {
			closed[i] = true
			readies[i] = nil
			o.logger.Info("Capture source ended", zap.String("source", sources[i].Label()))
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil

		case <-readies[0]:
			receive(0)

		case <-readies[1]:
			receive(1)

		case <-mixTick.C:
			if mixed := audio.Mix(backlogs[0], backlogs[1], audio.ChunkFrames); mixed != nil {
				if err := o.send(mixed); err != nil {
					return err
				}
			}
			o.logDropsIfDue(sources)
			diag.EmitIfDue(backlogs[0].Len(), backlogs[1].Len(), o.latency.Latest())

			if closed[0] && closed[1] && backlogs[0].Len() == 0 && backlogs[1].Len() == 0 {
				return nil
			}

		case <-keepAlive.C:
			if err := o.keepAlive(); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				return o.backendEnded()
			}
			o.emit(ev)
		}
	}
}

func (o *Orchestrator) send(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if err := o.rt.SendAudio(samples); err != nil {
		return domain.NewPipelineError(domain.KindBackendIO, "send audio", err)
	}
	o.sentSamples += int64(len(samples))
	o.sentSinceKA = true
	return nil
}

func (o *Orchestrator) keepAlive() error {
	if !o.sentSinceKA {
		if err := o.rt.KeepAlive(); err != nil {
			return domain.NewPipelineError(domain.KindBackendIO, "keepalive", err)
		}
	}
	o.sentSinceKA = false
	return nil
}

func (o *Orchestrator) backendEnded() error {
	err := o.rt.Err()
	if err == nil {
		err = errors.New("transcription stream ended")
	}
	return domain.NewPipelineError(domain.KindBackendIO, "receive transcripts", err)
}

func (o *Orchestrator) emit(ev entities.TranscriptEvent) {
	if ev.HasCursor {
		o.latency.Observe(o.sentSamples, ev.Cursor)
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	source := ev.Source
	if source == "" {
		source = fallbackSource
	}
	status := ev.Status
	if status != entities.CaptionStatusFinal {
		status = entities.CaptionStatusInterim
	}
	o.captions.EmitCaption(source, status, text, time.Now())
}

func (o *Orchestrator) logDropsIfDue(sources []Source) {
	if time.Since(o.lastDropLog) < audio.DropLogInterval {
		return
	}
	o.lastDropLog = time.Now()

	total := 0
	for i := range sources {
		total += o.droppedChunk[i] + o.droppedFrame[i]
	}
	if total == 0 {
		return
	}

	fields := make([]zap.Field, 0, 2*len(sources))
	for i, src := range sources {
		fields = append(fields,
			zap.Int(src.Label()+"DroppedChunks", o.droppedChunk[i]),
			zap.Int(src.Label()+"DroppedFrames", o.droppedFrame[i]))
		o.droppedChunk[i], o.droppedFrame[i] = 0, 0
	}
	o.logger.Warn("Audio backlog trimmed to keep captions near real-time", fields...)
}

// drain flushes the backend and releases everything. Events produced while
// the backend shuts down are still relayed, up to the drain timeout.
func (o *Orchestrator) drain(sources []Source) {
	if err := o.rt.Finalize(); err != nil {
		o.logger.Debug("Finalize skipped", zap.Error(err))
	}

	o.closeSources(sources)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for ev := range o.rt.Events() {
			o.emit(ev)
		}
	}()

	if err := o.rt.Close(); err != nil {
		o.logger.Warn("Failed to close transcription backend", zap.Error(err))
	}

	select {
	case <-relayDone:
	case <-time.After(o.drainTimeout):
		o.logger.Warn("Timed out relaying final transcripts", zap.Duration("timeout", o.drainTimeout))
	}
}

func (o *Orchestrator) closeSources(sources []Source) {
	for _, src := range sources {
		o.closeSource(src)
	}
}

func (o *Orchestrator) closeSource(src Source) {
	if err := src.Close(); err != nil {
		o.logger.Warn("Failed to close capture source", zap.String("source", src.Label()), zap.Error(err))
	}
}

type nopStatus struct{}

func (nopStatus) EmitStatus(string) {}
