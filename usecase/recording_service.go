package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/pipeline"
)

const (
	defaultStopTimeout    = 5 * time.Second
	defaultSummaryTimeout = 30 * time.Second
)

// Recording states reported by Status
const (
	RecordingIdle      = "idle"
	RecordingActive    = "recording"
	RecordingPaused    = "paused"
	RecordingFinishing = "finishing"
)

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrNotPaused        = errors.New("recording is not paused")
)

// DeviceLister enumerates capture devices
type DeviceLister interface {
	Devices() ([]entities.CaptureDevice, error)
}

// RecordingNotifier is told about session state changes
type RecordingNotifier interface {
	BroadcastRecording(session *entities.Session, err error)
}

// RecordingConfig holds the settings a recording is started with
type RecordingConfig struct {
	Streaming      repositories.StreamingConfig
	Plan           pipeline.PlanConfig
	StopTimeout    time.Duration
	SummaryTimeout time.Duration
}

// RecordingDeps are the collaborators of a RecordingService. Devices,
// Summarizer, Status and Notifier are optional.
type RecordingDeps struct {
	Devices    DeviceLister
	Opener     pipeline.SourceOpener
	Backend    pipeline.BackendStarter
	Sessions   repositories.SessionRepository
	Summarizer repositories.Summarizer
	Captions   *CaptionService
	Status     repositories.StatusSink
	Notifier   RecordingNotifier
}

// RecordingStatus is a point-in-time view of the recorder
type RecordingStatus struct {
	State     string     `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	Pipeline  string     `json:"pipeline,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Captions  int        `json:"captions"`
	LastError string     `json:"last_error,omitempty"`
}

// pipelineRun is one orchestrator run, from start to teardown
type pipelineRun struct {
	orch      *pipeline.Orchestrator
	cancel    context.CancelFunc
	connected chan struct{}
	done      chan struct{}
	err       error
}

func (r *pipelineRun) stop(timeout time.Duration, logger *zap.Logger) error {
	r.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.err
	case <-timer.C:
		logger.Warn("Pipeline did not stop in time", zap.Duration("timeout", timeout))
		return nil
	}
}

// connectSignal forwards status to the next sink and closes connected on
// the first StatusConnected
type connectSignal struct {
	next      repositories.StatusSink
	once      sync.Once
	connected chan struct{}
}

func (c *connectSignal) EmitStatus(status string) {
	if status == repositories.StatusConnected {
		c.once.Do(func() { close(c.connected) })
	}
	if c.next != nil {
		c.next.EmitStatus(status)
	}
}

// RecordingService owns the lifecycle of recording sessions: it plans
// sources, runs the pipeline, and finishes sessions with a summary.
type RecordingService struct {
	config RecordingConfig
	deps   RecordingDeps
	logger *zap.Logger

	// serializes Start, Stop, Pause and Resume
	opMu sync.Mutex

	mu        sync.Mutex
	state     string
	run       *pipelineRun
	lastError error
}

// NewRecordingService creates a new recording service
func NewRecordingService(config RecordingConfig, deps RecordingDeps, logger *zap.Logger) (*RecordingService, error) {
	if deps.Opener == nil || deps.Backend == nil {
		return nil, fmt.Errorf("source opener and backend starter are required")
	}
	if deps.Sessions == nil || deps.Captions == nil {
		return nil, fmt.Errorf("session repository and caption service are required")
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = defaultStopTimeout
	}
	if config.SummaryTimeout <= 0 {
		config.SummaryTimeout = defaultSummaryTimeout
	}
	if deps.Summarizer == nil {
		logger.Info("No summarizer configured, sessions get fallback titles")
	}
	return &RecordingService{
		config: config,
		deps:   deps,
		logger: logger,
		state:  RecordingIdle,
	}, nil
}

// Start begins a new session and returns once the transcription backend is
// connected. Pipeline errors that happen before that are returned and leave
// no session behind.
func (s *RecordingService) Start(ctx context.Context) (*entities.Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != RecordingIdle {
		return nil, ErrAlreadyRecording
	}

	specs, err := s.planSources()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Backend.Check(s.config.Streaming); err != nil {
		return nil, err
	}

	session := entities.NewSession(uuid.NewString())
	s.deps.Captions.Attach(session, false)

	run, err := s.launch(ctx, specs)
	if err != nil {
		s.deps.Captions.Detach()
		return nil, err
	}

	snapshot := s.deps.Captions.Snapshot()
	if err := s.deps.Sessions.Create(ctx, snapshot); err != nil {
		run.stop(s.config.StopTimeout, s.logger)
		s.deps.Captions.Detach()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.deps.Captions.MarkPersisted()

	s.adopt(run, RecordingActive)
	s.notify(snapshot, nil)
	s.logger.Info("Recording started", zap.String("sessionID", session.ID))
	return snapshot, nil
}

// Stop ends the pipeline, summarizes the transcript and stores the finished
// session. A paused session can be stopped too.
func (s *RecordingService) Stop(ctx context.Context) (*entities.Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == RecordingIdle {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	run := s.run
	s.run = nil
	s.state = RecordingFinishing
	s.mu.Unlock()

	if run != nil {
		if err := run.stop(s.config.StopTimeout, s.logger); err != nil {
			s.logger.Warn("Pipeline ended with error", zap.Error(err))
		}
	}

	session := s.deps.Captions.Detach()
	defer s.setIdle()
	if session == nil {
		return nil, ErrNotRecording
	}

	title, summary := s.summarize(ctx, session)
	session.Finish(time.Now(), title, summary)

	if err := s.deps.Sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.notify(session, nil)
	s.logger.Info("Recording finished",
		zap.String("sessionID", session.ID),
		zap.String("duration", session.Duration),
		zap.Int("participants", session.Participants),
		zap.Int("captions", len(session.Captions)))
	return session.Clone(), nil
}

// Pause stops the pipeline but keeps the session open
func (s *RecordingService) Pause(ctx context.Context) (*entities.Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != RecordingActive {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	run := s.run
	s.run = nil
	s.state = RecordingPaused
	s.mu.Unlock()

	if run != nil {
		if err := run.stop(s.config.StopTimeout, s.logger); err != nil {
			s.logger.Warn("Pipeline ended with error", zap.Error(err))
		}
	}

	snapshot := s.deps.Captions.Update(func(session *entities.Session) { session.Pause() })
	if snapshot == nil {
		return nil, ErrNotRecording
	}
	if err := s.deps.Sessions.Update(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to persist paused session", zap.Error(err))
	}
	s.notify(snapshot, nil)
	s.logger.Info("Recording paused", zap.String("sessionID", snapshot.ID))
	return snapshot, nil
}

// Resume starts a new pipeline run appending to the paused session
func (s *RecordingService) Resume(ctx context.Context) (*entities.Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != RecordingPaused {
		return nil, ErrNotPaused
	}

	specs, err := s.planSources()
	if err != nil {
		return nil, err
	}

	run, err := s.launch(ctx, specs)
	if err != nil {
		return nil, err
	}

	snapshot := s.deps.Captions.Update(func(session *entities.Session) { session.Resume() })
	if err := s.deps.Sessions.Update(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to persist resumed session", zap.Error(err))
	}

	s.adopt(run, RecordingActive)
	s.notify(snapshot, nil)
	s.logger.Info("Recording resumed", zap.String("sessionID", snapshot.ID))
	return snapshot, nil
}

// Status reports the current recording state
func (s *RecordingService) Status() RecordingStatus {
	s.mu.Lock()
	status := RecordingStatus{State: s.state}
	if s.run != nil {
		status.Pipeline = string(s.run.orch.State())
	}
	if s.lastError != nil {
		status.LastError = s.lastError.Error()
	}
	s.mu.Unlock()

	if session := s.deps.Captions.Snapshot(); session != nil {
		status.SessionID = session.ID
		startedAt := session.StartedAt
		status.StartedAt = &startedAt
		status.Captions = len(session.Captions)
	}
	return status
}

// Session returns a copy of the session being recorded, or nil
func (s *RecordingService) Session() *entities.Session {
	return s.deps.Captions.Snapshot()
}

func (s *RecordingService) planSources() ([]pipeline.SourceSpec, error) {
	var devices []entities.CaptureDevice
	if s.deps.Devices != nil {
		list, err := s.deps.Devices.Devices()
		if err != nil {
			s.logger.Warn("Failed to list capture devices", zap.Error(err))
		} else {
			devices = list
		}
	}
	plan := s.config.Plan
	plan.DefaultInput = s.deps.Devices != nil
	return pipeline.PlanSources(plan, devices, s.logger)
}

// launch starts an orchestrator and waits until its backend is connected or
// the run fails
func (s *RecordingService) launch(ctx context.Context, specs []pipeline.SourceSpec) (*pipelineRun, error) {
	signal := &connectSignal{next: s.deps.Status, connected: make(chan struct{})}
	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Streaming: s.config.Streaming,
		Opener:    s.deps.Opener,
		Backend:   s.deps.Backend,
		Captions:  s.deps.Captions,
		Status:    signal,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &pipelineRun{
		orch:      orch,
		cancel:    cancel,
		connected: signal.connected,
		done:      make(chan struct{}),
	}
	go func() {
		defer cancel()
		run.err = orch.Run(runCtx, specs)
		close(run.done)
	}()

	select {
	case <-run.connected:
		return run, nil
	case <-run.done:
		if run.err != nil {
			return nil, run.err
		}
		return nil, fmt.Errorf("pipeline ended before streaming")
	case <-ctx.Done():
		run.stop(s.config.StopTimeout, s.logger)
		return nil, ctx.Err()
	}
}

// adopt makes run the current run and watches it for an unexpected end
func (s *RecordingService) adopt(run *pipelineRun, state string) {
	s.mu.Lock()
	s.run = run
	s.state = state
	s.lastError = nil
	s.mu.Unlock()
	go s.watch(run)
}

// watch pauses the session when a run ends on its own, such as a dropped
// backend connection or every capture source going away
func (s *RecordingService) watch(run *pipelineRun) {
	<-run.done

	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.state = RecordingPaused
	s.lastError = run.err
	s.mu.Unlock()

	s.logger.Warn("Pipeline ended unexpectedly, recording paused", zap.Error(run.err))

	snapshot := s.deps.Captions.Update(func(session *entities.Session) { session.Pause() })
	if snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.deps.Sessions.Update(ctx, snapshot); err != nil {
		s.logger.Warn("Failed to persist paused session", zap.Error(err))
	}
	s.notify(snapshot, run.err)
}

func (s *RecordingService) setIdle() {
	s.mu.Lock()
	s.state = RecordingIdle
	s.mu.Unlock()
}

// summarize asks the summarizer for a title and summary. Empty results fall
// back to the session defaults in Finish.
func (s *RecordingService) summarize(ctx context.Context, session *entities.Session) (string, string) {
	transcript := session.Transcript()
	if s.deps.Summarizer == nil || transcript == "" {
		return "", ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.SummaryTimeout)
	defer cancel()
	title, summary, err := s.deps.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		s.logger.Warn("Failed to summarize session, using fallback",
			zap.String("sessionID", session.ID),
			zap.Error(err))
		return "", ""
	}
	return title, summary
}

func (s *RecordingService) notify(session *entities.Session, err error) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.BroadcastRecording(session, err)
	}
}
