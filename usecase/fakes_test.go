package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
	"github.com/satriahrh/livecaption/internal/pipeline"
)

type stubSource struct {
	label string
	queue *audio.ChunkQueue
}

func (s *stubSource) Label() string { return s.label }
func (s *stubSource) SampleRate() int { return audio.SampleRate }
func (s *stubSource) Queue() *audio.ChunkQueue { return s.queue }
func (s *stubSource) Close() error { s.queue.Close(); return nil }

type stubOpener struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (o *stubOpener) Open(ctx context.Context, spec pipeline.SourceSpec) (pipeline.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, spec.Label)
	if o.err != nil {
		return nil, o.err
	}
	return &stubSource{label: spec.Label, queue: audio.NewChunkQueue()}, nil
}

func (o *stubOpener) labels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

type stubRuntime struct {
	mu        sync.Mutex
	events    chan entities.TranscriptEvent
	err       error
	closeOnce sync.Once
}

func newStubRuntime() *stubRuntime {
	return &stubRuntime{events: make(chan entities.TranscriptEvent, 16)}
}

func (r *stubRuntime) SendAudio(samples []int16) error { return nil }
func (r *stubRuntime) KeepAlive() error { return nil }
func (r *stubRuntime) Finalize() error { return nil }
func (r *stubRuntime) Events() <-chan entities.TranscriptEvent { return r.events }
func (r *stubRuntime) Provider() string { return "stub" }

func (r *stubRuntime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *stubRuntime) Close() error {
	r.closeOnce.Do(func() { close(r.events) })
	return nil
}

func (r *stubRuntime) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.events) })
}

func (r *stubRuntime) say(source string, status entities.CaptionStatus, text string) {
	r.events <- entities.TranscriptEvent{Source: source, Status: status, Text: text}
}

type stubBackend struct {
	mu       sync.Mutex
	checkErr error
	startErr error
	runtimes []*stubRuntime
}

func (b *stubBackend) Check(cfg repositories.StreamingConfig) error { return b.checkErr }

func (b *stubBackend) Start(ctx context.Context, cfg repositories.StreamingConfig) (repositories.TranscriptionRuntime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return nil, b.startErr
	}
	rt := newStubRuntime()
	b.runtimes = append(b.runtimes, rt)
	return rt, nil
}

func (b *stubBackend) runtime(i int) *stubRuntime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtimes[i]
}

func (b *stubBackend) started() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runtimes)
}

type stubDevices struct {
	devices []entities.CaptureDevice
	err     error
}

func (d *stubDevices) Devices() ([]entities.CaptureDevice, error) { return d.devices, d.err }

type stubSummarizer struct {
	title, summary string
	err            error
	transcripts    []string
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (string, string, error) {
	s.transcripts = append(s.transcripts, transcript)
	return s.title, s.summary, s.err
}

type captionRecorder struct {
	mu      sync.Mutex
	entries []entities.CaptionEntry
}

func (r *captionRecorder) BroadcastCaption(sessionID string, entry entities.CaptionEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *captionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type recordingRecorder struct {
	mu     sync.Mutex
	states []entities.SessionStatus
	errs   []error
}

func (r *recordingRecorder) BroadcastRecording(session *entities.Session, err error) {
	r.mu.Lock()
	r.states = append(r.states, session.Status)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingRecorder) snapshot() ([]entities.SessionStatus, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.SessionStatus(nil), r.states...), append([]error(nil), r.errs...)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) EmitStatus(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

// failingRepo wraps a repository and fails Create
type failingRepo struct {
	repositories.SessionRepository
}

func (failingRepo) Create(ctx context.Context, session *entities.Session) error {
	return errors.New("disk full")
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}
