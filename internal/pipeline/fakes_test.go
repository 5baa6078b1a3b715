package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
)

type fakeSource struct {
	label  string
	rate   int
	queue  *audio.ChunkQueue
	mu     sync.Mutex
	closed bool
}

func newFakeSource(label string, rate int) *fakeSource {
	return &fakeSource{label: label, rate: rate, queue: audio.NewChunkQueue()}
}

func (s *fakeSource) Label() string { return s.label }
func (s *fakeSource) SampleRate() int { return s.rate }
func (s *fakeSource) Queue() *audio.ChunkQueue { return s.queue }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.queue.Close()
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeOpener struct {
	sources map[string]*fakeSource
	fail    map[string]error
	mu      sync.Mutex
	opened  []string
}

func (o *fakeOpener) Open(ctx context.Context, spec SourceSpec) (Source, error) {
	o.mu.Lock()
	o.opened = append(o.opened, spec.Label)
	o.mu.Unlock()
	if err := o.fail[spec.Label]; err != nil {
		return nil, err
	}
	src, ok := o.sources[spec.Label]
	if !ok {
		return nil, errors.New("no such source")
	}
	return src, nil
}

func (o *fakeOpener) openedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

type fakeBackend struct {
	rt       *fakeRuntime
	checkErr error
	startErr error
	started  int
}

func (b *fakeBackend) Check(cfg repositories.StreamingConfig) error { return b.checkErr }

func (b *fakeBackend) Start(ctx context.Context, cfg repositories.StreamingConfig) (repositories.TranscriptionRuntime, error) {
	b.started++
	if b.startErr != nil {
		return nil, b.startErr
	}
	return b.rt, nil
}

type fakeRuntime struct {
	mu          sync.Mutex
	sent        []int16
	sendErr     error
	keepAlives  int
	finalized   bool
	closed      bool
	events      chan entities.TranscriptEvent
	err         error
	onClose     []entities.TranscriptEvent
	closeEvents sync.Once
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{events: make(chan entities.TranscriptEvent, 16)}
}

func (r *fakeRuntime) SendAudio(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, samples...)
	return nil
}

func (r *fakeRuntime) KeepAlive() error {
	r.mu.Lock()
	r.keepAlives++
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) Finalize() error {
	r.mu.Lock()
	r.finalized = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) Events() <-chan entities.TranscriptEvent { return r.events }

func (r *fakeRuntime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// fail ends the event stream with err, as a broken connection would
func (r *fakeRuntime) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.closeEvents.Do(func() { close(r.events) })
}

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	r.closed = true
	pending := r.onClose
	r.mu.Unlock()
	r.closeEvents.Do(func() {
		for _, ev := range pending {
			r.events <- ev
		}
		close(r.events)
	})
	return nil
}

func (r *fakeRuntime) Provider() string { return "fake" }

func (r *fakeRuntime) sentSamples() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int16(nil), r.sent...)
}

func (r *fakeRuntime) snapshot() (keepAlives int, finalized, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keepAlives, r.finalized, r.closed
}

type caption struct {
	source string
	status entities.CaptionStatus
	text   string
}

type recorder struct {
	mu       sync.Mutex
	captions []caption
	statuses []string
}

func (r *recorder) EmitCaption(source string, status entities.CaptionStatus, text string, at time.Time) {
	r.mu.Lock()
	r.captions = append(r.captions, caption{source: source, status: status, text: text})
	r.mu.Unlock()
}

func (r *recorder) EmitStatus(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]caption, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]caption(nil), r.captions...), append([]string(nil), r.statuses...)
}

var errUnsupported = domain.NewPipelineError(domain.KindBackendUnsupported, "check provider", errors.New("unknown provider"))
