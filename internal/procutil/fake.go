package procutil

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// FakeProcess is an in-memory Process for tests. Stdin is captured, and the
// test drives stdout and stderr through the writer ends.
type FakeProcess struct {
	Command Command

	stdin   *captureWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu             sync.Mutex
	done           chan struct{}
	exitErr        error
	exited         bool
	terminateCalls int
}

// NewFakeProcess creates a running fake
func NewFakeProcess(cmd Command) *FakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &FakeProcess{
		Command: cmd,
		stdin:   &captureWriter{},
		stdoutR: outR,
		stdoutW: outW,
		stderrR: errR,
		stderrW: errW,
		done:    make(chan struct{}),
	}
}

func (f *FakeProcess) Stdin() io.WriteCloser { return f.stdin }
func (f *FakeProcess) Stdout() io.Reader { return f.stdoutR }
func (f *FakeProcess) Stderr() io.Reader { return f.stderrR }
func (f *FakeProcess) Done() <-chan struct{} { return f.done }
func (f *FakeProcess) Pid() int { return 4242 }

func (f *FakeProcess) ExitErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitErr
}

// StdoutWriter is the helper's side of stdout
func (f *FakeProcess) StdoutWriter() io.Writer { return f.stdoutW }

// StderrWriter is the helper's side of stderr
func (f *FakeProcess) StderrWriter() io.Writer { return f.stderrW }

// WriteLine writes one newline-terminated line to stdout
func (f *FakeProcess) WriteLine(line string) error {
	_, err := io.WriteString(f.stdoutW, line+"\n")
	return err
}

// StdinBytes returns everything written to stdin so far
func (f *FakeProcess) StdinBytes() []byte {
	return f.stdin.Bytes()
}

// StdinClosed reports whether the caller closed stdin
func (f *FakeProcess) StdinClosed() bool {
	return f.stdin.Closed()
}

// Exit ends the process with err and closes its output streams
func (f *FakeProcess) Exit(err error) {
	f.mu.Lock()
	if f.exited {
		f.mu.Unlock()
		return
	}
	f.exited = true
	f.exitErr = err
	f.mu.Unlock()

	f.stdoutW.Close()
	f.stderrW.Close()
	close(f.done)
}

// Exited reports whether the process has exited
func (f *FakeProcess) Exited() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// TerminateCalls returns how many times Terminate was called
func (f *FakeProcess) TerminateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateCalls
}

func (f *FakeProcess) Terminate(grace time.Duration) error {
	f.mu.Lock()
	f.terminateCalls++
	f.mu.Unlock()
	f.Exit(nil)
	return nil
}

// FakeSpawner hands out FakeProcesses
type FakeSpawner struct {
	mu      sync.Mutex
	spawned []*FakeProcess
	// OnSpawn, if set, runs in its own goroutine for every new process
	OnSpawn func(p *FakeProcess)
	// Err, if set, is returned by Spawn
	Err error
}

var _ Spawner = (*FakeSpawner)(nil)

func (s *FakeSpawner) Spawn(ctx context.Context, cmd Command) (Process, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := NewFakeProcess(cmd)
	s.mu.Lock()
	s.spawned = append(s.spawned, p)
	s.mu.Unlock()
	if s.OnSpawn != nil {
		go s.OnSpawn(p)
	}
	return p, nil
}

// Spawned returns the processes started so far
func (s *FakeSpawner) Spawned() []*FakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FakeProcess, len(s.spawned))
	copy(out, s.spawned)
	return out
}

type captureWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *captureWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

func (w *captureWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
