// Package procutil is the narrow process capability the pipeline depends on:
// spawn a helper, write to its stdin, read its output line by line, and
// terminate it within a bounded time.
package procutil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single stdout/stderr line
const maxLineBytes = 1 << 20

// ErrNotExited is returned by Terminate when the process survived a kill
var ErrNotExited = errors.New("process did not exit")

// Command describes a helper process to start
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Process is a running helper
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}
	// ExitErr is the wait error, valid after Done is closed
	ExitErr() error
	// Terminate asks the process to exit, waits up to grace, then kills it
	// and waits up to grace again
	Terminate(grace time.Duration) error
	Pid() int
}

// Spawner starts processes
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner starts real OS processes
type ExecSpawner struct {
	logger *zap.Logger
}

// NewExecSpawner creates a spawner backed by os/exec
func NewExecSpawner(logger *zap.Logger) *ExecSpawner {
	return &ExecSpawner{logger: logger}
}

var _ Spawner = (*ExecSpawner)(nil)

// Spawn starts cmd with piped stdio. Output pipes are plain os.Pipe ends
// owned by the caller, so reading them never races with process reaping.
func (s *ExecSpawner) Spawn(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}
	// the child holds its own copies
	stdoutW.Close()
	stderrW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	s.logger.Info("Spawned helper process",
		zap.String("path", c.Path),
		zap.Strings("args", c.Args),
		zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	done    chan struct{}
	exitErr error

	closeOnce sync.Once
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.stdin.Close()
	if err := interruptProcess(p.cmd); err == nil {
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}

	// a killed helper may leave forked children holding the output pipes
	defer p.closeReaders()
	_ = killProcess(p.cmd)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return ErrNotExited
	}
}

// closeReaders unblocks any goroutine still reading output
func (p *execProcess) closeReaders() {
	p.closeOnce.Do(func() {
		p.stdout.Close()
		p.stderr.Close()
	})
}

// ReadLines calls fn for each line of r until EOF or a read error.
// The returned error is nil on EOF.
func ReadLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	err := scanner.Err()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
