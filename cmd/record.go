package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/usecase"
)

// console prints captions and status to a terminal. Interim text is
// redrawn in place on the current line.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	interim bool

	failed chan error
	once   sync.Once
}

func newConsole(out io.Writer) *console {
	return &console{out: out, failed: make(chan error, 1)}
}

func (c *console) BroadcastCaption(sessionID string, entry entities.CaptionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("[%s] %s: %s", entry.Time.Format("15:04:05"), entry.Source, entry.Text)
	if entry.Status == entities.CaptionStatusInterim {
		fmt.Fprintf(c.out, "\r\033[K%s", line)
		c.interim = true
		return
	}
	fmt.Fprintf(c.out, "\r\033[K%s\n", line)
	c.interim = false
}

func (c *console) EmitStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interim {
		fmt.Fprintln(c.out)
		c.interim = false
	}
	fmt.Fprintf(c.out, "-- %s\n", status)
}

// BroadcastRecording watches for the pipeline ending on its own
func (c *console) BroadcastRecording(session *entities.Session, err error) {
	if session.Status == entities.SessionStatusPaused && err != nil {
		c.once.Do(func() { c.failed <- err })
	}
}

func runRecord() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newConsole(os.Stdout)
	captions := usecase.NewCaptionService(a.sessions, a.logger, out)
	recorder, err := a.recordingService(captions, out, out)
	if err != nil {
		return err
	}

	session, err := recorder.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Recording session %s, press Ctrl+C to stop\n", session.ID)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-out.failed:
		fmt.Fprintf(os.Stderr, "Transcription stopped: %v\n", runErr)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
	defer stopCancel()
	finished, err := recorder.Stop(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	fmt.Fprintf(os.Stdout, "\n%s (%s, %d participants)\n%s\n",
		finished.Title, finished.Duration, finished.Participants, finished.Summary)
	return runErr
}
