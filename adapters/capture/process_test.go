package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satriahrh/livecaption/internal/audio"
	"github.com/satriahrh/livecaption/internal/pipeline"
	"github.com/satriahrh/livecaption/internal/procutil"
)

// collect receives chunks until want samples arrived or the queue closed
func collect(t *testing.T, q *audio.ChunkQueue, want int) (samples []int16, closed bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for {
			chunk, ok, done := q.TryRecv()
			if done {
				return samples, true
			}
			if !ok {
				break
			}
			samples = append(samples, chunk...)
		}
		if want > 0 && len(samples) >= want {
			return samples, false
		}
		select {
		case <-q.Ready():
		case <-deadline:
			t.Fatalf("Timed out with %d samples", len(samples))
		}
	}
}

func TestProcessSourceCommandLine(t *testing.T) {
	spawner := &procutil.FakeSpawner{}
	src, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "capture-helper --loopback"}, spawner, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer src.Close()

	spawned := spawner.Spawned()
	if len(spawned) != 1 {
		t.Fatalf("Expected one spawned process, got %d", len(spawned))
	}
	cmd := spawned[0].Command
	if cmd.Path != "capture-helper" {
		t.Errorf("Expected path capture-helper, got %s", cmd.Path)
	}
	wantArgs := []string{"--loopback", "--sample-rate", "16000"}
	if len(cmd.Args) != len(wantArgs) {
		t.Fatalf("Expected args %v, got %v", wantArgs, cmd.Args)
	}
	for i := range wantArgs {
		if cmd.Args[i] != wantArgs[i] {
			t.Errorf("Expected args %v, got %v", wantArgs, cmd.Args)
			break
		}
	}
	if src.SampleRate() != ScreenCaptureSampleRate {
		t.Errorf("Expected sample rate %d, got %d", ScreenCaptureSampleRate, src.SampleRate())
	}
}

func TestProcessSourceEmptyCommand(t *testing.T) {
	_, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "  "}, &procutil.FakeSpawner{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatal("Expected error for empty command")
	}
}

func TestProcessSourceSpawnFailure(t *testing.T) {
	spawner := &procutil.FakeSpawner{Err: errors.New("executable not found")}
	_, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "missing"}, spawner, zaptest.NewLogger(t))
	if err == nil {
		t.Fatal("Expected spawn error")
	}
}

func TestProcessSourceReassemblesSplitSamples(t *testing.T) {
	spawner := &procutil.FakeSpawner{}
	src, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "helper"}, spawner, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer src.Close()

	proc := spawner.Spawned()[0]
	data := audio.EncodeLE([]int16{1, -2, 300, -400})
	w := proc.StdoutWriter()
	// split in the middle of the second sample
	if _, err := w.Write(data[:3]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data[3:]); err != nil {
		t.Fatal(err)
	}

	samples, _ := collect(t, src.Queue(), 4)
	want := []int16{1, -2, 300, -400}
	if len(samples) != len(want) {
		t.Fatalf("Expected %v, got %v", want, samples)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, samples)
		}
	}
}

func TestProcessSourceHelperExitClosesQueue(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	spawner := &procutil.FakeSpawner{
		OnSpawn: func(p *procutil.FakeProcess) {
			p.StderrWriter().Write([]byte("permission granted\n"))
			p.StdoutWriter().Write(audio.EncodeLE([]int16{7, 8}))
			p.Exit(nil)
		},
	}
	src, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "helper"}, spawner, zap.New(core))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer src.Close()

	samples, closed := collect(t, src.Queue(), 0)
	if !closed {
		t.Fatal("Expected queue to close after helper exit")
	}
	if len(samples) != 2 {
		t.Errorf("Expected 2 samples before close, got %v", samples)
	}
	if logs.FilterMessage("Screen capture helper").FilterField(zap.String("line", "permission granted")).Len() != 1 {
		t.Error("Expected helper stderr line to be logged")
	}
}

func TestProcessSourceCloseTerminatesOnce(t *testing.T) {
	spawner := &procutil.FakeSpawner{}
	src, err := NewProcessSource(context.Background(), "SYS", ProcessConfig{Command: "helper"}, spawner, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Expected second close to be a no-op, got %v", err)
	}

	proc := spawner.Spawned()[0]
	if proc.TerminateCalls() != 1 {
		t.Errorf("Expected one terminate call, got %d", proc.TerminateCalls())
	}
	if _, closed := collect(t, src.Queue(), 0); !closed {
		t.Error("Expected queue closed after Close")
	}
}

func TestOpenerDispatchesByKind(t *testing.T) {
	spawner := &procutil.FakeSpawner{}
	opener := NewOpener(nil, ProcessConfig{Command: "helper"}, spawner, zaptest.NewLogger(t))

	src, err := opener.Open(context.Background(), pipeline.SourceSpec{Label: "SYS", Kind: pipeline.SourceProcess})
	if err != nil {
		t.Fatalf("Expected process source, got %v", err)
	}
	defer src.Close()
	if src.Label() != "SYS" {
		t.Errorf("Expected label SYS, got %s", src.Label())
	}

	if _, err := opener.Open(context.Background(), pipeline.SourceSpec{Label: "MIC", Kind: pipeline.SourceDevice, DeviceID: "x"}); err == nil {
		t.Error("Expected device open to fail without an audio backend")
	}
	if _, err := opener.Open(context.Background(), pipeline.SourceSpec{Label: "MIC"}); err == nil {
		t.Error("Expected unknown kind to fail")
	}
}

func TestSampleFormatMapping(t *testing.T) {
	tests := []struct {
		in   malgo.FormatType
		want audio.SampleFormat
	}{
		{malgo.FormatU8, audio.FormatU8},
		{malgo.FormatS16, audio.FormatS16},
		{malgo.FormatS24, audio.FormatS24},
		{malgo.FormatS32, audio.FormatS32},
		{malgo.FormatF32, audio.FormatF32},
	}
	for _, tt := range tests {
		got, ok := sampleFormat(tt.in)
		if !ok || got != tt.want {
			t.Errorf("sampleFormat(%d) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := sampleFormat(malgo.FormatUnknown); ok {
		t.Error("Expected unknown format to be rejected")
	}
}
