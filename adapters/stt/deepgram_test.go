package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

var deepgramStreaming = repositories.StreamingConfig{
	Provider:       ProviderDeepgram,
	Model:          "nova-3",
	Language:       "ja",
	SampleRate:     16000,
	InterimResults: true,
	EndpointingMs:  300,
}

// fakeDeepgram records what the client sends and answers with canned results
type fakeDeepgram struct {
	mu       sync.Mutex
	query    string
	auth     string
	binary   int
	controls []string
	results  []string
	// onCloseStream is sent before the server closes the socket
	onCloseStream string
}

func (f *fakeDeepgram) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				f.mu.Lock()
				f.binary++
				results := f.results
				f.results = nil
				f.mu.Unlock()
				for _, res := range results {
					conn.WriteMessage(websocket.TextMessage, []byte(res))
				}
				continue
			}

			f.mu.Lock()
			f.controls = append(f.controls, string(data))
			f.mu.Unlock()
			if string(data) == closeStreamPayload {
				if f.onCloseStream != "" {
					conn.WriteMessage(websocket.TextMessage, []byte(f.onCloseStream))
				}
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

func (f *fakeDeepgram) snapshot() (query, auth string, binary int, controls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query, f.auth, f.binary, append([]string(nil), f.controls...)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/listen"
}

func TestDeepgramListenURL(t *testing.T) {
	got, err := DeepgramListenURL("", deepgramStreaming)
	if err != nil {
		t.Fatal(err)
	}
	want := "wss://api.deepgram.com/v1/listen?encoding=linear16&channels=1&sample_rate=16000&model=nova-3&language=ja&interim_results=true&endpointing=300&diarize=true&punctuate=true&smart_format=true&no_delay=true"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	empty := deepgramStreaming
	empty.Language = " "
	got, _ = DeepgramListenURL("", empty)
	if !strings.Contains(got, "language=en&") {
		t.Errorf("Expected language fallback to en, got %s", got)
	}
}

func TestDeepgramRoundTrip(t *testing.T) {
	fake := &fakeDeepgram{
		results: []string{
			`{"type":"Metadata","request_id":"abc"}`,
			`{"type":"Results","is_final":false,"start":0.0,"duration":0.5,"channel":{"alternatives":[{"transcript":"hello","words":[{"speaker":1}]}]}}`,
		},
		onCloseStream: `{"type":"Results","is_final":true,"start":0.0,"duration":1.25,"channel":{"alternatives":[{"transcript":"hello world","words":[{"speaker":1},{"speaker":1}]}]}}`,
	}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	rt, err := DialDeepgram(context.Background(), DeepgramConfig{APIKey: "secret", URL: wsURL(server)}, deepgramStreaming, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected dial to succeed, got %v", err)
	}

	if err := rt.SendAudio(make([]int16, 320)); err != nil {
		t.Fatalf("Expected send to succeed, got %v", err)
	}

	interim := <-rt.Events()
	want := entities.TranscriptEvent{Text: "hello", Status: entities.CaptionStatusInterim, Source: "SPK2", Cursor: 500 * time.Millisecond, HasCursor: true}
	if interim != want {
		t.Errorf("Expected %+v, got %+v", want, interim)
	}

	if err := rt.KeepAlive(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Finalize(); err != nil {
		t.Fatal(err)
	}

	events := make(chan entities.TranscriptEvent, 4)
	go func() {
		for ev := range rt.Events() {
			events <- ev
		}
		close(events)
	}()
	if err := rt.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}

	final, ok := <-events
	if !ok || final.Text != "hello world" || !final.IsFinal() || final.Cursor != 1250*time.Millisecond {
		t.Errorf("Expected final result flushed on close, got %+v", final)
	}
	if _, ok := <-events; ok {
		t.Error("Expected events closed")
	}
	if rt.Err() != nil {
		t.Errorf("Expected no error after clean close, got %v", rt.Err())
	}

	query, auth, binary, controls := fake.snapshot()
	if auth != "Token secret" {
		t.Errorf("Expected token auth header, got %q", auth)
	}
	if !strings.Contains(query, "diarize=true") || !strings.Contains(query, "sample_rate=16000") {
		t.Errorf("Unexpected query %s", query)
	}
	if binary != 1 {
		t.Errorf("Expected one audio frame, got %d", binary)
	}
	wantControls := []string{keepAlivePayload, finalizePayload, closeStreamPayload}
	if strings.Join(controls, ",") != strings.Join(wantControls, ",") {
		t.Errorf("Expected controls %v, got %v", wantControls, controls)
	}
}

func TestDeepgramServerDrop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	rt, err := DialDeepgram(context.Background(), DeepgramConfig{APIKey: "secret", URL: wsURL(server)}, deepgramStreaming, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected dial to succeed, got %v", err)
	}
	defer rt.Close()

	if _, ok := <-rt.Events(); ok {
		t.Fatal("Expected events to close")
	}
	if !errors.Is(rt.Err(), domain.ErrBackendIO) {
		t.Errorf("Expected BackendIO, got %v", rt.Err())
	}
}

func TestDeepgramRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := DialDeepgram(context.Background(), DeepgramConfig{APIKey: "bad", URL: wsURL(server)}, deepgramStreaming, zaptest.NewLogger(t))
	if !errors.Is(err, domain.ErrBackendStartupFailure) {
		t.Fatalf("Expected BackendStartupFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestParseDeepgramMessage(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		ok     bool
		source string
	}{
		{"metadata", `{"type":"Metadata"}`, false, ""},
		{"empty transcript", `{"type":"Results","channel":{"alternatives":[{"transcript":"  "}]}}`, false, ""},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`, false, ""},
		{"no speakers", `{"type":"Results","channel":{"alternatives":[{"transcript":"hi"}]}}`, true, "SPK"},
		{"majority", `{"type":"Results","channel":{"alternatives":[{"transcript":"hi","words":[{"speaker":0},{"speaker":3},{"speaker":3}]}]}}`, true, "SPK4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := parseDeepgramMessage([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && ev.Source != tt.source {
				t.Errorf("Expected source %s, got %s", tt.source, ev.Source)
			}
			if ok && ev.HasCursor {
				t.Error("Expected no cursor without start")
			}
		})
	}

	if _, _, err := parseDeepgramMessage([]byte("not json")); err == nil {
		t.Error("Expected malformed message error")
	}
}
