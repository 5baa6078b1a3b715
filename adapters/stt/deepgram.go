package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
)

// DefaultDeepgramURL is the hosted streaming endpoint
const DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"

const (
	keepAlivePayload   = `{"type":"KeepAlive"}`
	finalizePayload    = `{"type":"Finalize"}`
	closeStreamPayload = `{"type":"CloseStream"}`

	deepgramWriteTimeout = 5 * time.Second
)

// DeepgramConfig configures the websocket connection
type DeepgramConfig struct {
	APIKey string
	URL    string
	Dialer *websocket.Dialer
}

// DeepgramRuntime streams linear16 audio over a Deepgram live connection
type DeepgramRuntime struct {
	conn   *websocket.Conn
	stream *eventStream
	logger *zap.Logger
	grace  time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	err     error
	closing bool

	readDone  chan struct{}
	closeOnce sync.Once
}

var _ repositories.TranscriptionRuntime = (*DeepgramRuntime)(nil)

// deepgramResult is the subset of a Results message the captions need
type deepgramResult struct {
	Type     string   `json:"type"`
	IsFinal  bool     `json:"is_final"`
	Start    *float64 `json:"start"`
	Duration float64  `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Speaker *int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

// DeepgramListenURL builds the listen URL with the streaming options
func DeepgramListenURL(base string, config repositories.StreamingConfig) (string, error) {
	if base == "" {
		base = DefaultDeepgramURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	language := strings.TrimSpace(config.Language)
	if language == "" {
		language = "en"
	}

	// fixed order keeps the query readable in logs
	params := []string{
		"encoding=linear16",
		"channels=1",
		"sample_rate=" + strconv.Itoa(config.SampleRate),
		"model=" + url.QueryEscape(config.Model),
		"language=" + url.QueryEscape(language),
		"interim_results=" + strconv.FormatBool(config.InterimResults),
		"endpointing=" + strconv.Itoa(config.EndpointingMs),
		"diarize=true",
		"punctuate=true",
		"smart_format=true",
		"no_delay=true",
	}
	u.RawQuery = strings.Join(params, "&")
	return u.String(), nil
}

// DialDeepgram opens the live transcription socket
func DialDeepgram(ctx context.Context, dg DeepgramConfig, config repositories.StreamingConfig, logger *zap.Logger) (*DeepgramRuntime, error) {
	if strings.TrimSpace(dg.APIKey) == "" {
		return nil, startupFailure("dial deepgram", errors.New("deepgram api key is not set"))
	}
	listenURL, err := DeepgramListenURL(dg.URL, config)
	if err != nil {
		return nil, startupFailure("dial deepgram", err)
	}
	dialer := dg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+dg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, listenURL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, startupFailure("dial deepgram", err)
	}

	r := &DeepgramRuntime{
		conn:     conn,
		stream:   newEventStream(),
		logger:   logger,
		grace:    closeGrace,
		readDone: make(chan struct{}),
	}
	go r.readLoop()

	logger.Info("Deepgram connected", zap.String("model", config.Model))
	return r, nil
}

func (r *DeepgramRuntime) readLoop() {
	defer close(r.readDone)
	defer close(r.stream.events)

	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if !r.closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.err = ioFailure("read deepgram", err)
			} else if !r.closing {
				r.err = ioFailure("read deepgram", errors.New("connection closed by server"))
			}
			r.mu.Unlock()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok, err := parseDeepgramMessage(data)
		if err != nil {
			r.logger.Debug("Ignoring malformed deepgram message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if !r.stream.send(ev) {
			return
		}
	}
}

// parseDeepgramMessage converts a Results message to an event. ok is false
// for other message types and empty transcripts.
func parseDeepgramMessage(data []byte) (ev entities.TranscriptEvent, ok bool, err error) {
	var msg deepgramResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return ev, false, err
	}
	if msg.Type != "Results" {
		return ev, false, nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return ev, false, nil
	}
	alt := msg.Channel.Alternatives[0]

	if msg.Start != nil {
		ev.Cursor, ev.HasCursor = seconds(*msg.Start+msg.Duration), true
	}
	ev.Text = strings.TrimSpace(alt.Transcript)
	if ev.Text == "" {
		return ev, false, nil
	}
	ev.Status = entities.CaptionStatusInterim
	if msg.IsFinal {
		ev.Status = entities.CaptionStatusFinal
	}

	speakers := make([]int, 0, len(alt.Words))
	for _, w := range alt.Words {
		if w.Speaker != nil {
			speakers = append(speakers, *w.Speaker)
		}
	}
	ev.Source = "SPK"
	if id, found := majoritySpeaker(speakers); found {
		ev.Source = speakerLabel(id)
	}
	return ev, true, nil
}

func (r *DeepgramRuntime) write(messageType int, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteMessage(messageType, data)
}

func (r *DeepgramRuntime) SendAudio(samples []int16) error {
	if err := r.write(websocket.BinaryMessage, audio.EncodeLE(samples)); err != nil {
		return ioFailure("send audio", err)
	}
	return nil
}

func (r *DeepgramRuntime) KeepAlive() error {
	if err := r.write(websocket.TextMessage, []byte(keepAlivePayload)); err != nil {
		return ioFailure("send keepalive", err)
	}
	return nil
}

func (r *DeepgramRuntime) Finalize() error {
	if err := r.write(websocket.TextMessage, []byte(finalizePayload)); err != nil {
		return ioFailure("send finalize", err)
	}
	return nil
}

func (r *DeepgramRuntime) Events() <-chan entities.TranscriptEvent { return r.stream.events }

func (r *DeepgramRuntime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close asks the server to flush and close, waiting up to the grace period
// before dropping the connection
func (r *DeepgramRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closing = true
		r.mu.Unlock()

		if writeErr := r.write(websocket.TextMessage, []byte(closeStreamPayload)); writeErr != nil {
			r.logger.Debug("CloseStream send skipped", zap.Error(writeErr))
		}

		select {
		case <-r.readDone:
		case <-time.After(r.grace):
			r.logger.Warn("Deepgram did not close in time, dropping connection")
			close(r.stream.abandon)
		}

		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.writeMu.Unlock()
		if closeErr := r.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close deepgram connection: %w", closeErr)
		}
		<-r.readDone
	})
	return err
}

func (r *DeepgramRuntime) Provider() string { return ProviderDeepgram }
