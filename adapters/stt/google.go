package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
)

// GoogleRuntime streams audio to Google Cloud Speech-to-Text
type GoogleRuntime struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	events *eventStream
	logger *zap.Logger
	grace  time.Duration

	sendMu   sync.Mutex
	sendDone bool

	mu      sync.Mutex
	err     error
	closing bool

	readDone  chan struct{}
	closeOnce sync.Once
}

var _ repositories.TranscriptionRuntime = (*GoogleRuntime)(nil)

// StartGoogle opens a StreamingRecognize call with interim results and
// speaker diarization
func StartGoogle(ctx context.Context, credentialsFile string, config repositories.StreamingConfig, logger *zap.Logger) (*GoogleRuntime, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, startupFailure("create speech client", err)
	}

	// the stream outlives the caller's start context
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		client.Close()
		return nil, startupFailure("open streaming recognize", err)
	}

	language := config.Language
	if language == "" || language == "en" {
		language = "en-US"
	}
	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(config.SampleRate),
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          4,
		},
	}
	if config.Model != "" && !strings.HasPrefix(config.Model, "nova") {
		recognitionConfig.Model = config.Model
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: config.InterimResults,
			},
		},
	}); err != nil {
		cancel()
		client.Close()
		return nil, startupFailure("send streaming config", err)
	}

	r := &GoogleRuntime{
		client:   client,
		stream:   stream,
		cancel:   cancel,
		events:   newEventStream(),
		logger:   logger,
		grace:    closeGrace,
		readDone: make(chan struct{}),
	}
	go r.receiveResults()

	logger.Info("Google speech stream opened", zap.String("language", language))
	return r, nil
}

func (r *GoogleRuntime) receiveResults() {
	defer close(r.readDone)
	defer close(r.events.events)

	for {
		resp, err := r.stream.Recv()
		if err == io.EOF {
			r.mu.Lock()
			if !r.closing {
				r.err = ioFailure("receive speech results", errors.New("stream ended by server"))
			}
			r.mu.Unlock()
			return
		}
		if err != nil {
			r.mu.Lock()
			if !r.closing {
				r.err = ioFailure("receive speech results", err)
			}
			r.mu.Unlock()
			return
		}

		for _, result := range resp.GetResults() {
			ev, ok := googleEvent(result)
			if !ok {
				continue
			}
			if !r.events.send(ev) {
				return
			}
		}
	}
}

func googleEvent(result *speechpb.StreamingRecognitionResult) (entities.TranscriptEvent, bool) {
	alts := result.GetAlternatives()
	if len(alts) == 0 {
		return entities.TranscriptEvent{}, false
	}
	text := strings.TrimSpace(alts[0].GetTranscript())
	if text == "" {
		return entities.TranscriptEvent{}, false
	}

	ev := entities.TranscriptEvent{
		Text:   text,
		Status: entities.CaptionStatusInterim,
		Source: "SPK",
	}
	if result.GetIsFinal() {
		ev.Status = entities.CaptionStatusFinal
	}
	if end := result.GetResultEndTime(); end != nil {
		ev.Cursor, ev.HasCursor = end.AsDuration(), true
	}

	// speaker tags are 1-based and only populated on final results
	var speakers []int
	for _, w := range alts[0].GetWords() {
		if tag := w.GetSpeakerTag(); tag > 0 {
			speakers = append(speakers, int(tag)-1)
		}
	}
	if id, ok := majoritySpeaker(speakers); ok {
		ev.Source = speakerLabel(id)
	}
	return ev, true
}

func (r *GoogleRuntime) SendAudio(samples []int16) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if r.sendDone {
		return ioFailure("send audio", errors.New("stream already finalized"))
	}
	if err := r.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio.EncodeLE(samples),
		},
	}); err != nil {
		return ioFailure("send audio", err)
	}
	return nil
}

// KeepAlive is a no-op; the stream is bounded by the service, not by idleness
func (r *GoogleRuntime) KeepAlive() error { return nil }

// Finalize half-closes the stream so the service returns its final results
func (r *GoogleRuntime) Finalize() error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if r.sendDone {
		return nil
	}
	r.sendDone = true
	if err := r.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

func (r *GoogleRuntime) Events() <-chan entities.TranscriptEvent { return r.events.events }

func (r *GoogleRuntime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *GoogleRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closing = true
		r.mu.Unlock()

		if finErr := r.Finalize(); finErr != nil {
			r.logger.Debug("Finalize on close failed", zap.Error(finErr))
		}
		select {
		case <-r.readDone:
		case <-time.After(r.grace):
			r.logger.Warn("Google speech stream did not end in time, cancelling")
			close(r.events.abandon)
		}
		r.cancel()
		<-r.readDone
		if closeErr := r.client.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close speech client: %w", closeErr)
		}
	})
	return err
}

func (r *GoogleRuntime) Provider() string { return ProviderGoogle }
