package repositories

import (
	"github.com/satriahrh/livecaption/domain/entities"
)

// StreamingConfig carries the settings a transcription backend is started with
type StreamingConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	Language       string `json:"language"`
	SampleRate     int    `json:"sample_rate"`
	ChunkMs        int    `json:"chunk_ms"`
	InterimResults bool   `json:"interim_results"`
	EndpointingMs  int    `json:"endpointing_ms"`
}

// TranscriptionRuntime is a started streaming speech-to-text backend.
// Audio is mono int16 PCM at StreamingConfig.SampleRate.
type TranscriptionRuntime interface {
	// SendAudio forwards one chunk. An error means the backend is unusable.
	SendAudio(samples []int16) error
	// KeepAlive is called on an idle tick; backends without idle timeouts ignore it
	KeepAlive() error
	// Finalize asks the backend to flush pending recognition
	Finalize() error
	// Events yields transcript events and is closed when the backend ends
	Events() <-chan entities.TranscriptEvent
	// Err reports why Events was closed, nil on a clean end
	Err() error
	// Close releases the process or connection within a bounded time
	Close() error
	Provider() string
}
