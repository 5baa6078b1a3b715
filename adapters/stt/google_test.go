package stt

import (
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

var _ repositories.TranscriptionRuntime = &GoogleRuntime{}

func TestGoogleEvent(t *testing.T) {
	result := &speechpb.StreamingRecognitionResult{
		IsFinal:       true,
		ResultEndTime: durationpb.New(3 * time.Second),
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{
			Transcript: " see you tomorrow ",
			Words: []*speechpb.WordInfo{
				{Word: "see", SpeakerTag: 2},
				{Word: "you", SpeakerTag: 2},
				{Word: "tomorrow", SpeakerTag: 1},
			},
		}},
	}

	ev, ok := googleEvent(result)
	if !ok {
		t.Fatal("Expected event")
	}
	want := entities.TranscriptEvent{
		Text:      "see you tomorrow",
		Status:    entities.CaptionStatusFinal,
		Source:    "SPK2",
		Cursor:    3 * time.Second,
		HasCursor: true,
	}
	if ev != want {
		t.Errorf("Expected %+v, got %+v", want, ev)
	}
}

func TestGoogleEventInterimWithoutSpeakers(t *testing.T) {
	ev, ok := googleEvent(&speechpb.StreamingRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "see you"}},
	})
	if !ok {
		t.Fatal("Expected event")
	}
	if ev.Status != entities.CaptionStatusInterim || ev.Source != "SPK" || ev.HasCursor {
		t.Errorf("Unexpected event %+v", ev)
	}

	if _, ok := googleEvent(&speechpb.StreamingRecognitionResult{}); ok {
		t.Error("Expected result without alternatives to be skipped")
	}
}
