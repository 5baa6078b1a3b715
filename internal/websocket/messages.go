package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Server to viewer
	MessageTypeCaption   MessageType = "caption"
	MessageTypeStatus    MessageType = "status"
	MessageTypeRecording MessageType = "recording"
	MessageTypeAssist    MessageType = "assist"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"

	// Viewer to server
	MessageTypePing MessageType = "ping"
)

// BaseMessage contains common fields for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// CaptionMessage carries one recognized line to viewers
type CaptionMessage struct {
	BaseMessage
	SessionID string                 `json:"session_id,omitempty"`
	Source    string                 `json:"source"`
	Status    entities.CaptionStatus `json:"status"`
	Text      string                 `json:"text"`
	Time      string                 `json:"time"`
}

// StatusMessage reports the transcription connection state
type StatusMessage struct {
	BaseMessage
	Status string `json:"status"`
}

// RecordingMessage reports a change of the recording session state
type RecordingMessage struct {
	BaseMessage
	SessionID string                 `json:"session_id"`
	State     entities.SessionStatus `json:"state"`
	Title     string                 `json:"title,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// AssistMessage carries an assistant reply for a session
type AssistMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
}

// PingMessage is sent by viewers to check the connection
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage answers a ping
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage reports a rejected viewer message
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// NewCaptionMessage builds a caption broadcast
func NewCaptionMessage(sessionID string, entry entities.CaptionEntry) *CaptionMessage {
	return &CaptionMessage{
		BaseMessage: BaseMessage{Type: MessageTypeCaption, Timestamp: now()},
		SessionID:   sessionID,
		Source:      entry.Source,
		Status:      entry.Status,
		Text:        entry.Text,
		Time:        entry.Time.Format("15:04:05"),
	}
}

// NewStatusMessage builds a connection status broadcast
func NewStatusMessage(status string) *StatusMessage {
	return &StatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStatus, Timestamp: now()},
		Status:      status,
	}
}

// NewRecordingMessage builds a session state broadcast
func NewRecordingMessage(session *entities.Session, err error) *RecordingMessage {
	msg := &RecordingMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRecording, Timestamp: now()},
		SessionID:   session.ID,
		State:       session.Status,
		Title:       session.Title,
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// NewAssistMessage builds an assistant reply broadcast
func NewAssistMessage(sessionID string, entry entities.AILogEntry) *AssistMessage {
	return &AssistMessage{
		BaseMessage: BaseMessage{Type: MessageTypeAssist, Timestamp: now()},
		SessionID:   sessionID,
		Kind:        entry.Type,
		Content:     entry.Text,
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, Timestamp: now()},
		Code:        code,
		Message:     message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{Type: MessageTypePong, Timestamp: now()},
		Data:        data,
	}
}

// ParseViewerMessage decodes a message sent by a viewer. Viewers only ping.
func ParseViewerMessage(messageBytes []byte) (*PingMessage, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}
