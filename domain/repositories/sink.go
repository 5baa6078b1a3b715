package repositories

import (
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
)

// Connection states reported while a recording runs
const (
	StatusReconnecting = "reconnecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// CaptionSink receives transcript events as they are recognized
type CaptionSink interface {
	EmitCaption(source string, status entities.CaptionStatus, text string, at time.Time)
}

// StatusSink receives coarse connection state transitions
type StatusSink interface {
	EmitStatus(status string)
}
