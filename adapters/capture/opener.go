package capture

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/internal/pipeline"
	"github.com/satriahrh/livecaption/internal/procutil"
)

// DeviceOpener opens a native input device by id
type DeviceOpener interface {
	OpenDevice(label, id string) (*DeviceSource, error)
}

// Opener opens the sources chosen by pipeline.PlanSources
type Opener struct {
	devices DeviceOpener
	process ProcessConfig
	spawner procutil.Spawner
	logger  *zap.Logger
}

// NewOpener creates an Opener. devices may be nil when no audio backend is
// available, in which case device sources fail to open.
func NewOpener(devices DeviceOpener, process ProcessConfig, spawner procutil.Spawner, logger *zap.Logger) *Opener {
	return &Opener{
		devices: devices,
		process: process,
		spawner: spawner,
		logger:  logger,
	}
}

// Open implements pipeline.SourceOpener
func (o *Opener) Open(ctx context.Context, spec pipeline.SourceSpec) (pipeline.Source, error) {
	switch spec.Kind {
	case pipeline.SourceProcess:
		return NewProcessSource(ctx, spec.Label, o.process, o.spawner, o.logger)
	case pipeline.SourceDevice:
		if o.devices == nil {
			return nil, fmt.Errorf("%s audio backend unavailable", spec.Label)
		}
		o.logger.Info("Opening capture device",
			zap.String("source", spec.Label),
			zap.String("device", spec.DeviceName))
		return o.devices.OpenDevice(spec.Label, spec.DeviceID)
	}
	return nil, fmt.Errorf("%s unknown source kind %d", spec.Label, spec.Kind)
}
