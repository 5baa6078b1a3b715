package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain"
	"github.com/satriahrh/livecaption/domain/entities"
)

// SourceKind is how a source acquires audio
type SourceKind int

const (
	// SourceDevice captures from a native input device
	SourceDevice SourceKind = iota + 1
	// SourceProcess reads PCM from the screen-capture helper
	SourceProcess
)

func (k SourceKind) String() string {
	switch k {
	case SourceDevice:
		return "device"
	case SourceProcess:
		return "process"
	}
	return "unknown"
}

// SourceSpec describes a source to open
type SourceSpec struct {
	Label      string
	Kind       SourceKind
	DeviceID   string
	DeviceName string
}

// PlanConfig is the part of the settings that decides which sources to open
type PlanConfig struct {
	MicInput    string
	SystemAudio string
	// DefaultInput reports that a capture backend is present, so the host's
	// default input can be opened even when enumeration lists nothing.
	DefaultInput bool
}

const (
	screenCaptureMode = "screen_capture"
	virtualAudioMode  = "virtual_audio"
	disabledMode      = "none"
)

var loopbackKeywords = []string{
	"blackhole",
	"loopback",
	"soundflower",
	"vb-audio",
	"virtual",
	"background music",
}

// PlanSources decides the capture sources for a recording, MIC first.
// It fails with NoInputSource when nothing usable is configured or found.
func PlanSources(cfg PlanConfig, devices []entities.CaptureDevice, logger *zap.Logger) ([]SourceSpec, error) {
	var specs []SourceSpec
	micName := ""

	if mic, ok := SelectMic(devices, cfg.MicInput, logger); ok {
		micName = mic.Name
		specs = append(specs, SourceSpec{
			Label:      entities.SourceMic,
			Kind:       SourceDevice,
			DeviceID:   mic.ID,
			DeviceName: mic.Name,
		})
	} else if !isDisabled(cfg.MicInput) && cfg.DefaultInput && len(devices) == 0 {
		logger.Info("No capture devices enumerated, using the default input device")
		specs = append(specs, SourceSpec{
			Label:      entities.SourceMic,
			Kind:       SourceDevice,
			DeviceName: "default",
		})
	} else if !isDisabled(cfg.MicInput) {
		logger.Warn("Microphone input device was not found, continuing without MIC source")
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.SystemAudio))
	switch {
	case mode == disabledMode:
	case mode == screenCaptureMode:
		specs = append(specs, SourceSpec{Label: entities.SourceSys, Kind: SourceProcess, DeviceName: screenCaptureMode})
		logger.Info("Using screen capture helper for system audio")
	default:
		if sys, ok := SelectSystem(devices, cfg.SystemAudio, micName); ok {
			logger.Info("Using system audio input device", zap.String("device", sys.Name))
			specs = append(specs, SourceSpec{
				Label:      entities.SourceSys,
				Kind:       SourceDevice,
				DeviceID:   sys.ID,
				DeviceName: sys.Name,
			})
		} else {
			logger.Warn("System audio source was not found, select screen_capture or install a loopback device")
		}
	}

	if len(specs) == 0 {
		return nil, domain.NewPipelineError(domain.KindNoInputSource, "plan sources", nil)
	}
	return specs, nil
}

// SelectMic matches filter as a case-insensitive substring of device names,
// falling back to the default input device. "none" disables the microphone.
func SelectMic(devices []entities.CaptureDevice, filter string, logger *zap.Logger) (entities.CaptureDevice, bool) {
	configured := strings.ToLower(strings.TrimSpace(filter))
	if configured == disabledMode {
		return entities.CaptureDevice{}, false
	}

	if configured != "" && configured != "default" {
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), configured) {
				return d, true
			}
		}
		logger.Warn("Configured mic_input was not found, falling back to default input device",
			zap.String("micInput", filter))
	}

	for _, d := range devices {
		if d.IsDefault {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return entities.CaptureDevice{}, false
}

// SelectSystem picks a loopback-style device for system audio, never the
// microphone's own device. A configured name substring wins over keywords.
func SelectSystem(devices []entities.CaptureDevice, mode string, micName string) (entities.CaptureDevice, bool) {
	micLower := strings.ToLower(micName)
	candidates := make([]entities.CaptureDevice, 0, len(devices))
	for _, d := range devices {
		if micLower != "" && strings.ToLower(d.Name) == micLower {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return entities.CaptureDevice{}, false
	}

	configured := strings.ToLower(strings.TrimSpace(mode))
	if configured != "" && configured != screenCaptureMode && configured != virtualAudioMode {
		for _, d := range candidates {
			if strings.Contains(strings.ToLower(d.Name), configured) {
				return d, true
			}
		}
	}

	for _, d := range candidates {
		lower := strings.ToLower(d.Name)
		for _, kw := range loopbackKeywords {
			if strings.Contains(lower, kw) {
				return d, true
			}
		}
	}
	return entities.CaptureDevice{}, false
}

func isDisabled(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), disabledMode)
}
