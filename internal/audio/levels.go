package audio

import (
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	// DBFSFloor is reported for silence and empty input
	DBFSFloor = -120.0

	dominantThresholdDB = 3.0

	// DiagnosticInterval is the length of one diagnostics window
	DiagnosticInterval = time.Second
	// DropLogInterval limits how often drop counters are logged
	DropLogInterval = 2 * time.Second

	// LatencyWarnThreshold is the backend lag at which warnings start
	LatencyWarnThreshold = 1500 * time.Millisecond
	// LatencyWarnStep is the lag increase that triggers a repeated warning
	LatencyWarnStep = 500 * time.Millisecond
)

// Dominance names the louder source over a diagnostics window
type Dominance string

const (
	DominanceUnknown  Dominance = "UNKNOWN"
	DominanceMic      Dominance = "MIC"
	DominanceSys      Dominance = "SYS"
	DominanceBalanced Dominance = "BALANCED"
)

// RMSDBFS returns the RMS level of samples relative to full scale, floored at DBFSFloor
func RMSDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return DBFSFloor
	}
	var power float64
	for _, s := range samples {
		v := float64(s)
		power += v * v
	}
	rms := math.Sqrt(power / float64(len(samples)))
	if rms <= 0 {
		return DBFSFloor
	}
	normalized := math.Min(math.Max(rms/math.MaxInt16, 1e-9), 1)
	return math.Max(20*math.Log10(normalized), DBFSFloor)
}

// DominantSource compares average mic and system levels in dBFS
func DominantSource(micDB, sysDB float64) Dominance {
	delta := micDB - sysDB
	switch {
	case delta > dominantThresholdDB:
		return DominanceMic
	case delta < -dominantThresholdDB:
		return DominanceSys
	default:
		return DominanceBalanced
	}
}

// Diagnostics accumulates per-source levels over a window and logs a summary
// once per DiagnosticInterval. It never affects the audio path.
type Diagnostics struct {
	logger       *zap.Logger
	now          func() time.Time
	windowStart  time.Time
	micSum       float64
	micCount     int
	sysSum       float64
	sysCount     int
	lastDominant Dominance
}

// NewDiagnostics creates a diagnostics window starting now
func NewDiagnostics(logger *zap.Logger) *Diagnostics {
	return newDiagnostics(logger, time.Now)
}

func newDiagnostics(logger *zap.Logger, now func() time.Time) *Diagnostics {
	return &Diagnostics{
		logger:       logger,
		now:          now,
		windowStart:  now(),
		lastDominant: DominanceUnknown,
	}
}

// ObserveMic records the level of one microphone chunk
func (d *Diagnostics) ObserveMic(samples []int16) {
	d.micSum += RMSDBFS(samples)
	d.micCount++
}

// ObserveSys records the level of one system-audio chunk
func (d *Diagnostics) ObserveSys(samples []int16) {
	d.sysSum += RMSDBFS(samples)
	d.sysCount++
}

// EmitIfDue logs the window summary when the interval has elapsed and starts a
// new window. lag is the latest backend lag, negative when unknown. It reports
// whether a summary was emitted.
func (d *Diagnostics) EmitIfDue(micBufferFrames, sysBufferFrames int, lag time.Duration) bool {
	if d.now().Sub(d.windowStart) < DiagnosticInterval {
		return false
	}

	micAvg := DBFSFloor
	if d.micCount > 0 {
		micAvg = d.micSum / float64(d.micCount)
	}
	sysAvg := DBFSFloor
	if d.sysCount > 0 {
		sysAvg = d.sysSum / float64(d.sysCount)
	}

	dominant := DominantSource(micAvg, sysAvg)
	if dominant != d.lastDominant {
		d.logger.Info("Mix dominant source changed",
			zap.String("from", string(d.lastDominant)),
			zap.String("to", string(dominant)),
			zap.Float64("micAvgDBFS", micAvg),
			zap.Float64("sysAvgDBFS", sysAvg))
		d.lastDominant = dominant
	}

	fields := []zap.Field{
		zap.Float64("micAvgDBFS", round1(micAvg)),
		zap.Float64("sysAvgDBFS", round1(sysAvg)),
		zap.String("dominant", string(dominant)),
		zap.Int("micBufferMs", FramesToMs(micBufferFrames)),
		zap.Int("sysBufferMs", FramesToMs(sysBufferFrames)),
		zap.Int("micChunks", d.micCount),
		zap.Int("sysChunks", d.sysCount),
	}
	if lag >= 0 {
		fields = append(fields, zap.Int64("backendLagMs", lag.Milliseconds()))
	}
	d.logger.Info("Mix diagnostics", fields...)

	d.windowStart = d.now()
	d.micSum, d.micCount = 0, 0
	d.sysSum, d.sysCount = 0, 0
	return true
}

// Dominant returns the dominant source of the last emitted window
func (d *Diagnostics) Dominant() Dominance {
	return d.lastDominant
}

// LatencyMonitor compares how much audio was sent against how far the
// backend has transcribed, warning when the gap crosses a new step.
type LatencyMonitor struct {
	logger     *zap.Logger
	lastBucket int64
	hasLag     bool
	latest     time.Duration
}

// NewLatencyMonitor creates a monitor with no observations
func NewLatencyMonitor(logger *zap.Logger) *LatencyMonitor {
	return &LatencyMonitor{logger: logger, lastBucket: -1}
}

// Observe records the lag between sentSamples of audio and the backend cursor.
// It returns true when a warning was logged.
func (m *LatencyMonitor) Observe(sentSamples int64, cursor time.Duration) bool {
	sent := time.Duration(sentSamples) * time.Second / SampleRate
	lag := sent - cursor
	if lag < 0 {
		lag = 0
	}
	m.latest = lag
	m.hasLag = true

	if lag < LatencyWarnThreshold {
		m.lastBucket = -1
		return false
	}

	bucket := int64(lag / LatencyWarnStep)
	if bucket == m.lastBucket {
		return false
	}
	m.lastBucket = bucket
	m.logger.Warn("Transcription lag detected",
		zap.Int64("lagMs", lag.Milliseconds()),
		zap.Float64("audioCursorSeconds", sent.Seconds()),
		zap.Float64("transcriptCursorSeconds", cursor.Seconds()))
	return true
}

// Latest returns the most recent lag, or -1 if nothing was observed
func (m *LatencyMonitor) Latest() time.Duration {
	if !m.hasLag {
		return -1
	}
	return m.latest
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
