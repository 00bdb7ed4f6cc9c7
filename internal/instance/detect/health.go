package detect

import (
	"fmt"
	"time"
)

// Status is the health classification of one process.
type Status int

const (
	// StatusHealthy means every measure is inside its warning band.
	StatusHealthy Status = iota
	// StatusWarning means a measure is approaching its hard limit.
	StatusWarning
	// StatusCritical means a hard limit was exceeded; the process must be killed.
	StatusCritical
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds holds the limits used for classification.
type Thresholds struct {
	// MaxMemoryBytes is the hard resident-memory limit.
	MaxMemoryBytes int64

	// MaxRuntime is the hard wall-clock limit since spawn.
	MaxRuntime time.Duration

	// HangTimeout is the hard limit on time since last activity.
	HangTimeout time.Duration

	// HangWarning is the softer idle limit that only produces a warning.
	HangWarning time.Duration

	// WarnRatio is the fraction of a hard limit at which a warning starts.
	WarnRatio float64
}

// DefaultThresholds returns the standard worker limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxMemoryBytes: 512 * 1024 * 1024,
		MaxRuntime:     900 * time.Second,
		HangTimeout:    480 * time.Second,
		HangWarning:    180 * time.Second,
		WarnRatio:      0.8,
	}
}

// Input is one observation of a tracked process.
type Input struct {
	Now          time.Time
	SpawnedAt    time.Time
	LastActivity time.Time
	RSSBytes     int64
}

// Uptime returns the time since spawn.
func (in Input) Uptime() time.Duration { return in.Now.Sub(in.SpawnedAt) }

// Idle returns the time since last activity.
func (in Input) Idle() time.Duration { return in.Now.Sub(in.LastActivity) }

// Assessment is the result of classifying one Input.
type Assessment struct {
	Status Status
	Reason string
}

// HealthDetector classifies process observations against fixed thresholds.
// It is stateless and safe for concurrent use.
type HealthDetector struct {
	thresholds Thresholds
}

// NewHealthDetector creates a detector. Zero-valued thresholds fall back to
// their defaults.
func NewHealthDetector(t Thresholds) *HealthDetector {
	def := DefaultThresholds()
	if t.MaxMemoryBytes <= 0 {
		t.MaxMemoryBytes = def.MaxMemoryBytes
	}
	if t.MaxRuntime <= 0 {
		t.MaxRuntime = def.MaxRuntime
	}
	if t.HangTimeout <= 0 {
		t.HangTimeout = def.HangTimeout
	}
	if t.HangWarning <= 0 {
		t.HangWarning = def.HangWarning
	}
	if t.WarnRatio <= 0 || t.WarnRatio >= 1 {
		t.WarnRatio = def.WarnRatio
	}
	return &HealthDetector{thresholds: t}
}

// Thresholds returns a copy of the detector's limits.
func (d *HealthDetector) Thresholds() Thresholds {
	return d.thresholds
}

// Classify evaluates in against the thresholds.
// Critical checks are prioritized: memory > runtime > hang.
func (d *HealthDetector) Classify(in Input) Assessment {
	t := d.thresholds
	uptime, idle := in.Uptime(), in.Idle()

	switch {
	case in.RSSBytes > t.MaxMemoryBytes:
		return Assessment{StatusCritical, fmt.Sprintf("memory %s exceeds limit %s",
			FormatMB(in.RSSBytes), FormatMB(t.MaxMemoryBytes))}
	case uptime > t.MaxRuntime:
		return Assessment{StatusCritical, fmt.Sprintf("runtime %s exceeds limit %s",
			formatSeconds(uptime), formatSeconds(t.MaxRuntime))}
	case idle > t.HangTimeout:
		return Assessment{StatusCritical, fmt.Sprintf("no activity for %s exceeds hang limit %s",
			formatSeconds(idle), formatSeconds(t.HangTimeout))}
	}

	switch {
	case float64(in.RSSBytes) > float64(t.MaxMemoryBytes)*t.WarnRatio:
		return Assessment{StatusWarning, fmt.Sprintf("memory %s approaching limit %s",
			FormatMB(in.RSSBytes), FormatMB(t.MaxMemoryBytes))}
	case float64(uptime) > float64(t.MaxRuntime)*t.WarnRatio:
		return Assessment{StatusWarning, fmt.Sprintf("runtime %s approaching limit %s",
			formatSeconds(uptime), formatSeconds(t.MaxRuntime))}
	case float64(idle) > float64(t.HangTimeout)*t.WarnRatio, idle > t.HangWarning:
		return Assessment{StatusWarning, fmt.Sprintf("no activity for %s (warning at %s)",
			formatSeconds(idle), formatSeconds(t.HangWarning))}
	}

	return Assessment{Status: StatusHealthy}
}

// FormatMB renders a byte count as megabytes with one decimal.
func FormatMB(b int64) string {
	return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}
