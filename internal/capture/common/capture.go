package common

import (
	"fmt"
	"time"
)

// InterfaceDescriptor is one entry of the capture tool's interface listing.
type InterfaceDescriptor struct {
	Index       int    // 1-based number assigned by the tool
	Name        string // e.g. "eth0" or "\Device\NPF_{...}"
	Description string // may be empty
}

func (d InterfaceDescriptor) String() string {
	if d.Description == "" {
		return fmt.Sprintf("%d. %s", d.Index, d.Name)
	}
	return fmt.Sprintf("%d. %s (%s)", d.Index, d.Name, d.Description)
}

// CaptureConfig holds the per-run options of a capture.
type CaptureConfig struct {
	Duration    time.Duration // Zero means run until stopped
	OutputPath  string        // Capture file to write; empty means no file
	Filter      string        // Capture filter, passed to the tool uninterpreted
	Promiscuous bool          // Leave promiscuous mode on (tshark disables it with -p by default here)
}

// State is the lifecycle state of a capture session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CaptureResult describes a finished capture run.
type CaptureResult struct {
	SessionID  string
	Interface  InterfaceDescriptor
	OutputPath string
	Filter     string
	StartTime  time.Time
	EndTime    time.Time
	Stopped    bool  // true when ended by Stop or duration, false on natural exit
	Error      error // process failure, if any
}

// Statistics is the parsed "io,stat,0" summary of a capture file.
type Statistics struct {
	Duration float64 // seconds
	Interval float64 // seconds
	Frames   int64
	Bytes    int64
}

// Map returns the statistics keyed by metric name.
func (s Statistics) Map() map[string]float64 {
	return map[string]float64{
		"duration": s.Duration,
		"interval": s.Interval,
		"frames":   float64(s.Frames),
		"bytes":    float64(s.Bytes),
	}
}
