// Package detection holds the live detection state and renders it
package detection

import (
	"math"

	"github.com/agile-defense/droneview/pkg/messages"
)

// Threshold is the score at or above which a drone is reported
const Threshold = 0.7

// State is the latest detection reported by the backend
type State struct {
	Score     float64 `json:"score"`
	Timestamp string  `json:"timestamp,omitempty"`
	UAVType   string  `json:"uav_type,omitempty"`
}

// FromInfo converts a decoded wire record into view state
func FromInfo(info messages.DetectionInfo) State {
	return State{
		Score:     info.Score,
		Timestamp: info.Timestamp,
		UAVType:   info.UAVType,
	}
}

// Detected reports whether the score clears the threshold
func (s State) Detected() bool {
	return s.Score >= Threshold
}

// Percent returns the confidence as a whole percentage
func (s State) Percent() int {
	return int(math.Round(s.Score * 100))
}
