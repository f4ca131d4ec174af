package router

import (
	"fmt"
	"math"
)

// Level is a routing destination ordered from most to least cache confidence.
type Level int

const (
	LevelValidate    Level = 1
	LevelContext     Level = 2
	LevelSpecialized Level = 3
	LevelGeneral     Level = 4
)

const numLevels = 4

func (l Level) String() string {
	switch l {
	case LevelValidate:
		return "validate"
	case LevelContext:
		return "context"
	case LevelSpecialized:
		return "specialized"
	case LevelGeneral:
		return "general"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) valid() bool {
	return l >= LevelValidate && l <= LevelGeneral
}

// Thresholds partition similarity scores into levels. Each level includes its
// lower bound: High <= s selects LevelValidate, Medium <= s < High selects
// LevelContext, Low <= s < Medium selects LevelSpecialized.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Medium: 0.70, Low: 0.50}
}

func (t Thresholds) Validate() error {
	for _, v := range []float64{t.High, t.Medium, t.Low} {
		if math.IsNaN(v) {
			return fmt.Errorf("routing thresholds must be numbers")
		}
	}
	if !(t.High <= 1 && t.High > t.Medium && t.Medium > t.Low && t.Low >= 0) {
		return fmt.Errorf("routing thresholds must satisfy 1 >= high > medium > low >= 0, got %.3f/%.3f/%.3f", t.High, t.Medium, t.Low)
	}
	return nil
}

// Select maps a best-match score to a level. A nil score means no match and
// always selects LevelGeneral.
func (t Thresholds) Select(score *float64) Level {
	if score == nil || math.IsNaN(*score) {
		return LevelGeneral
	}
	s := *score
	switch {
	case s >= t.High:
		return LevelValidate
	case s >= t.Medium:
		return LevelContext
	case s >= t.Low:
		return LevelSpecialized
	default:
		return LevelGeneral
	}
}
