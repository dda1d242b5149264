package analysis

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Flag is an advisory signal about a suspicious prediction. Flags never
// change the decision.
type Flag string

const (
	// FlagHighConfidence marks a top probability above the configured
	// threshold, a hint of model or preprocessing bias.
	FlagHighConfidence Flag = "high_confidence"

	// FlagLowDiscrimination marks a near-uniform vector: the model is not
	// separating the classes.
	FlagLowDiscrimination Flag = "low_discrimination"
)

// Thresholds configures Diagnose.
type Thresholds struct {
	HighConfidence float64 // flag when max(probs) > HighConfidence
	LowStdDev      float64 // flag when stddev(probs) < LowStdDev
}

// Diagnose returns the advisory flags raised by probs.
func Diagnose(probs []float64, th Thresholds) []Flag {
	if len(probs) == 0 {
		return nil
	}

	var flags []Flag
	if floats.Max(probs) > th.HighConfidence {
		flags = append(flags, FlagHighConfidence)
	}
	if stat.PopStdDev(probs, nil) < th.LowStdDev {
		flags = append(flags, FlagLowDiscrimination)
	}
	return flags
}
