package utils

import (
	"math"
	"strconv"
)

// StepDecimals returns the number of decimals implied by a tick or qty step
func StepDecimals(step float64) int {
	if step <= 0 {
		return 0
	}
	dec := 0
	for tmp := step; tmp < 1 && dec < 12; tmp *= 10 {
		dec++
	}
	return dec
}

// RoundToStep rounds v to the nearest multiple of step
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return roundDecimals(math.Round(v/step)*step, StepDecimals(step))
}

// FloorToStep rounds v down to a multiple of step
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	// small epsilon keeps 0.3/0.1 style float noise from dropping a whole step
	return roundDecimals(math.Floor(v/step+1e-9)*step, StepDecimals(step))
}

// FormatToStep formats v with the precision of step
func FormatToStep(v, step float64) string {
	return strconv.FormatFloat(v, 'f', StepDecimals(step), 64)
}

// ParseFloat parses a venue numeric string, returning 0 on empty or bad input
func ParseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func roundDecimals(v float64, dec int) float64 {
	p := math.Pow(10, float64(dec))
	return math.Round(v*p) / p
}
