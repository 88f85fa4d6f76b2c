package dataset

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one rate to another. The filter tail
// is flushed, so the output covers the whole input.
func Resample(samples []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate == toRate {
		return samples, nil
	}
	output, err := resampling.ResampleMono(samples, float64(fromRate), float64(toRate), resampling.QualityHigh)
	if err != nil {
		return nil, fmt.Errorf("dataset: resample %v to %v: %w", fromRate, toRate, err)
	}
	return output, nil
}
