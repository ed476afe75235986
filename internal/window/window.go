// Package window computes the sliding segment window shown in each published playlist.
package window

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when the window size or segment count cannot
	// produce a window.
	ErrInvalidConfig = errors.New("invalid playlist configuration")

	// ErrSequenceOutOfRange is returned when the current sequence number points
	// outside the segment catalog.
	ErrSequenceOutOfRange = errors.New("sequence number out of range")
)

// Compute returns the 1-based segment indices visible at currentSeq and the
// sequence number to use on the next tick.
//
// The window starts at currentSeq+1 and holds up to windowSize segments, never
// reaching past totalSegments. Once the window's exclusive end reaches
// totalSegments the next sequence restarts at 0, so the final segment of the
// catalog is only shown when windowSize equals totalSegments.
func Compute(currentSeq, totalSegments, windowSize int) ([]int, int, error) {
	if windowSize < 1 {
		return nil, 0, fmt.Errorf("%w: window size must be at least 1, got %d", ErrInvalidConfig, windowSize)
	}
	if totalSegments < 1 {
		return nil, 0, fmt.Errorf("%w: total segments must be at least 1, got %d", ErrInvalidConfig, totalSegments)
	}
	if currentSeq < 0 || currentSeq >= totalSegments {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d]", ErrSequenceOutOfRange, currentSeq, totalSegments-1)
	}

	start := currentSeq + 1
	end := min(start+windowSize, totalSegments+1)

	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}

	next := currentSeq + 1
	if end >= totalSegments {
		next = 0
	}

	return indices, next, nil
}

// CycleLength returns the number of ticks in one pass through the catalog,
// counted from sequence 0 up to and including the tick that resets it.
func CycleLength(totalSegments, windowSize int) (int, error) {
	if windowSize < 1 || totalSegments < 1 {
		return 0, fmt.Errorf("%w: window size %d, total segments %d", ErrInvalidConfig, windowSize, totalSegments)
	}

	// The reset happens at the first seq where seq+1+windowSize >= totalSegments.
	return max(totalSegments-windowSize-1, 0) + 1, nil
}
