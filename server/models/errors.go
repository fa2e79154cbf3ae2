package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataQuality marks a detection that is present but malformed, e.g. a
	// pose frame missing a required joint.
	ErrDataQuality = errors.New("data quality error")

	ErrEmptyInput = errors.New("no modality supplied")

	// ErrNoUsableInput is returned when every supplied modality failed.
	ErrNoUsableInput = errors.New("no supplied modality could be analyzed")

	ErrInvalidMetric = errors.New("invalid metric")

	ErrQueueFull   = errors.New("processing queue full, try again later")
	ErrJobNotFound = errors.New("job not found")
)

// ModalityFailures collects the per-modality errors of a request in which
// no modality succeeded.
type ModalityFailures []error

func (f ModalityFailures) Error() string {
	parts := make([]string, len(f))
	for i, err := range f {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (f ModalityFailures) Unwrap() []error { return f }

// TimedOut reports whether every modality failed on its deadline.
func (f ModalityFailures) TimedOut() bool {
	for _, err := range f {
		if !errors.Is(err, context.DeadlineExceeded) {
			return false
		}
	}
	return len(f) > 0
}

type InvalidLandmarkError struct {
	ID         LandmarkID
	FrameIndex int
}

func (e *InvalidLandmarkError) Error() string {
	return fmt.Sprintf("landmark %d missing from frame %d", int(e.ID), e.FrameIndex)
}

func (e *InvalidLandmarkError) Is(target error) bool {
	return target == ErrDataQuality
}

// GeometryError wraps a landmark lookup failure with the analyzer that hit it.
type GeometryError struct {
	Analyzer Source
	Err      error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s geometry: %v", e.Analyzer, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

type InvalidMetricError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidMetricError) Error() string {
	return fmt.Sprintf("invalid metric %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidMetricError) Is(target error) bool {
	return target == ErrInvalidMetric
}
