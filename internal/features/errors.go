package features

import "fmt"

// InsufficientDataError reports a series too short to engineer features from.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d observations, need at least %d", e.Have, e.Need)
}

// SchemaMismatchError reports a vector or matrix whose width disagrees with the
// frozen schema. It is fatal for the operation; the engine never pads or truncates.
type SchemaMismatchError struct {
	Want int
	Got  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: want %d columns, got %d", e.Want, e.Got)
}

// InvalidFeatureValueError reports a non-finite or out-of-domain input value,
// caught before anything reaches the scaler.
type InvalidFeatureValueError struct {
	Name   string
	Value  float64
	Reason string
}

func (e *InvalidFeatureValueError) Error() string {
	return fmt.Sprintf("invalid value %v for %q: %s", e.Value, e.Name, e.Reason)
}
