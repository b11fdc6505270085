package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a caller error: wrong kinds, bad bounds
	// or an empty request set. Retrying will not help.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientCapacity indicates a host lacks residual capacity for
	// a demand.
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	// ErrNoPathsGenerated indicates path-based placement was attempted on a
	// substrate with no usable paths.
	ErrNoPathsGenerated = errors.New("no paths generated")
)

// CapacityError describes which element could not satisfy a demand.
type CapacityError struct {
	ElementID string
	Demand    string
	Residual  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %q needs %s, has %s", ErrInsufficientCapacity, e.ElementID, e.Demand, e.Residual)
}

// Unwrap lets errors.Is match ErrInsufficientCapacity.
func (e *CapacityError) Unwrap() error { return ErrInsufficientCapacity }

// NewServerCapacityError reports a server residual that cannot cover demand.
func NewServerCapacityError(id string, demand, residual Resources) *CapacityError {
	return &CapacityError{ElementID: id, Demand: demand.String(), Residual: residual.String()}
}

// NewBandwidthCapacityError reports a link or path residual that cannot
// cover a bandwidth demand.
func NewBandwidthCapacityError(id string, demand, residual int64) *CapacityError {
	return &CapacityError{
		ElementID: id,
		Demand:    fmt.Sprintf("bw=%d", demand),
		Residual:  fmt.Sprintf("bw=%d", residual),
	}
}
