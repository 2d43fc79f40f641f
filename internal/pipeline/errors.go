package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBuildIntegration is returned when Options.NewBuild is missing or yields nil
	ErrNoBuildIntegration = errors.New("pipeline: no build integration")
	// ErrFactoryMissing is wrapped in a CapabilityError when an enabled feature has no factory
	ErrFactoryMissing = errors.New("factory not registered")
)

// CapabilityError reports a feature whose capability could not be acquired
// or constructed. Assembly stops at the first one.
type CapabilityError struct {
	Feature string
	Err     error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Feature, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}
