package splitembed

import (
	"errors"
	"fmt"

	"github.com/hupe1980/splitembed/lxu"
	"github.com/hupe1980/splitembed/optim"
	"github.com/hupe1980/splitembed/pipeline"
	"github.com/hupe1980/splitembed/placement"
)

var (
	// ErrConfiguration marks invalid construction-time configuration:
	// misaligned dims, incompatible optimizer combinations, unknown
	// cache algorithms. Fatal, never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCapacity is returned when the cache cannot fit even one set
	// within the memory budget. Fatal at construction.
	ErrCapacity = errors.New("insufficient cache capacity")

	// ErrPipelineMisuse is returned when prefetch calls outpace forward
	// passes beyond the pipeline depth. Indicates a caller bug.
	ErrPipelineMisuse = errors.New("prefetch pipeline misuse")

	// ErrUnsupported is returned when a state surface is requested for
	// an optimizer variant that does not provide one.
	ErrUnsupported = errors.New("unsupported operation")
)

// translateError maps sub-package errors onto the public taxonomy. The
// original error stays reachable via errors.Unwrap / errors.Is.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dim *placement.ErrDimNotAligned
	if errors.As(err, &dim) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if errors.Is(err, optim.ErrInvalidConfig) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var sets *lxu.ErrTooManySets
	if errors.As(err, &sets) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if errors.Is(err, lxu.ErrCacheCapacity) {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}

	var misuse *pipeline.MisuseError
	if errors.As(err, &misuse) {
		return fmt.Errorf("%w: %w", ErrPipelineMisuse, err)
	}

	if errors.Is(err, optim.ErrNoSuchState) {
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	return err
}
