package chanlun

import (
	"errors"
	"fmt"
	"time"

	"chanlun-engine/internal/model"
)

// Sentinel errors for errors.Is checks.
var (
	ErrMalformedBar        = errors.New("malformed bar")
	ErrOutOfOrder          = errors.New("bar out of order")
	ErrCorrectionExhausted = errors.New("stroke correction exhausted")
	ErrHalted              = errors.New("engine halted")
	ErrInvalidGapThreshold = errors.New("gap threshold must be at least 1")
	ErrSnapshotMismatch    = errors.New("snapshot incompatible with engine config")
)

// MalformedBarError reports a bar that failed boundary validation.
type MalformedBarError struct {
	Bar    model.Bar
	Field  string
	Reason string
}

func (e *MalformedBarError) Error() string {
	return fmt.Sprintf("malformed bar %s@%s: %s %s", e.Bar.Symbol, e.Bar.TS.Format(time.RFC3339), e.Field, e.Reason)
}

func (e *MalformedBarError) Is(target error) bool { return target == ErrMalformedBar }

// OutOfOrderError reports a bar whose timestamp does not advance.
type OutOfOrderError struct {
	Last time.Time
	Got  time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("bar out of order: got %s, last accepted %s",
		e.Got.Format(time.RFC3339Nano), e.Last.Format(time.RFC3339Nano))
}

func (e *OutOfOrderError) Is(target error) bool { return target == ErrOutOfOrder }

// CorrectionExhaustedError is returned when invalidation unwinds the effective
// stroke list down to its root and the root is still violated.
// The engine state is left as it was before the offending update, and the
// engine halts.
type CorrectionExhaustedError struct {
	Root model.PivotPoint `json:"root"` // the remaining effective entry
	At   model.PivotPoint `json:"at"`   // the fractal that triggered correction
}

func (e *CorrectionExhaustedError) Error() string {
	return fmt.Sprintf("stroke correction exhausted: root %s pivot at %s (%.6g) violated by %s pivot at %s (%.6g)",
		e.Root.Kind, e.Root.TS.Format(time.RFC3339), e.Root.Price,
		e.At.Kind, e.At.TS.Format(time.RFC3339), e.At.Price)
}

func (e *CorrectionExhaustedError) Is(target error) bool { return target == ErrCorrectionExhausted }

// HaltedError is returned for every bar offered to a halted engine.
type HaltedError struct {
	Cause *CorrectionExhaustedError
}

func (e *HaltedError) Error() string {
	return "engine halted until reset: " + e.Cause.Error()
}

func (e *HaltedError) Is(target error) bool { return target == ErrHalted }

func (e *HaltedError) Unwrap() error { return e.Cause }
