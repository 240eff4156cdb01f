package scraper

import (
	"errors"
	"fmt"
)

// ErrInitialization wraps any failure to bring the browser tier up.
var ErrInitialization = errors.New("browser initialization failed")

// BlockedError signals that the target refused us a usable page. It is the
// only error that triggers the browser fallback.
type BlockedError struct {
	StatusCode int
	Reason     string
}

// Error implements error.
func (e *BlockedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("blocked (http %d): %s", e.StatusCode, e.Reason)
	}
	return "blocked: " + e.Reason
}

// Outcome is the coarse classification of a fetch attempt.
type Outcome int

const (
	// OutcomeSuccess means a Result was produced.
	OutcomeSuccess Outcome = iota
	// OutcomeBlocked means the fallback tier should be tried.
	OutcomeBlocked
	// OutcomeTransport covers every other failure.
	OutcomeTransport
)

// String returns the label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// OutcomeOf maps a fetch error onto an Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return OutcomeBlocked
	}
	return OutcomeTransport
}

// IsBlocked reports whether err is, or wraps, a BlockedError.
func IsBlocked(err error) bool {
	return OutcomeOf(err) == OutcomeBlocked
}
