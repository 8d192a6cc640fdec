package fetch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAllStrategiesExhausted is returned when every strategy in a chain failed
	ErrAllStrategiesExhausted = errors.New("all fetch strategies exhausted")

	// ErrRetriesExhausted is returned when every retry attempt failed
	ErrRetriesExhausted = errors.New("fetch retries exhausted")
)

// Outcome of a single strategy attempt
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
)

// Attempt records one strategy attempt within a chain
type Attempt struct {
	URL           string
	StrategyIndex int
	Strategy      string
	StartedAt     time.Time
	Duration      time.Duration
	Outcome       Outcome
	StatusCode    int
	Err           string
}

// ChainError lists every failed attempt of an exhausted chain
type ChainError struct {
	URL      string
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Outcome == OutcomeHTTPError {
			parts = append(parts, fmt.Sprintf("%s: status %d", a.Strategy, a.StatusCode))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Err))
		}
	}
	return fmt.Sprintf("%s for %s (%s)", ErrAllStrategiesExhausted, e.URL, strings.Join(parts, "; "))
}

func (e *ChainError) Unwrap() error {
	return ErrAllStrategiesExhausted
}
