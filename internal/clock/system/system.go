// Package system provides the wall clock used for checkpoints and run summaries.
package system

import (
	"fmt"
	"time"
)

// Clock implements etl.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn returns a Clock reporting times in the named IANA location
// ("UTC", "Local", "America/Toronto").
func NewIn(name string) (*Clock, error) {
	if name == "" {
		return New(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
