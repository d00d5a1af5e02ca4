package domain

import (
	"fmt"
	"time"
)

// Reading is one named numeric observation inside a signal vector.
type Reading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SignalVector is the normalized output of one sensing cycle: an ordered
// sequence of named readings plus the time they were taken. Vectors are
// immutable once produced; engines only ever read them.
type SignalVector struct {
	Readings  []Reading `json:"readings"`
	Timestamp time.Time `json:"timestamp"`
}

// Shape returns the ordered reading names of the vector.
func (v SignalVector) Shape() []string {
	names := make([]string, 0, len(v.Readings))
	for _, r := range v.Readings {
		names = append(names, r.Name)
	}
	return names
}

// Get returns the reading with the given name.
func (v SignalVector) Get(name string) (float64, bool) {
	for _, r := range v.Readings {
		if r.Name == name {
			return r.Value, true
		}
	}
	return 0, false
}

// HasShape reports whether every name in required is present in the vector.
func (v SignalVector) HasShape(required []string) bool {
	for _, name := range required {
		if _, ok := v.Get(name); !ok {
			return false
		}
	}
	return true
}

func (v SignalVector) String() string {
	return fmt.Sprintf("SignalVector(%d readings @ %s)", len(v.Readings), v.Timestamp.Format(time.RFC3339))
}
