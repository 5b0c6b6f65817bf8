// Package flow estimates the current flow rate from consecutive total volume
// readings.
package flow

import "time"

// MinHours is the smallest interval a rate is computed over. Two readings
// within the same few seconds would otherwise produce a meaningless rate.
const MinHours = 0.001

// Estimator remembers the previous total. The zero value has no history.
type Estimator struct {
	total float64
	at    time.Time
	valid bool
}

// Update records a new total and returns the flow in litres per hour since the
// previous one. ok is false when there is no previous reading, the elapsed
// time is too short, or the total went backwards. The new total is stored
// either way.
func (e *Estimator) Update(totalM3 float64, at time.Time) (lph float64, ok bool) {
	if e.valid {
		litres := (totalM3 - e.total) * 1000
		hours := float64(at.Sub(e.at).Milliseconds()) / 3600000

		if hours > MinHours && litres >= 0 {
			lph, ok = litres/hours, true
		}
	}

	e.total, e.at, e.valid = totalM3, at, true

	return
}

// State returns the stored total and its time, ok is false before the first
// Update.
func (e *Estimator) State() (totalM3 float64, at time.Time, ok bool) {
	return e.total, e.at, e.valid
}

// Reset forgets the stored total.
func (e *Estimator) Reset() {
	*e = Estimator{}
}
