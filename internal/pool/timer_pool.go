// Package pool provides pooled time.Timer instances for the send and
// reply-wait hot paths, avoiding a timer allocation per command.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // the pool only ever holds *time.Timer
		if t.Reset(d) {
			// Timer was active, drain the channel to prevent a stale fire.
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// PutTimer returns timer to the pool.
//
// t must not be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if it wasn't consumed by the caller.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
