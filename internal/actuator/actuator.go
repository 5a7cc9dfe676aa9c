// Package actuator implements a speed-limited point-to-point actuator model.
//
// The model moves linearly from a start position toward a target position
// at a fixed speed. Position queries between the start of motion and its
// completion return interpolated intermediate values, so a simulated device
// polled mid-move reports monotonically progressing positions instead of an
// instant jump to the target.
package actuator

import (
	"sync"
	"time"
)

// PointToPoint models a single axis moving between positions in native
// device steps at a constant speed. The zero value is not usable; create
// instances with New. All methods are safe for concurrent use.
type PointToPoint struct {
	mu sync.Mutex

	minPos int64
	maxPos int64
	speed  float64 // steps per second, > 0

	startPos  int64
	targetPos int64
	startTime time.Time
}

// New creates an actuator with the given travel bounds and speed in steps
// per second. The actuator starts at rest at minPos. Speed values <= 0 are
// treated as instantaneous motion.
func New(minPos, maxPos int64, speed float64) *PointToPoint {
	return &PointToPoint{
		minPos:    minPos,
		maxPos:    maxPos,
		speed:     speed,
		startPos:  minPos,
		targetPos: minPos,
		startTime: time.Now(),
	}
}

// SetTarget starts a move from the current position toward target,
// clamped to the travel bounds. It returns the clamped target.
func (a *PointToPoint) SetTarget(target int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	cur := a.positionAt(now)

	if target < a.minPos {
		target = a.minPos
	} else if target > a.maxPos {
		target = a.maxPos
	}

	a.startPos = cur
	a.targetPos = target
	a.startTime = now

	return target
}

// Position returns the current interpolated position.
func (a *PointToPoint) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.positionAt(time.Now())
}

// Target returns the position the actuator is moving toward.
func (a *PointToPoint) Target() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.targetPos
}

// Moving reports whether the actuator has not yet reached its target.
func (a *PointToPoint) Moving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.positionAt(time.Now()) != a.targetPos
}

// Stop halts motion at the current interpolated position and returns it.
func (a *PointToPoint) Stop() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	cur := a.positionAt(now)
	a.startPos = cur
	a.targetPos = cur
	a.startTime = now

	return cur
}

// Jump moves the actuator instantly to pos, clamped to the travel bounds.
// Used to seed simulated device state.
func (a *PointToPoint) Jump(pos int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pos < a.minPos {
		pos = a.minPos
	} else if pos > a.maxPos {
		pos = a.maxPos
	}

	a.startPos = pos
	a.targetPos = pos
	a.startTime = time.Now()
}

// positionAt computes the interpolated position at time t.
// Callers must hold a.mu.
func (a *PointToPoint) positionAt(t time.Time) int64 {
	if a.startPos == a.targetPos {
		return a.targetPos
	}
	if a.speed <= 0 {
		return a.targetPos
	}

	elapsed := t.Sub(a.startTime).Seconds()
	if elapsed <= 0 {
		return a.startPos
	}

	travelled := int64(elapsed * a.speed)
	if a.targetPos > a.startPos {
		pos := a.startPos + travelled
		if pos >= a.targetPos {
			return a.targetPos
		}
		return pos
	}

	pos := a.startPos - travelled
	if pos <= a.targetPos {
		return a.targetPos
	}
	return pos
}
