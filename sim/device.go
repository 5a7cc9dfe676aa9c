package sim

import (
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/caliblab/linearstage/internal/actuator"
	"github.com/caliblab/linearstage/zaber"
)

// devices retains emulated devices across transport sessions, keyed by
// stage index. A device homed in one session keeps its reference and
// position when the same index reconnects.
var devices = xsync.NewMapOf[int, *Device]()

// deviceFor returns the retained device for the given index, creating it
// on first use.
func deviceFor(index int, minSteps, maxSteps int64, speed float64) *Device {
	d, _ := devices.LoadOrCompute(index, func() *Device {
		return NewDevice(minSteps, maxSteps, speed)
	})

	return d
}

// ResetDevice discards the retained device for the given index. The next
// connection to that index starts from a powered-on, unreferenced device.
func ResetDevice(index int) {
	devices.Delete(index)
}

// Device emulates one stage controller: a speed-limited axis plus the
// protocol behavior around it. Execute never blocks on motion, mirroring a
// real controller that accepts a move and reports BUSY until done. All
// methods are safe for concurrent use.
type Device struct {
	axis     *actuator.PointToPoint
	minSteps int64
	maxSteps int64
	homed    atomic.Bool
	homing   atomic.Bool // home travel in progress
}

// NewDevice creates a device at rest at the low end of its travel, without
// a home reference.
func NewDevice(minSteps, maxSteps int64, speed float64) *Device {
	return &Device{
		axis:     actuator.New(minSteps, maxSteps, speed),
		minSteps: minSteps,
		maxSteps: maxSteps,
	}
}

// inTravel reports whether a step target lies within the device's travel.
func (d *Device) inTravel(steps int64) bool {
	return steps >= d.minSteps && steps <= d.maxSteps
}

// settle latches the reference once a home travel has run to completion.
// A home travel stopped partway never establishes it.
func (d *Device) settle() {
	if d.homing.Load() && !d.axis.Moving() {
		d.homing.Store(false)
		d.homed.Store(true)
	}
}

// Homed reports whether the device holds a home reference.
func (d *Device) Homed() bool {
	d.settle()

	return d.homed.Load()
}

// Position returns the current interpolated axis position in steps.
func (d *Device) Position() int64 {
	return d.axis.Position()
}

// Execute answers one request the way the hardware would. Addressing and
// the message id are echoed back; the warning field carries WR until the
// device establishes a home reference.
func (d *Device) Execute(req *zaber.Request) *zaber.Reply {
	d.settle()

	reply := &zaber.Reply{
		Device:  req.Device,
		Axis:    req.Axis,
		ID:      req.ID,
		Flag:    zaber.FlagOK,
		Status:  zaber.StatusIdle,
		Warning: zaber.NoWarning,
		Data:    "0",
	}

	switch req.Op {
	case zaber.OpHome:
		d.homing.Store(true)
		d.axis.SetTarget(d.minSteps)
		reply.Status = zaber.StatusBusy

	case zaber.OpMoveAbs:
		if !d.inTravel(req.Steps) {
			reply.Flag = zaber.FlagRejected
			reply.Data = "BADDATA"
			break
		}
		d.axis.SetTarget(req.Steps)
		reply.Status = zaber.StatusBusy

	case zaber.OpMoveRel:
		target := d.axis.Position() + req.Steps
		if !d.inTravel(target) {
			reply.Flag = zaber.FlagRejected
			reply.Data = "BADDATA"
			break
		}
		d.axis.SetTarget(target)
		reply.Status = zaber.StatusBusy

	case zaber.OpStop:
		d.axis.Stop()
		d.homing.Store(false)

	case zaber.OpStatus:
		if d.axis.Moving() {
			reply.Status = zaber.StatusBusy
		}

	case zaber.OpGetPos:
		if d.axis.Moving() {
			reply.Status = zaber.StatusBusy
		}
		reply.Data = strconv.FormatInt(d.axis.Position(), 10)

	case zaber.OpWarnings:
		if d.Homed() {
			reply.Data = "0"
		} else {
			reply.Data = "1 WR"
		}

	default:
		reply.Flag = zaber.FlagRejected
		reply.Data = "BADCOMMAND"
	}

	if !d.Homed() {
		reply.Warning = zaber.WarnNoReference
	}

	return reply
}
