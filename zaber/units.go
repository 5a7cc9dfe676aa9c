package zaber

import "math"

// Units converts between physical distance units and native device steps
// for one stage model. StepsPerUnit is the device step count per physical
// unit; HomeOffset is the physical position of the home reference.
type Units struct {
	StepsPerUnit float64
	HomeOffset   float64
}

// Steps converts a physical position to the nearest native step count.
func (u Units) Steps(pos float64) int64 {
	return int64(math.Round((pos - u.HomeOffset) * u.StepsPerUnit))
}

// StepsRel converts a physical distance to the nearest native step delta.
// The home offset does not apply to relative distances.
func (u Units) StepsRel(dist float64) int64 {
	return int64(math.Round(dist * u.StepsPerUnit))
}

// Position converts a native step count to a physical position.
func (u Units) Position(steps int64) float64 {
	return float64(steps)/u.StepsPerUnit + u.HomeOffset
}
