package stage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caliblab/linearstage/zaber"
)

// StageProfile is the immutable configuration record for one stage model:
// unit conversion, travel limits and home offset. Profiles are selected
// once at startup and never mutated.
type StageProfile struct {
	// Name is the stage model name used for lookup.
	Name string
	// AxisLabel names the axis in telemetry and logs.
	AxisLabel string
	// StepsPerUnit is the native step count per physical unit (mm).
	StepsPerUnit float64
	// MinPosition and MaxPosition bound the physical travel in mm.
	MinPosition float64
	MaxPosition float64
	// HomeOffset is the physical position of the home reference in mm.
	HomeOffset float64
}

// Units returns the codec unit converter for this profile.
func (p StageProfile) Units() zaber.Units {
	return zaber.Units{StepsPerUnit: p.StepsPerUnit, HomeOffset: p.HomeOffset}
}

// InRange reports whether pos lies within the profile's travel limits.
func (p StageProfile) InRange(pos float64) bool {
	return pos >= p.MinPosition && pos <= p.MaxPosition
}

// Validate checks the profile fields are internally consistent.
func (p StageProfile) Validate() error {
	if p.StepsPerUnit <= 0 {
		return fmt.Errorf("profile %q: steps per unit must be positive, got %v", p.Name, p.StepsPerUnit)
	}
	if p.MinPosition >= p.MaxPosition {
		return fmt.Errorf("profile %q: min position %v not below max position %v",
			p.Name, p.MinPosition, p.MaxPosition)
	}
	if !p.InRange(p.HomeOffset) {
		return fmt.Errorf("profile %q: home offset %v outside travel [%v, %v]",
			p.Name, p.HomeOffset, p.MinPosition, p.MaxPosition)
	}
	return nil
}

// profiles is the closed set of supported stage models.
var profiles = map[string]StageProfile{
	"LST0250A-E08": {
		Name:         "LST0250A-E08",
		AxisLabel:    "linear",
		StepsPerUnit: 2015.748,
		MinPosition:  0,
		MaxPosition:  250,
	},
	"LST0500B-T8": {
		Name:         "LST0500B-T8",
		AxisLabel:    "linear",
		StepsPerUnit: 1000.0,
		MinPosition:  0,
		MaxPosition:  500,
	},
	"LST1000D": {
		Name:         "LST1000D",
		AxisLabel:    "linear",
		StepsPerUnit: 500.0,
		MinPosition:  0,
		MaxPosition:  1000,
	},
}

// LookupProfile resolves a configured stage name to its profile.
// Unknown names return an error listing the supported models.
func LookupProfile(name string) (StageProfile, error) {
	if p, ok := profiles[name]; ok {
		return p, nil
	}

	return StageProfile{}, fmt.Errorf("unknown stage %q, supported stages: %s",
		name, strings.Join(ProfileNames(), ", "))
}

// ProfileNames returns the supported stage model names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
