// Package units defines the system of units used throughout the simulation.
//
// Base units are the millimetre for length and the nanosecond for time. Charge is
// counted in electrons. Multiply a value by a unit to express it in base units and
// divide by the unit to convert back:
//
//	speed := 1.6 * units.MM / units.US
//	fmt.Println(speed / (units.MM / units.US)) // 1.6
package units

// Length
const (
	MM = 1.0
	UM = 1e-3 * MM
	CM = 10.0 * MM
	M  = 1000.0 * MM
)

// Time
const (
	NS = 1.0
	US = 1000.0 * NS
	MS = 1000.0 * US
	S  = 1000.0 * MS
)

// Derived
const (
	CM2     = CM * CM
	CM2PerS = CM2 / S
	MMPerUS = MM / US
)
