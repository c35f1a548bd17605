// Package rover holds the value types shared by the console and the
// vehicle: commands, control modes, detection boxes and task results.
package rover

// Direction identifies a motion primitive the vehicle understands.
type Direction string

// Directions accepted by the vehicle.
const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
)

// AllDirections returns all directions in pad order (up, left, right, down).
func AllDirections() []Direction {
	return []Direction{
		Forward,
		Left,
		Right,
		Backward,
	}
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case Forward, Backward, Left, Right:
		return true
	}
	return false
}

// Opposite returns the direction that reverses d.
func (d Direction) Opposite() Direction {
	switch d {
	case Forward:
		return Backward
	case Backward:
		return Forward
	case Left:
		return Right
	case Right:
		return Left
	}
	return ""
}
