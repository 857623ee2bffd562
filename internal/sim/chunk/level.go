package chunk

import (
	"fmt"
	"strings"
)

// Level is the detail tier a loaded chunk runs at. Higher values are stronger:
// Ticking > Active > Minimal > Loaded. The zero value is not a level.
type Level uint8

const (
	// Loaded chunks are in memory but run no features; only world generation happens.
	Loaded Level = iota + 1
	// Minimal chunks accept block changes but nothing ticks.
	Minimal
	// Active chunks run most features without per-tick updates.
	Active
	// Ticking chunks get full simulation including entity ticks.
	Ticking
)

var levelNames = map[Level]string{
	Loaded:  "Loaded",
	Minimal: "Minimal",
	Active:  "Active",
	Ticking: "Ticking",
}

// Levels lists every level from strongest to weakest.
var Levels = []Level{Ticking, Active, Minimal, Loaded}

func (l Level) Valid() bool {
	return l >= Loaded && l <= Ticking
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// SuccessiveLevels returns, in order, the levels of the shells surrounding a
// region at level l. Shell n beyond l's own region gets entry n-1.
func (l Level) SuccessiveLevels() []Level {
	switch l {
	case Ticking:
		return []Level{Active, Minimal, Loaded}
	case Active:
		return []Level{Minimal, Loaded}
	case Minimal:
		return []Level{Loaded}
	default:
		return nil
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", uint8(l))
	}
	return []byte(strings.ToUpper(l.String())), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel accepts level names in any case ("TICKING", "ticking", "Ticking").
func ParseLevel(s string) (Level, error) {
	want := strings.TrimSpace(s)
	for l, name := range levelNames {
		if strings.EqualFold(name, want) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// ParameterizedLevel is a Level plus its parameters. Only Ticking carries one:
// the radius of the cube loaded at Ticking around the ticket's centre.
//
// A Ticking radius of 0 loads 1 chunk as Ticking, the 26 around it as Active,
// the next 98 as Minimal and the next 218 as Loaded (343 chunks total).
type ParameterizedLevel struct {
	Level  Level
	Radius int
}

// TickingRadius builds a Ticking level covering a cube of the given radius.
func TickingRadius(radius int) ParameterizedLevel {
	return ParameterizedLevel{Level: Ticking, Radius: radius}
}

// At builds a parameterized level without parameters. Ticking gets radius 0.
func At(l Level) ParameterizedLevel {
	return ParameterizedLevel{Level: l}
}

// Plain drops the parameters.
func (p ParameterizedLevel) Plain() Level { return p.Level }

func (p ParameterizedLevel) Validate() error {
	if !p.Level.Valid() {
		return fmt.Errorf("invalid level %d", uint8(p.Level))
	}
	if p.Radius < 0 {
		return fmt.Errorf("negative radius %d", p.Radius)
	}
	if p.Level != Ticking && p.Radius != 0 {
		return fmt.Errorf("radius is only valid for %s, got %s with radius %d", Ticking, p.Level, p.Radius)
	}
	return nil
}

func (p ParameterizedLevel) String() string {
	if p.Level == Ticking {
		return fmt.Sprintf("Ticking(radius=%d)", p.Radius)
	}
	return p.Level.String()
}
