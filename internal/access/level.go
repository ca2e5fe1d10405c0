// Package access defines the ordered access-level lattice, the closed set of
// functional domains, and the autonomy cascade shared by the hierarchy and
// legacy permission models.
package access

import (
	"database/sql/driver"
	"fmt"
)

// Level represents grant strength, totally ordered: none < read < write < full.
type Level int

const (
	LevelNone  Level = 0
	LevelRead  Level = 1
	LevelWrite Level = 2
	LevelFull  Level = 3
)

var levelNames = map[Level]string{
	LevelNone:  "none",
	LevelRead:  "read",
	LevelWrite: "write",
	LevelFull:  "full",
}

var levelValues = map[string]Level{
	"none":  LevelNone,
	"read":  LevelRead,
	"write": LevelWrite,
	"full":  LevelFull,
}

// ParseLevel parses a stored level name.
func ParseLevel(s string) (Level, error) {
	l, ok := levelValues[s]
	if !ok {
		return LevelNone, fmt.Errorf("unknown access level %q", s)
	}
	return l, nil
}

// String returns the stored name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "none"
}

// Satisfies reports whether the current level meets the required one under
// the total order. All access comparisons in the system go through here.
func (l Level) Satisfies(required Level) bool {
	return l >= required
}

// Max returns the stronger of two levels.
func Max(a, b Level) Level {
	if a >= b {
		return a
	}
	return b
}

// Min returns the weaker of two levels.
func Min(a, b Level) Level {
	if a <= b {
		return a
	}
	return b
}

// Value implements driver.Valuer for database serialization
func (l Level) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner for database deserialization
func (l *Level) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = LevelNone
		return nil
	case string:
		parsed, err := ParseLevel(v)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case []byte:
		parsed, err := ParseLevel(string(v))
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Level", value)
	}
}

// MarshalText implements encoding.TextMarshaler for JSON responses.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
