package reference

import "fmt"

// Visibility is the display state of a catalog paper.
// Values are ordered by merge priority.
type Visibility int

const (
	VisibilityDeleted Visibility = iota
	VisibilityCandidate
	VisibilityVisible
)

var visibilityNames = map[Visibility]string{
	VisibilityDeleted:   "DELETED",
	VisibilityCandidate: "CANDIDATE",
	VisibilityVisible:   "VISIBLE",
}

func (v Visibility) String() string {
	if s, ok := visibilityNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Visibility(%d)", int(v))
}

// Priority returns the merge priority; higher wins.
func (v Visibility) Priority() int {
	return int(v)
}

// MaxVisibility returns the higher-priority visibility.
func MaxVisibility(a, b Visibility) Visibility {
	if b.Priority() > a.Priority() {
		return b
	}
	return a
}

// ParseVisibility parses the String form.
func ParseVisibility(s string) (Visibility, error) {
	for v, name := range visibilityNames {
		if name == s {
			return v, nil
		}
	}
	return VisibilityCandidate, fmt.Errorf("unknown visibility %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Visibility) UnmarshalText(b []byte) error {
	parsed, err := ParseVisibility(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
