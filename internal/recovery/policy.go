package recovery

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy selects what happens when persisted queue state is found
// structurally corrupt.
type Policy int

const (
	// PolicyWarn repairs and emits a warning. The default.
	PolicyWarn Policy = iota
	// PolicySilent repairs without surfacing anything to the caller.
	PolicySilent
	// PolicyFailFast refuses to repair and fails immediately.
	PolicyFailFast
)

func (p Policy) String() string {
	switch p {
	case PolicySilent:
		return "silent"
	case PolicyWarn:
		return "warn"
	case PolicyFailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a config string to a Policy. Empty input means the
// default, PolicyWarn.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return PolicySilent, nil
	case "", "warn":
		return PolicyWarn, nil
	case "fail-fast", "failfast", "fail":
		return PolicyFailFast, nil
	default:
		return PolicyWarn, fmt.Errorf("recovery: unknown policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler (used by JSON and YAML).
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler; yaml.v3 does not consult
// TextUnmarshaler on decode.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}
