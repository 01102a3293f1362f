package types

import (
	"fmt"
	"strings"
)

// Header is one HTTP header name/value pair as observed on the wire.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// lineBreaks keeps a rendered header on one line.
var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`)

func (h Header) String() string {
	return lineBreaks.Replace(h.Name) + "='" + lineBreaks.Replace(h.Value) + "'"
}

// BodyState says how a captured body can be rendered.
type BodyState int

// Body states. The zero value is invalid so an unset state is detectable.
const (
	PlainBody BodyState = iota + 1
	NoBody
	EncodedBody
	BinaryBody
	CharsetMalformed
)

var bodyStateNames = map[BodyState]string{
	PlainBody:        "PLAIN_BODY",
	NoBody:           "NO_BODY",
	EncodedBody:      "ENCODED_BODY",
	BinaryBody:       "BINARY_BODY",
	CharsetMalformed: "CHARSET_MALFORMED",
}

func (s BodyState) String() string {
	if name, ok := bodyStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("BodyState(%d)", int(s))
}

// Valid reports whether s is one of the five known states.
func (s BodyState) Valid() bool {
	_, ok := bodyStateNames[s]
	return ok
}

// ParseBodyState parses a state name, case-insensitively.
func ParseBodyState(name string) (BodyState, error) {
	up := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range bodyStateNames {
		if n == up {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown body state %q", name)
}

func (s BodyState) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid body state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *BodyState) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseBodyState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
