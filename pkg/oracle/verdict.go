// Package oracle implements the controller compatibility oracle client.
//
// Two interchangeable backends sit behind the Client interface: a
// deterministic lookup table for offline and test operation, and a networked
// backend that consults a remote service and falls back to the table on any
// transport failure. Transport trouble therefore never surfaces to callers
// as an error, only as a possibly-unknown verdict.
package oracle

import (
	"encoding/json"
	"fmt"
)

// TriState is a three-valued compatibility answer. The wire form follows the
// remote service: true, false, or null for unknown.
type TriState int

const (
	Unknown TriState = iota
	Compatible
	Incompatible
)

func (t TriState) String() string {
	switch t {
	case Compatible:
		return "compatible"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Compatible as true, Incompatible as false and Unknown
// as null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case Compatible:
		return []byte("true"), nil
	case Incompatible:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false, or null.
func (t *TriState) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("compatible field: %w", err)
	}
	switch {
	case b == nil:
		*t = Unknown
	case *b:
		*t = Compatible
	default:
		*t = Incompatible
	}
	return nil
}

// Verdict is the oracle's answer for one (vehicle, controller) pair.
// Constructed per call; the session keeps at most the last one for
// observability.
type Verdict struct {
	Compatible  TriState       `json:"compatible"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason"`
	Alternative string         `json:"alternative,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}
