package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParticipantID is an opaque participant identifier.
type ParticipantID string

// Role tags a participant as a student or a teacher.
type Role string

// Known roles.
const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Participant is a member of a cohort. Participants are immutable for the
// duration of one computation.
type Participant struct {
	ID   ParticipantID `json:"id"`
	Role Role          `json:"role"`
}

// Students returns the IDs of all student participants, preserving input
// order and dropping duplicates.
func Students(participants []Participant) []ParticipantID {
	seen := make(map[ParticipantID]struct{}, len(participants))
	ids := make([]ParticipantID, 0, len(participants))
	for _, p := range participants {
		if p.Role != RoleStudent {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	return ids
}

// PeerCount is the configured number of peers each participant reviews.
// It is either a non-negative integer or unlimited.
type PeerCount struct {
	n         int
	unlimited bool
}

// UnlimitedPeers returns the unlimited sentinel: every participant reviews
// every other participant.
func UnlimitedPeers() PeerCount { return PeerCount{unlimited: true} }

// Peers returns a bounded peer count. Negative values are rejected by
// Validate, not here.
func Peers(n int) PeerCount { return PeerCount{n: n} }

// Unlimited reports whether the count is the unlimited sentinel.
func (c PeerCount) Unlimited() bool { return c.unlimited }

// N returns the bounded count. It is meaningless when Unlimited is true.
func (c PeerCount) N() int { return c.n }

// Validate returns an error wrapping ErrContractViolation for negative
// counts.
func (c PeerCount) Validate() error {
	if !c.unlimited && c.n < 0 {
		return fmt.Errorf("%w: negative peer count %d", ErrContractViolation, c.n)
	}
	return nil
}

// String implements fmt.Stringer.
func (c PeerCount) String() string {
	if c.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(c.n)
}

// MarshalYAML encodes the count as an integer or "unlimited".
func (c PeerCount) MarshalYAML() (any, error) {
	if c.unlimited {
		return "unlimited", nil
	}
	return c.n, nil
}

// UnmarshalYAML accepts an integer or the string "unlimited".
func (c *PeerCount) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*c = Peers(v)
		return nil
	case string:
		parsed, err := ParsePeerCount(v)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	default:
		return fmt.Errorf("peer count %v: want integer or \"unlimited\"", raw)
	}
}

// MarshalJSON encodes the count as an integer or "unlimited".
func (c PeerCount) MarshalJSON() ([]byte, error) {
	if c.unlimited {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(c.n)
}

// ParsePeerCount parses "unlimited" or a decimal integer.
func ParsePeerCount(s string) (PeerCount, error) {
	if s == "unlimited" {
		return UnlimitedPeers(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return PeerCount{}, fmt.Errorf("peer count %q: want integer or \"unlimited\"", s)
	}
	return Peers(n), nil
}
