package withdrawals

import (
	"fmt"
	"strings"
)

// Status is the platform-side lifecycle state of a withdrawal. The ordinal
// order is the sort order.
type Status uint8

const (
	StatusQueued Status = iota
	StatusPooled
	StatusBroadcasted
	StatusComplete
	StatusExpired
)

var statusNames = [...]string{"QUEUED", "POOLED", "BROADCASTED", "COMPLETE", "EXPIRED"}

// AllStatuses lists every status in ordinal order.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusPooled, StatusBroadcasted, StatusComplete, StatusExpired}
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return int(s) < len(statusNames) }

// ParseStatus parses a status name case-insensitively.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range statusNames {
		if name == normalized {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("withdrawals: unknown status %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("withdrawals: unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StatusSet is a set of statuses used as a view filter. The zero value is the
// empty set, which matches nothing.
type StatusSet uint8

// NewStatusSet returns a set holding statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	var set StatusSet
	for _, s := range statuses {
		set = set.With(s)
	}
	return set
}

// DefaultStatusSet is every status except EXPIRED.
func DefaultStatusSet() StatusSet {
	return NewStatusSet(StatusQueued, StatusPooled, StatusBroadcasted, StatusComplete)
}

// With returns the set with s added.
func (set StatusSet) With(s Status) StatusSet {
	if !s.Valid() {
		return set
	}
	return set | 1<<s
}

// Without returns the set with s removed.
func (set StatusSet) Without(s Status) StatusSet {
	if !s.Valid() {
		return set
	}
	return set &^ (1 << s)
}

// Toggle flips membership of s.
func (set StatusSet) Toggle(s Status) StatusSet {
	if set.Has(s) {
		return set.Without(s)
	}
	return set.With(s)
}

// Has reports whether s is in the set.
func (set StatusSet) Has(s Status) bool {
	return s.Valid() && set&(1<<s) != 0
}

// Empty reports whether the set matches nothing.
func (set StatusSet) Empty() bool { return set == 0 }

// Statuses lists the members in ordinal order.
func (set StatusSet) Statuses() []Status {
	out := make([]Status, 0, len(statusNames))
	for _, s := range AllStatuses() {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (set StatusSet) String() string {
	names := make([]string, 0, len(statusNames))
	for _, s := range set.Statuses() {
		names = append(names, s.String())
	}
	return strings.Join(names, ",")
}

// ParseStatusSet parses a comma separated list of statuses. An empty string
// yields the empty set.
func ParseStatusSet(value string) (StatusSet, error) {
	var set StatusSet
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseStatus(part)
		if err != nil {
			return 0, err
		}
		set = set.With(s)
	}
	return set, nil
}
