package matrix

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidPolicy = errors.New("matrix: invalid bucketing policy")
	ErrInvalidSlot   = errors.New("matrix: invalid slot label")
)

// PolicyKind selects how timestamps map to slots.
type PolicyKind string

const (
	PolicyFixedHourly   PolicyKind = "fixed-hourly"
	PolicyDynamicHourly PolicyKind = "hourly"
	PolicyDynamicMinute PolicyKind = "minutes"
)

// DefaultFixedSlots is the nine-slot business-day schedule, 09:00 through 17:00 UTC.
func DefaultFixedSlots() []string {
	slots := make([]string, 0, 9)
	for h := 9; h <= 17; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h))
	}
	return slots
}

// Policy maps a UTC timestamp to a slot label. The zero value is dynamic-hourly.
type Policy struct {
	kind    PolicyKind
	minutes int
	slots   map[string]struct{}
	ordered []string
}

// DynamicHourly buckets every observed UTC hour into its own HH:00 slot.
func DynamicHourly() Policy {
	return Policy{kind: PolicyDynamicHourly}
}

// DynamicMinutes truncates the minute of the hour to a multiple of n (1..60).
func DynamicMinutes(n int) (Policy, error) {
	if n < 1 || n > 60 {
		return Policy{}, fmt.Errorf("%w: minute granularity %d out of range", ErrInvalidPolicy, n)
	}
	if n == 60 {
		return DynamicHourly(), nil
	}
	return Policy{kind: PolicyDynamicMinute, minutes: n}, nil
}

// FixedHourly keeps only measurements whose UTC hour appears in slots.
// Labels must be HH:00.
func FixedHourly(slots []string) (Policy, error) {
	if len(slots) == 0 {
		return Policy{}, fmt.Errorf("%w: fixed-hourly needs at least one slot", ErrInvalidPolicy)
	}
	p := Policy{kind: PolicyFixedHourly, slots: make(map[string]struct{}, len(slots))}
	for _, raw := range slots {
		label := strings.TrimSpace(raw)
		if !validHourLabel(label) {
			return Policy{}, fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
		}
		if _, dup := p.slots[label]; dup {
			continue
		}
		p.slots[label] = struct{}{}
		p.ordered = append(p.ordered, label)
	}
	sort.Strings(p.ordered)
	return p, nil
}

// ParsePolicy reads "fixed-hourly", "hourly" or "<N>m". fixedSlots is used
// by fixed-hourly; nil selects DefaultFixedSlots.
func ParsePolicy(value string, fixedSlots []string) (Policy, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "hourly", "dynamic-hourly":
		return DynamicHourly(), nil
	case "fixed", "fixed-hourly":
		if fixedSlots == nil {
			fixedSlots = DefaultFixedSlots()
		}
		return FixedHourly(fixedSlots)
	}
	if digits, ok := strings.CutSuffix(value, "m"); ok {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, value)
		}
		return DynamicMinutes(n)
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, value)
}

// Kind reports the policy kind.
func (p Policy) Kind() PolicyKind {
	if p.kind == "" {
		return PolicyDynamicHourly
	}
	return p.kind
}

// Slots returns the enumerated slots of a fixed policy, ascending.
func (p Policy) Slots() []string {
	return append([]string(nil), p.ordered...)
}

// String renders the policy in ParsePolicy form.
func (p Policy) String() string {
	switch p.Kind() {
	case PolicyFixedHourly:
		return string(PolicyFixedHourly)
	case PolicyDynamicMinute:
		return strconv.Itoa(p.minutes) + "m"
	default:
		return string(PolicyDynamicHourly)
	}
}

// Slot returns the slot label of ts; ok is false when a fixed policy
// discards the timestamp.
func (p Policy) Slot(ts time.Time) (string, bool) {
	ts = ts.UTC()
	switch p.Kind() {
	case PolicyFixedHourly:
		label := fmt.Sprintf("%02d:00", ts.Hour())
		if _, ok := p.slots[label]; !ok {
			return "", false
		}
		return label, true
	case PolicyDynamicMinute:
		minute := ts.Minute() / p.minutes * p.minutes
		return fmt.Sprintf("%02d:%02d", ts.Hour(), minute), true
	default:
		return fmt.Sprintf("%02d:00", ts.Hour()), true
	}
}

func validHourLabel(label string) bool {
	if len(label) != 5 || label[2] != ':' || label[3:] != "00" {
		return false
	}
	h, err := strconv.Atoi(label[:2])
	return err == nil && h >= 0 && h <= 23
}
