// Package vclock implements the per-record vector clocks that carry
// causal history between replicas.
//
// A clock maps client IDs to monotonic counters. Zero entries are never
// stored, so two clocks that agree on every non-zero entry are equal.
package vclock

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCausalityViolation reports an Apply whose counter would not strictly
// increase the entry it targets. Callers should use
// errors.Is(err, ErrCausalityViolation).
var ErrCausalityViolation = errors.New("causality violation")

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	// Equal means both clocks carry identical entries.
	Equal Ordering = iota
	// Less means the first clock is causally before the second.
	Less
	// Greater means the first clock is causally after the second.
	Greater
	// Concurrent means neither clock dominates the other.
	Concurrent
)

// String returns the ordering name for logs and test output.
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Less:
		return "less"
	case Greater:
		return "greater"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// VClock is a mapping from client ID to counter. The nil map is a valid
// empty clock. Values are always positive; suppressed zeros keep the
// serialized form canonical.
type VClock map[string]int64

// New returns a single-entry clock for the given writer.
func New(clientID string, counter int64) VClock {
	if counter <= 0 {
		return VClock{}
	}

	return VClock{clientID: counter}
}

// Get returns the counter for clientID, zero if absent.
func (vc VClock) Get(clientID string) int64 {
	return vc[clientID]
}

// Apply returns a copy of vc with clientID's entry set to counter.
// The counter must be strictly greater than the existing entry.
func (vc VClock) Apply(clientID string, counter int64) (VClock, error) {
	prev := vc[clientID]
	if counter <= prev {
		return nil, fmt.Errorf(
			"apply %s: counter %d <= current %d: %w",
			clientID, counter, prev, ErrCausalityViolation,
		)
	}

	out := make(VClock, len(vc)+1)
	for id, c := range vc {
		out[id] = c
	}

	out[clientID] = counter

	return out, nil
}

// Compare orders a against b pointwise: a is Less than b iff every entry
// of a is <= the matching entry of b and at least one is strictly
// smaller. Clocks where each side has some larger entry are Concurrent.
func Compare(a, b VClock) Ordering {
	aLess := false
	bLess := false

	for id, ac := range a {
		bc := b[id]
		if ac < bc {
			aLess = true
		} else if ac > bc {
			bLess = true
		}
	}

	for id, bc := range b {
		if _, ok := a[id]; ok {
			continue
		}

		if bc > 0 {
			aLess = true
		}
	}

	switch {
	case aLess && bLess:
		return Concurrent
	case aLess:
		return Less
	case bLess:
		return Greater
	default:
		return Equal
	}
}

// Marshal renders the clock in its canonical textual form. Keys are
// sorted, so equal clocks always produce identical bytes; the stored
// vector_clock column relies on this.
func Marshal(vc VClock) (string, error) {
	if vc == nil {
		vc = VClock{}
	}

	// encoding/json sorts map keys, which is exactly the canonical form.
	data, err := json.Marshal(map[string]int64(vc))
	if err != nil {
		return "", fmt.Errorf("marshal vclock: %w", err)
	}

	return string(data), nil
}

// Unmarshal parses a clock from its textual form, dropping zero entries.
func Unmarshal(s string) (VClock, error) {
	if s == "" {
		return VClock{}, nil
	}

	var raw map[string]int64

	err := json.Unmarshal([]byte(s), &raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal vclock %q: %w", s, err)
	}

	vc := make(VClock, len(raw))

	for id, c := range raw {
		if c < 0 {
			return nil, fmt.Errorf("unmarshal vclock %q: negative counter for %s", s, id)
		}

		if c > 0 {
			vc[id] = c
		}
	}

	return vc, nil
}
