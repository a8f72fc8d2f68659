package geo

import (
	"fmt"
	"unicode/utf8"
)

// OverflowPolicy decides what a Buffer does with a value larger than its capacity.
type OverflowPolicy string

const (
	// OverflowTruncate cuts the value to capacity on a rune boundary.
	OverflowTruncate OverflowPolicy = "truncate"
	// OverflowError rejects the write and leaves the buffer unchanged.
	OverflowError OverflowPolicy = "error"
)

// ParseOverflowPolicy converts a config value into an OverflowPolicy.
// The empty string selects OverflowTruncate.
func ParseOverflowPolicy(value string) (OverflowPolicy, error) {
	switch OverflowPolicy(value) {
	case "", OverflowTruncate:
		return OverflowTruncate, nil
	case OverflowError:
		return OverflowError, nil
	default:
		return "", fmt.Errorf("geo: unknown overflow policy %q", value)
	}
}

// Buffer is a caller-owned, fixed-capacity string destination. Capacity
// is measured in bytes and never exceeded.
type Buffer struct {
	capacity  int
	policy    OverflowPolicy
	value     string
	truncated bool
}

// NewBuffer returns a buffer that truncates oversize writes.
func NewBuffer(capacity int) *Buffer {
	return NewBufferWithPolicy(capacity, OverflowTruncate)
}

// NewBufferWithPolicy returns a buffer with an explicit overflow policy.
func NewBufferWithPolicy(capacity int, policy OverflowPolicy) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	if policy != OverflowError {
		policy = OverflowTruncate
	}
	return &Buffer{capacity: capacity, policy: policy}
}

// Set replaces the buffer content with value, applying the overflow policy.
func (b *Buffer) Set(value string) error {
	if b == nil {
		return newError(ErrorCodeInvalidRequest, "geo: nil buffer", false, nil)
	}
	if len(value) <= b.capacity {
		b.value = value
		b.truncated = false
		return nil
	}
	if b.policy == OverflowError {
		return withErrorDetails(
			newError(ErrorCodeBufferOverflow, fmt.Sprintf("geo: value of %d bytes exceeds capacity %d", len(value), b.capacity), false, nil),
			map[string]any{"length": len(value), "capacity": b.capacity},
		)
	}
	b.value = truncateUTF8(value, b.capacity)
	b.truncated = true
	return nil
}

// String returns the current content.
func (b *Buffer) String() string {
	if b == nil {
		return ""
	}
	return b.value
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Len returns the content length in bytes.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.value)
}

// Truncated reports whether the last Set cut its value.
func (b *Buffer) Truncated() bool {
	return b != nil && b.truncated
}

// Reset clears the content.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.value = ""
	b.truncated = false
}

func truncateUTF8(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
