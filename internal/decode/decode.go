// internal/decode/decode.go
package decode

import (
	"fmt"
	"math"
)

// WordOrder selects which of two consecutive registers carries the high
// 16 bits of a combined 32-bit value. Meters disagree on this, so it is a
// runtime setting, never a constant.
type WordOrder int

const (
	// HighWordFirst: words[0] holds the high 16 bits (Modbus big-endian).
	HighWordFirst WordOrder = iota
	// LowWordFirst: words[0] holds the low 16 bits (swapped meters).
	LowWordFirst
)

func (wo WordOrder) String() string {
	if wo == LowWordFirst {
		return "low-first"
	}
	return "high-first"
}

// Error reports a failed decode. Decode errors indicate a wrong word order
// or a wrong width configuration, not a transport problem.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "decode: " + e.Reason }

// Single decodes one 16-bit register as an unsigned integer value.
func Single(words []uint16) (float64, error) {
	if len(words) != 1 {
		return 0, &Error{Reason: fmt.Sprintf("expected 1 word, got %d", len(words))}
	}
	return float64(words[0]), nil
}

// Float32 combines a register pair into an IEEE-754 float.
// Non-finite results are rejected: a NaN or infinity here almost always
// means the word order is wrong, and propagating it would display garbage.
func Float32(words []uint16, order WordOrder) (float64, error) {
	if len(words) != 2 {
		return 0, &Error{Reason: fmt.Sprintf("expected 2 words, got %d", len(words))}
	}

	hi, lo := words[0], words[1]
	if order == LowWordFirst {
		hi, lo = lo, hi
	}

	bits := uint32(hi)<<16 | uint32(lo)
	v := float64(math.Float32frombits(bits))

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &Error{Reason: fmt.Sprintf("non-finite value from words [%#04x %#04x] (%s)", words[0], words[1], order)}
	}
	return v, nil
}

// Scale applies a register's scale multiplier.
func Scale(v, scale float64) float64 {
	return v * scale
}
