// internal/catalog/catalog.go
package catalog

import (
	"fmt"
)

// FunctionCode selects the Modbus register bank a spec is read from.
type FunctionCode uint8

const (
	// ReadHolding is Modbus function code 3 (holding registers).
	ReadHolding FunctionCode = 3
	// ReadInput is Modbus function code 4 (input registers).
	ReadInput FunctionCode = 4
)

func (fc FunctionCode) String() string {
	switch fc {
	case ReadHolding:
		return "holding(3)"
	case ReadInput:
		return "input(4)"
	default:
		return fmt.Sprintf("fc(%d)", uint8(fc))
	}
}

// Width is the number of 16-bit registers a spec occupies.
type Width int

const (
	// Single is one register: a raw 16-bit value.
	Single Width = 1
	// Double is a register pair combined into a 32-bit float.
	Double Width = 2
)

// RegisterSpec describes one named value on the meter.
// Address is the 0-based wire address; meter manuals document 1-based
// offsets, so Address = documented offset - 1.
type RegisterSpec struct {
	Name    string
	Address uint16
	FC      FunctionCode
	Width   Width
	Scale   float64
	Unit    string
}

// Quantity is the register count requested on the wire for this spec.
func (s RegisterSpec) Quantity() uint16 {
	return uint16(s.Width)
}

// Catalog is an immutable, validated register list.
// Replacing a catalog is a wholesale swap; it is never edited in place.
type Catalog struct {
	specs []RegisterSpec
}

// Load validates entries and builds a Catalog.
// It rejects duplicate names and overlapping address ranges within the
// same function code. Specs sharing an address across different function
// codes are distinct registers and allowed.
func Load(entries []RegisterSpec) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog: at least one register required")
	}

	type span struct {
		start uint16
		end   uint16
		name  string
	}

	names := make(map[string]struct{}, len(entries))
	spans := make(map[FunctionCode][]span)

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog: register with empty name (address %d)", e.Address)
		}
		if _, dup := names[e.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate register name %q", e.Name)
		}
		names[e.Name] = struct{}{}

		if e.FC != ReadHolding && e.FC != ReadInput {
			return nil, fmt.Errorf("catalog: register %q: unsupported function code %d", e.Name, uint8(e.FC))
		}
		if e.Width != Single && e.Width != Double {
			return nil, fmt.Errorf("catalog: register %q: width must be 1 or 2", e.Name)
		}

		start := e.Address
		end := e.Address + uint16(e.Width) - 1

		for _, s := range spans[e.FC] {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return nil, fmt.Errorf(
					"catalog: register %q range %d-%d overlaps %q range %d-%d on %s",
					e.Name, start, end, s.name, s.start, s.end, e.FC,
				)
			}
		}
		spans[e.FC] = append(spans[e.FC], span{start: start, end: end, name: e.Name})
	}

	specs := make([]RegisterSpec, len(entries))
	copy(specs, entries)

	for i := range specs {
		if specs[i].Scale == 0 {
			specs[i].Scale = 1
		}
	}

	return &Catalog{specs: specs}, nil
}

// Specs returns the specs in catalog order. The returned slice is a copy.
func (c *Catalog) Specs() []RegisterSpec {
	out := make([]RegisterSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Len returns the number of registers in the catalog.
func (c *Catalog) Len() int {
	return len(c.specs)
}
