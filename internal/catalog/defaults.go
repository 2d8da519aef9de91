// internal/catalog/defaults.go
package catalog

// reg builds a Double-width float spec from the offset documented in the
// meter manual (1-based).
func reg(offset uint16, name, unit string, fc FunctionCode) RegisterSpec {
	return RegisterSpec{
		Name:    name,
		Address: offset - 1,
		FC:      fc,
		Width:   Double,
		Scale:   1,
		Unit:    unit,
	}
}

// Default returns the EM6400NG register map.
// Energy accumulators live in holding registers (fc 3); instantaneous
// measurements live in input registers (fc 4).
func Default() []RegisterSpec {
	return []RegisterSpec{
		reg(2699, "Active energy delivered (into load)", "kWh", ReadHolding),
		reg(2701, "Active energy received (out of load)", "kWh", ReadHolding),
		reg(2703, "Active energy delivered + received", "kWh", ReadHolding),

		reg(2999, "Current A", "A", ReadInput),
		reg(3001, "Current B", "A", ReadInput),
		reg(3003, "Current C", "A", ReadInput),
		reg(3009, "Current avg", "A", ReadInput),

		reg(3019, "Voltage A B", "V", ReadInput),
		reg(3021, "Voltage B C", "V", ReadInput),
		reg(3023, "Voltage C A", "V", ReadInput),
		reg(3025, "Voltage L L avg", "V", ReadInput),

		reg(3053, "Active power A", "kW", ReadInput),
		reg(3055, "Active power B", "kW", ReadInput),
		reg(3057, "Active power C", "kW", ReadInput),
		reg(3059, "Active power total", "kW", ReadInput),

		reg(3061, "Reactive power A", "kVAR", ReadInput),
		reg(3063, "Reactive power B", "kVAR", ReadInput),
		reg(3065, "Reactive power C", "kVAR", ReadInput),
		reg(3067, "Reactive power total", "kVAR", ReadInput),

		reg(3069, "Apparent power A", "kVA", ReadInput),
		reg(3071, "Apparent power B", "kVA", ReadInput),
		reg(3073, "Apparent power C", "kVA", ReadInput),
		reg(3075, "Apparent power total", "kVA", ReadInput),
	}
}
