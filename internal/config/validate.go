// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
//
// Register geometry (duplicate names, range overlaps) is validated by
// catalog.Load, which owns those semantics.
func Validate(cfg *Config) error {
	s := cfg.Meter.Serial

	if s.Port == "" {
		return fmt.Errorf("serial: port is required")
	}
	if s.BaudRate < 0 {
		return fmt.Errorf("serial: baud_rate must be >= 0, got %d", s.BaudRate)
	}
	switch s.Parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("serial: parity must be N, E or O, got %q", s.Parity)
	}
	if s.StopBits != 0 && s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("serial: stop_bits must be 1 or 2, got %d", s.StopBits)
	}
	if s.SlaveID != 0 && (s.SlaveID < 1 || s.SlaveID > 247) {
		return fmt.Errorf("serial: slave_id must be 1..247, got %d", s.SlaveID)
	}
	if s.TimeoutMs < 0 {
		return fmt.Errorf("serial: timeout_ms must be >= 0, got %d", s.TimeoutMs)
	}
	if s.GapMs < 0 {
		return fmt.Errorf("serial: gap_ms must be >= 0, got %d", s.GapMs)
	}
	if s.Retries < 0 {
		return fmt.Errorf("serial: retries must be >= 0, got %d", s.Retries)
	}

	if cfg.Meter.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll: interval_ms must be >= 0, got %d", cfg.Meter.Poll.IntervalMs)
	}

	for i, r := range cfg.Meter.Registers {
		if r.Name == "" {
			return fmt.Errorf("registers[%d]: name is required", i)
		}
		if r.Offset < 1 {
			return fmt.Errorf("registers[%d] %q: offset is 1-based, got %d", i, r.Name, r.Offset)
		}
		if r.FC != 0 && r.FC != 3 && r.FC != 4 {
			return fmt.Errorf("registers[%d] %q: fc must be 3 or 4, got %d", i, r.Name, r.FC)
		}
		if r.Width != 0 && r.Width != 1 && r.Width != 2 {
			return fmt.Errorf("registers[%d] %q: width must be 1 or 2, got %d", i, r.Name, r.Width)
		}
		if r.Scale < 0 {
			return fmt.Errorf("registers[%d] %q: scale must be >= 0, got %v", i, r.Name, r.Scale)
		}
	}

	return nil
}
