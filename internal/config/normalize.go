// internal/config/normalize.go
package config

// Poll interval floor: below this the bus never settles between cycles.
const minIntervalMs = 200

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	s := &cfg.Meter.Serial
	if s.BaudRate == 0 {
		s.BaudRate = 19200
	}
	if s.Parity == "" {
		s.Parity = "E"
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.SlaveID == 0 {
		s.SlaveID = 1
	}
	if s.TimeoutMs == 0 {
		s.TimeoutMs = 1000
	}
	if s.GapMs == 0 {
		s.GapMs = 20
	}

	p := &cfg.Meter.Poll
	if p.IntervalMs == 0 {
		p.IntervalMs = 1000
	}
	if p.IntervalMs < minIntervalMs {
		p.IntervalMs = minIntervalMs
	}

	for i := range cfg.Meter.Registers {
		r := &cfg.Meter.Registers[i]
		if r.FC == 0 {
			r.FC = 4
		}
		if r.Width == 0 {
			r.Width = 2
		}
		if r.Scale == 0 {
			r.Scale = 1
		}
	}
}
