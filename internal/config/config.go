// internal/config/config.go
package config

// Config is the on-disk YAML configuration.
type Config struct {
	Meter MeterConfig `yaml:"meter"`
}

type MeterConfig struct {
	Serial    SerialConfig     `yaml:"serial"`
	Poll      PollConfig       `yaml:"poll"`
	Registers []RegisterConfig `yaml:"registers"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	Parity   string `yaml:"parity"` // N, E or O
	StopBits int    `yaml:"stop_bits"`
	SlaveID  uint8  `yaml:"slave_id"`

	TimeoutMs int `yaml:"timeout_ms"`
	// GapMs is the quiet time between requests for RS-485 line settling.
	GapMs   int `yaml:"gap_ms"`
	Retries int `yaml:"retries"`

	// SwapWords: set when the meter sends the low 16-bit word of a float
	// first. Toggle it when values come out as nonsense.
	SwapWords bool `yaml:"swap_words"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- REGISTERS ----

// RegisterConfig is one user-editable catalog entry. Offset is the
// 1-based register number as printed in the meter manual; the wire
// address is offset-1.
type RegisterConfig struct {
	Name   string  `yaml:"name"`
	Offset uint16  `yaml:"offset"`
	FC     uint8   `yaml:"fc"`    // 3 holding, 4 input
	Width  int     `yaml:"width"` // registers per value: 1 or 2
	Scale  float64 `yaml:"scale"`
	Unit   string  `yaml:"unit"`
}
