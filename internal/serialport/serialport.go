// internal/serialport/serialport.go
package serialport

import (
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Info describes one detected serial port.
type Info struct {
	Name        string
	Description string
	IsUSB       bool
}

// List returns detected ports, USB-to-serial converters first. On systems
// that expose Bluetooth and debug consoles as ports, those sort last.
func List() ([]Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(ports))
	for _, p := range ports {
		out = append(out, Info{
			Name:        p.Name,
			Description: p.Product,
			IsUSB:       p.IsUSB,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out, nil
}

func rank(p Info) int {
	switch {
	case p.IsUSB || isUSBName(p.Name):
		return 0
	case isNoise(p.Name):
		return 2
	default:
		return 1
	}
}

func isUSBName(name string) bool {
	s := strings.ToLower(name)
	return strings.Contains(s, "usbserial") ||
		strings.Contains(s, "usbmodem") ||
		strings.Contains(s, "wchusbserial") ||
		strings.Contains(s, "ttyusb") ||
		strings.Contains(s, "slab_usbto")
}

func isNoise(name string) bool {
	s := strings.ToLower(name)
	return strings.Contains(s, "bluetooth") ||
		strings.Contains(s, "debug-console") ||
		strings.Contains(s, "internalmodem")
}

// Exists reports whether name is currently a detected port.
func Exists(name string) bool {
	ports, err := serial.GetPortsList()
	if err != nil {
		return false
	}
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}
