// internal/transport/session.go
package transport

import (
	"context"
	"io"
	"time"

	"github.com/goburrow/serial"
)

// Config holds the serial and Modbus parameters of one session.
type Config struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
	SlaveID  byte   // 1..247

	// Timeout bounds the wait for each response.
	Timeout time.Duration
	// Gap is the quiet time enforced between consecutive exchanges so the
	// RS-485 line can settle after direction switching. Skipping it causes
	// spurious timeouts on many USB converters.
	Gap time.Duration
}

func (c Config) validate() error {
	if c.Port == "" {
		return errKind(KindInvalidConfig, "port required")
	}
	if c.BaudRate <= 0 {
		return errKind(KindInvalidConfig, "baud rate must be > 0")
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return errKind(KindInvalidConfig, "parity must be N, E or O")
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return errKind(KindInvalidConfig, "stop bits must be 1 or 2")
	}
	if c.SlaveID < 1 || c.SlaveID > 247 {
		return errKind(KindInvalidConfig, "slave id must be 1..247")
	}
	if c.Timeout <= 0 {
		return errKind(KindInvalidConfig, "response timeout must be > 0")
	}
	if c.Gap < 0 {
		return errKind(KindInvalidConfig, "gap must be >= 0")
	}
	return nil
}

// Session owns one open serial handle. It serializes request/response
// exchanges: the bus is half-duplex with a single master, so there is
// never more than one transaction in flight.
//
// A Session never retries; retry policy belongs to the caller.
type Session struct {
	cfg  Config
	port io.ReadWriteCloser

	lastExchange time.Time
	closed       bool
}

// Open validates cfg and opens the serial device. No data is sent.
func Open(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dataBits := cfg.DataBits
	if dataBits == 0 {
		dataBits = 8
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: dataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, errWrap(KindPortUnavailable, err)
	}

	return &Session{cfg: cfg, port: port}, nil
}

// ReadRegisters performs one read exchange for fc 3 or 4 and returns the
// register words in wire order.
func (s *Session) ReadRegisters(ctx context.Context, fc byte, addr, qty uint16) ([]uint16, error) {
	if s.closed {
		return nil, errKind(KindPortUnavailable, "session closed")
	}

	if err := s.waitGap(ctx); err != nil {
		return nil, err
	}

	req := buildReadRequest(s.cfg.SlaveID, fc, addr, qty)
	if _, err := s.port.Write(req); err != nil {
		s.lastExchange = time.Now()
		return nil, errWrap(KindPortUnavailable, err)
	}

	frame, err := s.readFrame(ctx, qty)
	s.lastExchange = time.Now()
	if err != nil {
		return nil, err
	}

	return parseReadResponse(frame, s.cfg.SlaveID, fc, qty)
}

// readFrame accumulates response bytes until a full frame is present or
// the response timeout elapses. Each underlying read is bounded by the
// port timeout, so the wait here is never unbounded.
func (s *Session) readFrame(ctx context.Context, qty uint16) ([]byte, error) {
	var buf [maxFrameSize]byte

	target := responseSize(qty)
	deadline := time.Now().Add(s.cfg.Timeout)
	n := 0

	for n < target {
		select {
		case <-ctx.Done():
			return nil, errWrap(KindPortUnavailable, ctx.Err())
		default:
		}

		nn, err := s.port.Read(buf[n:target])
		n += nn

		// An exception response is shorter than a data response; once the
		// function code is visible, shrink the target so a legitimate
		// exception is not misread as a short frame.
		if n >= 2 && buf[1]&excFlag != 0 {
			target = minFrameSize
		}

		if err != nil {
			if err == serial.ErrTimeout {
				if n == 0 {
					return nil, errKind(KindTimeout, "")
				}
				return nil, errKind(KindShortFrame, "partial response before timeout")
			}
			return nil, errWrap(KindPortUnavailable, err)
		}

		if n < target && time.Now().After(deadline) {
			if n == 0 {
				return nil, errKind(KindTimeout, "")
			}
			return nil, errKind(KindShortFrame, "partial response before timeout")
		}
	}

	return buf[:target], nil
}

// waitGap sleeps whatever remains of the inter-request gap since the last
// exchange on this session.
func (s *Session) waitGap(ctx context.Context) error {
	if s.cfg.Gap <= 0 || s.lastExchange.IsZero() {
		return nil
	}
	wait := s.cfg.Gap - time.Since(s.lastExchange)
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errWrap(KindPortUnavailable, ctx.Err())
	case <-t.C:
		return nil
	}
}

// Close releases the serial handle. It is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
