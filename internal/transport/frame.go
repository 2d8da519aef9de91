// internal/transport/frame.go
package transport

// RTU frame sizes (bytes).
const (
	// reqFrameSize: slave(1) fc(1) addr(2) qty(2) crc(2).
	reqFrameSize = 8
	// minFrameSize: the shortest valid response, which is also the exact
	// size of an exception response: slave(1) fc(1) code-or-count(1) crc(2).
	minFrameSize = 5
	// maxFrameSize per the Modbus serial line spec.
	maxFrameSize = 256

	// excFlag is set on the function code of exception responses.
	excFlag byte = 0x80
)

// buildReadRequest packs an RTU read request:
// [slave] [fc] [addr hi] [addr lo] [qty hi] [qty lo] [crc lo] [crc hi].
func buildReadRequest(slave, fc byte, addr, qty uint16) []byte {
	frame := make([]byte, reqFrameSize)
	frame[0] = slave
	frame[1] = fc
	frame[2] = byte(addr >> 8)
	frame[3] = byte(addr)
	frame[4] = byte(qty >> 8)
	frame[5] = byte(qty)

	crc := crc16(frame[:6])
	frame[6] = byte(crc)
	frame[7] = byte(crc >> 8)
	return frame
}

// responseSize returns the expected full response length for a register
// read of qty registers: slave(1) fc(1) count(1) data(2*qty) crc(2).
func responseSize(qty uint16) int {
	return 5 + 2*int(qty)
}

// parseReadResponse validates a response frame against the request that
// produced it and unpacks the register words.
//
// Validation order matters: the CRC is checked before anything in the
// frame is trusted, so a corrupted frame is never decoded.
func parseReadResponse(frame []byte, slave, fc byte, qty uint16) ([]uint16, error) {
	if len(frame) < minFrameSize {
		return nil, errKind(KindShortFrame, "")
	}

	want := crc16(frame[:len(frame)-2])
	got := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	if got != want {
		return nil, errKind(KindCRCMismatch, "")
	}

	if frame[0] != slave {
		return nil, errKind(KindBadEcho, "slave address mismatch")
	}

	if frame[1]&excFlag != 0 {
		if frame[1]&^excFlag != fc {
			return nil, errKind(KindBadEcho, "function code mismatch in exception")
		}
		return nil, &Error{Kind: KindException, ExCode: frame[2]}
	}

	if frame[1] != fc {
		return nil, errKind(KindBadEcho, "function code mismatch")
	}

	byteCount := int(frame[2])
	if byteCount != 2*int(qty) || len(frame) != responseSize(qty) {
		return nil, errKind(KindShortFrame, "byte count mismatch")
	}

	words := make([]uint16, qty)
	for i := range words {
		words[i] = uint16(frame[3+2*i])<<8 | uint16(frame[4+2*i])
	}
	return words, nil
}
