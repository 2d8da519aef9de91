// internal/transport/crc.go
package transport

// crc16 computes CRC-16/Modbus over b (init 0xFFFF, poly 0xA001 reflected).
// The wire trailer stores it little-endian: low byte first.
func crc16(b []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
