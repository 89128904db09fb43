package fit

var crcTable = [16]uint16{
	0x0000, 0xCC01, 0xD801, 0x1400, 0xF001, 0x3C00, 0x2800, 0xE401,
	0xA001, 0x6C00, 0x7800, 0xB401, 0x5000, 0x9C01, 0x8801, 0x4400,
}

// CRC is a streaming implementation of the 16-bit checksum used for file
// headers and for the trailing file checksum. The zero value is ready to use.
type CRC struct {
	value uint16
}

// NewCRC returns a checksum seeded at zero.
func NewCRC() *CRC {
	return &CRC{}
}

// Write updates the checksum with p. It never fails, which lets a CRC sit
// behind an io.MultiWriter.
func (c *CRC) Write(p []byte) (int, error) {
	for _, b := range p {
		c.value = crcByte(c.value, b)
	}
	return len(p), nil
}

// Sum16 returns the checksum of everything written so far.
func (c *CRC) Sum16() uint16 {
	return c.value
}

// Reset restores the zero seed.
func (c *CRC) Reset() {
	c.value = 0
}

func crcByte(crc uint16, b byte) uint16 {
	tmp := crcTable[crc&0xF]
	crc = (crc >> 4) & 0x0FFF
	crc = crc ^ tmp ^ crcTable[b&0xF]

	tmp = crcTable[crc&0xF]
	crc = (crc >> 4) & 0x0FFF
	crc = crc ^ tmp ^ crcTable[(b>>4)&0xF]
	return crc
}

// Checksum calculates the checksum of p in one call.
func Checksum(p []byte) uint16 {
	var c CRC
	c.Write(p)
	return c.Sum16()
}
