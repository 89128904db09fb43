package fit

import (
	"encoding/binary"
)

// streamBuilder assembles wire streams byte by byte for decoder tests.
type streamBuilder struct {
	payload []byte
}

type triple [3]byte

func (b *streamBuilder) def(local uint8, global uint16, fields ...triple) *streamBuilder {
	return b.defArch(local, 0, global, fields...)
}

func (b *streamBuilder) defArch(local uint8, arch byte, global uint16, fields ...triple) *streamBuilder {
	var g [2]byte
	if arch == 1 {
		binary.BigEndian.PutUint16(g[:], global)
	} else {
		binary.LittleEndian.PutUint16(g[:], global)
	}
	b.payload = append(b.payload, 0x40|local, 0, arch, g[0], g[1], byte(len(fields)))
	for _, f := range fields {
		b.payload = append(b.payload, f[:]...)
	}
	return b
}

func (b *streamBuilder) devDef(local uint8, global uint16, fields []triple, dev []triple) *streamBuilder {
	var g [2]byte
	binary.LittleEndian.PutUint16(g[:], global)
	b.payload = append(b.payload, 0x60|local, 0, 0, g[0], g[1], byte(len(fields)))
	for _, f := range fields {
		b.payload = append(b.payload, f[:]...)
	}
	b.payload = append(b.payload, byte(len(dev)))
	for _, f := range dev {
		b.payload = append(b.payload, f[:]...)
	}
	return b
}

func (b *streamBuilder) data(local uint8, body ...byte) *streamBuilder {
	b.payload = append(b.payload, local)
	b.payload = append(b.payload, body...)
	return b
}

func (b *streamBuilder) compressed(local uint8, offset uint8, body ...byte) *streamBuilder {
	b.payload = append(b.payload, 0x80|(local&0x03)<<5|offset&0x1F)
	b.payload = append(b.payload, body...)
	return b
}

// bytes returns header, payload and a correct trailing checksum.
func (b *streamBuilder) bytes() []byte {
	hdr := make([]byte, 14)
	hdr[0] = 14
	hdr[1] = ProtocolVersion
	binary.LittleEndian.PutUint16(hdr[2:4], ProfileVersion)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(b.payload)))
	copy(hdr[8:12], DataType)
	binary.LittleEndian.PutUint16(hdr[12:14], Checksum(hdr[:12]))
	out := append(hdr, b.payload...)
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], Checksum(out))
	return append(out, tail[:]...)
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Field triples used across tests.
var (
	tFileType    = triple{0, 1, 0x00}
	tTimeCreated = triple{4, 4, 0x86}
	tTimestamp   = triple{253, 4, 0x86}
	tHeartRate   = triple{3, 1, 0x02}
	tAltitude    = triple{2, 2, 0x84}
	tCycles      = triple{18, 1, 0x02}
	tLat         = triple{0, 4, 0x85}
	tLon         = triple{1, 4, 0x85}
)

// scenarioStream is one file_id and one record with timestamp 1000 and
// heart rate 150.
func scenarioStream() []byte {
	b := &streamBuilder{}
	b.def(0, 0, tFileType, tTimeCreated).data(0, cat([]byte{4}, le32(999))...)
	b.def(1, 20, tTimestamp, tHeartRate).data(1, cat(le32(1000), []byte{150})...)
	return b.bytes()
}
