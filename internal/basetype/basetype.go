// Package basetype holds the fixed table of wire base types: their codes,
// sizes, invalid sentinels and the endian-aware read/write helpers used by the
// decoder and encoder.
package basetype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type is a base type code as it appears in a definition record. Bit 7 is the
// endian-capable flag, bits 0-4 the type number.
type Type uint8

const (
	Enum    Type = 0x00
	Sint8   Type = 0x01
	Uint8   Type = 0x02
	Sint16  Type = 0x83
	Uint16  Type = 0x84
	Sint32  Type = 0x85
	Uint32  Type = 0x86
	String  Type = 0x07
	Float32 Type = 0x88
	Float64 Type = 0x89
	Uint8z  Type = 0x0A
	Uint16z Type = 0x8B
	Uint32z Type = 0x8C
	Byte    Type = 0x0D
	Sint64  Type = 0x8E
	Uint64  Type = 0x8F
	Uint64z Type = 0x90
)

const (
	endianFlag = 0x80
	numberMask = 0x1F
)

// Kind groups base types by how their raw bits are interpreted.
type Kind uint8

const (
	KindUnsigned Kind = iota
	KindSigned
	KindFloat
	KindString
	KindBytes
)

// Info describes one registry entry.
type Info struct {
	Type    Type
	Name    string
	Size    int
	Invalid uint64
	Kind    Kind
}

var registry = map[uint8]Info{
	0x00: {Enum, "enum", 1, 0xFF, KindUnsigned},
	0x01: {Sint8, "sint8", 1, 0x7F, KindSigned},
	0x02: {Uint8, "uint8", 1, 0xFF, KindUnsigned},
	0x03: {Sint16, "sint16", 2, 0x7FFF, KindSigned},
	0x04: {Uint16, "uint16", 2, 0xFFFF, KindUnsigned},
	0x05: {Sint32, "sint32", 4, 0x7FFFFFFF, KindSigned},
	0x06: {Uint32, "uint32", 4, 0xFFFFFFFF, KindUnsigned},
	0x07: {String, "string", 1, 0x00, KindString},
	0x08: {Float32, "float32", 4, 0xFFFFFFFF, KindFloat},
	0x09: {Float64, "float64", 8, 0xFFFFFFFFFFFFFFFF, KindFloat},
	0x0A: {Uint8z, "uint8z", 1, 0x00, KindUnsigned},
	0x0B: {Uint16z, "uint16z", 2, 0x0000, KindUnsigned},
	0x0C: {Uint32z, "uint32z", 4, 0x00000000, KindUnsigned},
	0x0D: {Byte, "byte", 1, 0xFF, KindBytes},
	0x0E: {Sint64, "sint64", 8, 0x7FFFFFFFFFFFFFFF, KindSigned},
	0x0F: {Uint64, "uint64", 8, 0xFFFFFFFFFFFFFFFF, KindUnsigned},
	0x10: {Uint64z, "uint64z", 8, 0x0000000000000000, KindUnsigned},
}

// Lookup returns the registry entry for a code read off the wire. The endian
// flag is ignored so that codes written without it still resolve.
func Lookup(code uint8) (Info, bool) {
	info, ok := registry[code&numberMask]
	return info, ok
}

// MustLookup is Lookup for codes known at compile time.
func MustLookup(t Type) Info {
	info, ok := Lookup(uint8(t))
	if !ok {
		panic(fmt.Sprintf("basetype: unknown type 0x%02X", uint8(t)))
	}
	return info
}

// Number strips the endian flag.
func (t Type) Number() uint8 {
	return uint8(t) & numberMask
}

// Canonical returns the code with the endian flag set as the registry defines
// it, regardless of how the wire declared it.
func (t Type) Canonical() Type {
	if info, ok := Lookup(uint8(t)); ok {
		return info.Type
	}
	return t
}

// EndianCapable reports whether the multi-byte flag is set on the code.
func (t Type) EndianCapable() bool {
	return uint8(t)&endianFlag != 0
}

func (t Type) Size() int {
	if info, ok := Lookup(uint8(t)); ok {
		return info.Size
	}
	return 1
}

func (t Type) String() string {
	if info, ok := Lookup(uint8(t)); ok {
		return info.Name
	}
	return fmt.Sprintf("basetype(0x%02X)", uint8(t))
}

// Read decodes one element of size info.Size from b. The result is the raw
// bit pattern, zero-extended to 64 bits.
func (info Info) Read(b []byte, bigEndian bool) uint64 {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch info.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	return 0
}

// Write encodes v into b using info.Size bytes.
func (info Info) Write(b []byte, v uint64, bigEndian bool) {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch info.Size {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	}
}

// IsInvalid reports whether raw is the type's "no value" sentinel. Floats
// are compared by bit pattern, like the integer types.
func (info Info) IsInvalid(raw uint64) bool {
	return raw == info.Invalid
}

// Float converts a raw bit pattern into a float64 honoring signedness and
// float encodings.
func (info Info) Float(raw uint64) float64 {
	switch info.Kind {
	case KindSigned:
		return float64(info.Int(raw))
	case KindFloat:
		if info.Size == 4 {
			return float64(math.Float32frombits(uint32(raw)))
		}
		return math.Float64frombits(raw)
	default:
		return float64(raw)
	}
}

// Int sign-extends raw for signed types.
func (info Info) Int(raw uint64) int64 {
	if info.Kind != KindSigned {
		return int64(raw)
	}
	shift := uint(64 - 8*info.Size)
	return int64(raw<<shift) >> shift
}

// FromFloat is the inverse of Float. Integer types are rounded to nearest
// and clamped so that an out-of-range value never aliases the sentinel.
func (info Info) FromFloat(v float64) uint64 {
	switch info.Kind {
	case KindFloat:
		if info.Size == 4 {
			return uint64(math.Float32bits(float32(v)))
		}
		return math.Float64bits(v)
	case KindSigned:
		half := math.Ldexp(1, 8*info.Size-1)
		r := math.Round(v)
		if r >= half-1 {
			return info.Invalid - 1
		}
		if r <= -half {
			return (info.Invalid + 1) & info.Mask()
		}
		return uint64(int64(r)) & info.Mask()
	default:
		r := math.Round(v)
		if r < 0 {
			r = 0
		}
		top := info.Mask()
		if info.Invalid == top {
			top--
		}
		if r >= float64(top) {
			return top
		}
		return uint64(r)
	}
}

// Mask returns the all-ones value of info.Size bytes.
func (info Info) Mask() uint64 {
	if info.Size >= 8 {
		return math.MaxUint64
	}
	return uint64(1)<<(8*uint(info.Size)) - 1
}

// ByName resolves a registry name such as "uint16" or "string".
func ByName(name string) (Type, bool) {
	for _, info := range registry {
		if info.Name == name {
			return info.Type, true
		}
	}
	return 0, false
}
