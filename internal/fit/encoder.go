package fit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"example.com/fitgate/internal/basetype"
	"example.com/fitgate/internal/profile"
)

// Encoder writes Files to a stream. Calling Encode more than once on the
// same Encoder produces a chained stream.
type Encoder struct {
	w       io.Writer
	payload bytes.Buffer
	slots   [16]*MessageDefinition
	lastTS  uint32
	hasTS   bool
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Marshal encodes f into a new byte slice.
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalAll encodes the files as one chained stream.
func MarshalAll(files ...*File) ([]byte, error) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, f := range files {
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Encode writes header, payload and file checksum for f.
func (e *Encoder) Encode(f *File) error {
	if f == nil {
		return fmt.Errorf("encode: nil file")
	}
	e.payload.Reset()
	e.slots = [16]*MessageDefinition{}
	e.lastTS, e.hasTS = 0, false

	for i, ent := range f.Entities {
		var err error
		switch v := ent.(type) {
		case *MessageDefinition:
			err = e.writeDefinition(v)
		case *Message:
			err = e.writeMessage(v)
		default:
			err = fmt.Errorf("entity %d: unsupported type %T", i, ent)
		}
		if err != nil {
			return fmt.Errorf("encode entity %d: %w", i, err)
		}
	}

	hdr := e.header(f.Header)
	crc := NewCRC()
	out := io.MultiWriter(e.w, crc)
	if _, err := out.Write(hdr); err != nil {
		return err
	}
	if _, err := out.Write(e.payload.Bytes()); err != nil {
		return err
	}
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], crc.Sum16())
	_, err := e.w.Write(tail[:])
	return err
}

func (e *Encoder) header(h Header) []byte {
	size := h.Size
	if size != legacyHeaderSize {
		size = headerSize
	}
	b := make([]byte, size)
	b[0] = size
	b[1] = h.Protocol
	binary.LittleEndian.PutUint16(b[2:4], h.Profile)
	binary.LittleEndian.PutUint32(b[4:8], uint32(e.payload.Len()))
	copy(b[8:12], DataType)
	if size == headerSize && !h.SkipCRC {
		binary.LittleEndian.PutUint16(b[12:14], Checksum(b[:12]))
	}
	return b
}

func (e *Encoder) writeDefinition(d *MessageDefinition) error {
	if d.Local > localMask {
		return &StreamError{Kind: ErrMalformedDefinition, Offset: int64(e.payload.Len()), Global: d.Global, Local: d.Local, Reason: "local number above 15"}
	}
	if len(d.Fields) > 0xFF || len(d.DevFields) > 0xFF {
		return &StreamError{Kind: ErrMalformedDefinition, Offset: int64(e.payload.Len()), Global: d.Global, Local: d.Local, Reason: "too many fields"}
	}
	h := headerFlagDefinition | d.Local
	if len(d.DevFields) > 0 {
		h |= headerFlagDeveloper
	}
	var order binary.ByteOrder = binary.LittleEndian
	var arch byte
	if d.BigEndian {
		order, arch = binary.BigEndian, 1
	}
	var global [2]byte
	order.PutUint16(global[:], d.Global)

	buf := &e.payload
	buf.WriteByte(h)
	buf.WriteByte(0)
	buf.WriteByte(arch)
	buf.Write(global[:])
	buf.WriteByte(byte(len(d.Fields)))
	for _, f := range d.Fields {
		buf.Write([]byte{f.Num, f.Size, byte(f.Type)})
	}
	if len(d.DevFields) > 0 {
		buf.WriteByte(byte(len(d.DevFields)))
		for _, f := range d.DevFields {
			buf.Write([]byte{f.Num, f.Size, f.DevIndex})
		}
	}
	e.slots[d.Local] = d
	return nil
}

// layout returns the definition m is written with: its decoded definition
// when the fields still match it, otherwise one derived from the fields.
func layout(m *Message) (*MessageDefinition, error) {
	if d := m.Definition; d != nil && d.Local == m.Local && matchesFields(d, m) {
		return d, nil
	}
	d := &MessageDefinition{Local: m.Local, Global: m.Global}
	if m.Definition != nil {
		d.BigEndian = m.Definition.BigEndian
	}
	for _, f := range m.Fields {
		size := f.WireSize()
		if size > 0xFF {
			return nil, fmt.Errorf("field %d of %s is %d bytes", f.Num, m.Name, size)
		}
		d.Fields = append(d.Fields, FieldDef{Num: f.Num, Size: uint8(size), Type: f.Type})
	}
	for _, f := range m.DevFields {
		if len(f.Bytes) > 0xFF {
			return nil, fmt.Errorf("developer field %d of %s is %d bytes", f.Num, m.Name, len(f.Bytes))
		}
		d.DevFields = append(d.DevFields, DevFieldDef{Num: f.Num, Size: uint8(len(f.Bytes)), DevIndex: f.DevIndex})
	}
	return d, nil
}

func matchesFields(d *MessageDefinition, m *Message) bool {
	if d.Global != m.Global || len(d.Fields) != len(m.Fields) || len(d.DevFields) != len(m.DevFields) {
		return false
	}
	for i, fd := range d.Fields {
		f := &m.Fields[i]
		if fd.Num != f.Num || fd.Type != f.Type || int(fd.Size) != f.WireSize() {
			return false
		}
	}
	for i, dd := range d.DevFields {
		df := m.DevFields[i]
		if dd.Num != df.Num || dd.DevIndex != df.DevIndex || int(dd.Size) != len(df.Bytes) {
			return false
		}
	}
	return true
}

// compressible reports whether ts can be written as a 5-bit offset from the
// running timestamp base.
func (e *Encoder) compressible(ts uint32, local uint8) bool {
	return e.hasTS && local <= 3 && ts >= e.lastTS && ts-e.lastTS <= compressedTimeMask
}

func (e *Encoder) writeMessage(m *Message) error {
	if m.Local > localMask {
		return &StreamError{Kind: ErrMalformedDataMessage, Offset: int64(e.payload.Len()), Global: m.Global, Local: m.Local, Reason: "local number above 15"}
	}
	def, err := layout(m)
	if err != nil {
		return &StreamError{Kind: ErrMalformedDataMessage, Offset: int64(e.payload.Len()), Global: m.Global, Local: m.Local, Reason: err.Error()}
	}
	fields := m.Fields
	compressed := m.Compressed && m.Field(profile.FieldTimestamp) == nil
	if compressed && !e.compressible(m.CompressedTime, m.Local) {
		compressed = false
		ts := Field{Num: profile.FieldTimestamp, Type: basetype.Uint32, Values: []uint64{uint64(m.CompressedTime)}}
		fields = append([]Field{ts}, m.Fields...)
		promoted := *def
		promoted.Fields = append([]FieldDef{{Num: profile.FieldTimestamp, Size: 4, Type: basetype.Uint32}}, def.Fields...)
		def = &promoted
	}

	if !e.slots[m.Local].SameLayout(def) {
		if err := e.writeDefinition(def); err != nil {
			return err
		}
	}

	if compressed {
		e.payload.WriteByte(headerFlagCompressed | (m.Local&0x03)<<5 | byte(m.CompressedTime)&compressedTimeMask)
		e.lastTS = m.CompressedTime
	} else {
		e.payload.WriteByte(m.Local & localMask)
	}

	body := make([]byte, def.DataSize())
	pos := 0
	for i, fd := range def.Fields {
		writeField(body[pos:pos+int(fd.Size)], &fields[i], def.BigEndian)
		pos += int(fd.Size)
	}
	for i, dd := range def.DevFields {
		copy(body[pos:pos+int(dd.Size)], m.DevFields[i].Bytes)
		pos += int(dd.Size)
	}
	e.payload.Write(body)

	if !compressed {
		if ts, ok := messageTime(fields); ok {
			e.lastTS, e.hasTS = ts, true
		}
	} else {
		e.hasTS = true
	}
	return nil
}

func messageTime(fields []Field) (uint32, bool) {
	for i := range fields {
		if fields[i].Num == profile.FieldTimestamp {
			raw, ok := fields[i].Raw()
			return uint32(raw), ok
		}
	}
	return 0, false
}

func writeField(b []byte, f *Field, bigEndian bool) {
	if f.Bytes != nil || f.Values == nil {
		copy(b, f.Bytes)
		return
	}
	info := f.Info()
	n := len(b) / info.Size
	for i := 0; i < n; i++ {
		v := info.Invalid
		if i < len(f.Values) {
			v = f.Values[i]
		}
		info.Write(b[i*info.Size:], v, bigEndian)
	}
}
