// Package fit implements the binary activity file model together with its
// decoder, encoder and checksum.
package fit

import (
	"bytes"
	"math"
	"time"

	"example.com/fitgate/internal/basetype"
	"example.com/fitgate/internal/profile"
)

const (
	ProtocolVersion uint8  = 0x20
	ProfileVersion  uint16 = 2132
	DataType               = ".FIT"

	headerSize       = 14
	legacyHeaderSize = 12
)

// Epoch is the zero point of every timestamp field.
var Epoch = time.Date(1989, time.December, 31, 0, 0, 0, 0, time.UTC)

// ToTime converts a timestamp field value to wall-clock time.
func ToTime(ts uint32) time.Time {
	return Epoch.Add(time.Duration(ts) * time.Second)
}

// FromTime is the inverse of ToTime, truncated to whole seconds.
func FromTime(t time.Time) uint32 {
	d := t.Sub(Epoch)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}

// Header is the fixed file header.
type Header struct {
	Size     uint8
	Protocol uint8
	Profile  uint16
	DataSize uint32
	DataType string
	CRC      uint16
	// SkipCRC is set when the header declared its checksum as absent. The
	// encoder then writes zero in its place.
	SkipCRC bool
}

// Entity is an element of a File: a *MessageDefinition or a *Message.
type Entity interface {
	entity()
}

// FieldDef is one field triple of a definition record.
type FieldDef struct {
	Num  uint8
	Size uint8
	Type basetype.Type
}

// DevFieldDef is one developer field triple.
type DevFieldDef struct {
	Num      uint8
	Size     uint8
	DevIndex uint8
}

// MessageDefinition binds a field layout to a local message number. It is
// not modified after creation; a new binding is a new definition.
type MessageDefinition struct {
	Local     uint8
	Global    uint16
	BigEndian bool
	Fields    []FieldDef
	DevFields []DevFieldDef
}

func (*MessageDefinition) entity() {}

// DataSize is the byte size of a data message using this definition.
func (d *MessageDefinition) DataSize() int {
	n := 0
	for _, f := range d.Fields {
		n += int(f.Size)
	}
	for _, f := range d.DevFields {
		n += int(f.Size)
	}
	return n
}

// Field returns the triple for num.
func (d *MessageDefinition) Field(num uint8) (FieldDef, bool) {
	for _, f := range d.Fields {
		if f.Num == num {
			return f, true
		}
	}
	return FieldDef{}, false
}

// SameLayout reports whether o produces byte-identical data messages. The
// local number is not compared.
func (d *MessageDefinition) SameLayout(o *MessageDefinition) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Global != o.Global || d.BigEndian != o.BigEndian ||
		len(d.Fields) != len(o.Fields) || len(d.DevFields) != len(o.DevFields) {
		return false
	}
	for i := range d.Fields {
		if d.Fields[i] != o.Fields[i] {
			return false
		}
	}
	for i := range d.DevFields {
		if d.DevFields[i] != o.DevFields[i] {
			return false
		}
	}
	return true
}

// Field is one decoded field value. Numeric elements are held as raw bit
// patterns in Values; strings and fields whose size does not divide by the
// base type size keep their exact wire bytes in Bytes instead.
type Field struct {
	Num         uint8
	Name        string
	Type        basetype.Type
	Scale       float64
	Offset      float64
	Units       string
	Profile     string
	Accumulated bool
	Values      []uint64
	Bytes       []byte
	// Unrolled is the rollover-corrected value of an accumulated field.
	Unrolled uint64
}

// NewField returns a field described by desc holding a single invalid value.
func NewField(desc profile.FieldDescriptor) Field {
	f := Field{
		Num:         desc.Num,
		Name:        desc.Name,
		Type:        desc.Type.Canonical(),
		Scale:       desc.Scale,
		Offset:      desc.Offset,
		Units:       desc.Units,
		Profile:     desc.Profile,
		Accumulated: desc.Accumulated,
	}
	info := f.Info()
	if info.Kind == basetype.KindString {
		f.Bytes = []byte{0}
	} else {
		f.Values = []uint64{info.Invalid}
	}
	return f
}

// Info returns the base type registry entry.
func (f *Field) Info() basetype.Info {
	info, ok := basetype.Lookup(uint8(f.Type))
	if !ok {
		return basetype.MustLookup(basetype.Byte)
	}
	return info
}

// WireSize is the number of bytes the field occupies in a data message.
func (f *Field) WireSize() int {
	if f.Bytes != nil {
		return len(f.Bytes)
	}
	return len(f.Values) * f.Info().Size
}

// Raw returns the first element if it is not the invalid sentinel.
func (f *Field) Raw() (uint64, bool) {
	if f == nil || len(f.Values) == 0 {
		return 0, false
	}
	info := f.Info()
	if info.IsInvalid(f.Values[0]) {
		return 0, false
	}
	return f.Values[0], true
}

// Valid reports whether the field carries a value.
func (f *Field) Valid() bool {
	if f == nil {
		return false
	}
	if f.Bytes != nil {
		return len(bytes.TrimRight(f.Bytes, "\x00")) > 0
	}
	info := f.Info()
	for _, v := range f.Values {
		if !info.IsInvalid(v) {
			return true
		}
	}
	return false
}

// Float returns the display value raw/scale - offset of the first element.
// Accumulated fields report their unrolled value.
func (f *Field) Float() (float64, bool) {
	raw, ok := f.Raw()
	if !ok {
		return 0, false
	}
	info := f.Info()
	v := info.Float(raw)
	if f.Accumulated && f.Unrolled > raw {
		v = float64(f.Unrolled)
	}
	if info.Kind == basetype.KindFloat && math.IsNaN(v) {
		return 0, false
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	return v/scale - f.Offset, true
}

// SetFloat stores a display value, quantising it into the raw domain.
func (f *Field) SetFloat(v float64) {
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	f.SetRaw(f.Info().FromFloat((v + f.Offset) * scale))
}

// SetRaw stores a raw value in the first element.
func (f *Field) SetRaw(v uint64) {
	f.Bytes = nil
	if len(f.Values) == 0 {
		f.Values = []uint64{v}
	} else {
		f.Values[0] = v
	}
	if f.Accumulated {
		f.Unrolled = v
	}
}

// Invalidate sets every element to the invalid sentinel.
func (f *Field) Invalidate() {
	info := f.Info()
	for i := range f.Values {
		f.Values[i] = info.Invalid
	}
}

// String returns a string field's text up to the first NUL.
func (f *Field) String() string {
	if f == nil || f.Bytes == nil {
		return ""
	}
	if i := bytes.IndexByte(f.Bytes, 0); i >= 0 {
		return string(f.Bytes[:i])
	}
	return string(f.Bytes)
}

func (f Field) clone() Field {
	if f.Values != nil {
		f.Values = append([]uint64(nil), f.Values...)
	}
	if f.Bytes != nil {
		f.Bytes = append([]byte(nil), f.Bytes...)
	}
	return f
}

// DevField is the raw payload of one developer field.
type DevField struct {
	Num      uint8
	DevIndex uint8
	Bytes    []byte
}

// Message is one data message. Fields keep the order they were decoded in,
// which is the order the encoder writes them back.
type Message struct {
	Name      string
	Global    uint16
	Local     uint8
	Fields    []Field
	DevFields []DevField
	// Compressed marks a message read with a compressed timestamp header;
	// CompressedTime holds the resolved absolute time.
	Compressed     bool
	CompressedTime uint32
	// Definition is the layout the message was decoded with, nil for
	// messages built in memory.
	Definition *MessageDefinition
}

func (*Message) entity() {}

// NewMessage builds an empty message for global bound to local.
func NewMessage(cat *profile.Catalog, global uint16, local uint8) *Message {
	return &Message{Name: cat.MessageName(global), Global: global, Local: local}
}

// Field returns a pointer to the field numbered num, or nil.
func (m *Message) Field(num uint8) *Field {
	for i := range m.Fields {
		if m.Fields[i].Num == num {
			return &m.Fields[i]
		}
	}
	return nil
}

// FieldByName returns a pointer to the field called name, or nil.
func (m *Message) FieldByName(name string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// Set replaces the field with the same number or appends f.
func (m *Message) Set(f Field) {
	if existing := m.Field(f.Num); existing != nil {
		*existing = f
		return
	}
	m.Fields = append(m.Fields, f)
}

// Remove drops the field numbered num.
func (m *Message) Remove(num uint8) {
	for i := range m.Fields {
		if m.Fields[i].Num == num {
			m.Fields = append(m.Fields[:i], m.Fields[i+1:]...)
			return
		}
	}
}

// Float is a shorthand for m.Field(num).Float().
func (m *Message) Float(num uint8) (float64, bool) {
	return m.Field(num).Float()
}

// Uint returns the raw first element of field num.
func (m *Message) Uint(num uint8) (uint64, bool) {
	return m.Field(num).Raw()
}

// Int returns the sign-extended first element of field num.
func (m *Message) Int(num uint8) (int64, bool) {
	f := m.Field(num)
	raw, ok := f.Raw()
	if !ok {
		return 0, false
	}
	return f.Info().Int(raw), true
}

// Timestamp returns the message time from field 253 or, for compressed
// messages, the resolved header time.
func (m *Message) Timestamp() (uint32, bool) {
	if raw, ok := m.Field(profile.FieldTimestamp).Raw(); ok {
		return uint32(raw), true
	}
	if m.Compressed {
		return m.CompressedTime, true
	}
	return 0, false
}

// SetTimestamp updates whichever representation of the time the message
// carries. A message with neither gains a timestamp field.
func (m *Message) SetTimestamp(ts uint32) {
	if f := m.Field(profile.FieldTimestamp); f != nil {
		f.SetRaw(uint64(ts))
		return
	}
	if m.Compressed {
		m.CompressedTime = ts
		return
	}
	m.Fields = append([]Field{{
		Num:     profile.FieldTimestamp,
		Name:    "timestamp",
		Type:    basetype.Uint32,
		Scale:   1,
		Units:   "s",
		Profile: "date_time",
		Values:  []uint64{uint64(ts)},
	}}, m.Fields...)
}

// Clone returns a deep copy. The definition pointer is shared.
func (m *Message) Clone() *Message {
	out := *m
	out.Fields = make([]Field, len(m.Fields))
	for i, f := range m.Fields {
		out.Fields[i] = f.clone()
	}
	if m.DevFields != nil {
		out.DevFields = make([]DevField, len(m.DevFields))
		for i, d := range m.DevFields {
			d.Bytes = append([]byte(nil), d.Bytes...)
			out.DevFields[i] = d
		}
	}
	return &out
}

// File is an ordered sequence of definitions and messages.
type File struct {
	Header   Header
	Entities []Entity
}

// NewFile returns an empty file with a current header.
func NewFile() *File {
	return &File{Header: Header{
		Size:     headerSize,
		Protocol: ProtocolVersion,
		Profile:  ProfileVersion,
		DataType: DataType,
	}}
}

// Messages lists the data messages in order.
func (f *File) Messages() []*Message {
	out := make([]*Message, 0, len(f.Entities))
	for _, e := range f.Entities {
		if m, ok := e.(*Message); ok {
			out = append(out, m)
		}
	}
	return out
}

// MessagesOf lists the data messages with the given global number.
func (f *File) MessagesOf(global uint16) []*Message {
	var out []*Message
	for _, e := range f.Entities {
		if m, ok := e.(*Message); ok && m.Global == global {
			out = append(out, m)
		}
	}
	return out
}

func (f *File) Records() []*Message  { return f.MessagesOf(profile.MesgRecord) }
func (f *File) Laps() []*Message     { return f.MessagesOf(profile.MesgLap) }
func (f *File) Sessions() []*Message { return f.MessagesOf(profile.MesgSession) }
func (f *File) Events() []*Message   { return f.MessagesOf(profile.MesgEvent) }

// FileID returns the first file_id message, or nil.
func (f *File) FileID() *Message {
	for _, e := range f.Entities {
		if m, ok := e.(*Message); ok && m.Global == profile.MesgFileID {
			return m
		}
	}
	return nil
}

// Index returns the entity position of e, or -1.
func (f *File) Index(e Entity) int {
	for i, x := range f.Entities {
		if x == e {
			return i
		}
	}
	return -1
}

// Insert places entities before position at.
func (f *File) Insert(at int, es ...Entity) {
	if at < 0 {
		at = 0
	}
	if at > len(f.Entities) {
		at = len(f.Entities)
	}
	out := make([]Entity, 0, len(f.Entities)+len(es))
	out = append(out, f.Entities[:at]...)
	out = append(out, es...)
	out = append(out, f.Entities[at:]...)
	f.Entities = out
}

// Append adds entities at the end.
func (f *File) Append(es ...Entity) {
	f.Entities = append(f.Entities, es...)
}

// Clone deep-copies every message. Definitions are immutable and shared.
func (f *File) Clone() *File {
	out := &File{Header: f.Header, Entities: make([]Entity, len(f.Entities))}
	for i, e := range f.Entities {
		switch v := e.(type) {
		case *Message:
			out.Entities[i] = v.Clone()
		default:
			out.Entities[i] = e
		}
	}
	return out
}
