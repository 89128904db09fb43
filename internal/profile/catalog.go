// Package profile is the message schema catalog: it maps global message
// numbers to names and ordered field descriptors, and allows vendor messages
// to be layered on top of the built-in tables.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"example.com/fitgate/internal/basetype"
)

// Well-known global message numbers.
const (
	MesgFileID           uint16 = 0
	MesgUserProfile      uint16 = 3
	MesgZonesTarget      uint16 = 7
	MesgSport            uint16 = 12
	MesgSession          uint16 = 18
	MesgLap              uint16 = 19
	MesgRecord           uint16 = 20
	MesgEvent            uint16 = 21
	MesgDeviceInfo       uint16 = 23
	MesgActivity         uint16 = 34
	MesgFileCreator      uint16 = 49
	MesgHRV              uint16 = 78
	MesgFieldDescription uint16 = 206
	MesgDeveloperDataID  uint16 = 207
)

// Field numbers shared by most messages.
const (
	FieldMessageIndex uint8 = 254
	FieldTimestamp    uint8 = 253
)

// UnknownName is reported for messages and fields absent from the catalog.
const UnknownName = "unknown"

var ErrConflict = errors.New("profile: conflicting definition")

// FieldDescriptor is the static description of one field.
type FieldDescriptor struct {
	Num         uint8
	Name        string
	Type        basetype.Type
	Scale       float64
	Offset      float64
	Units       string
	Profile     string
	Accumulated bool
}

// MessageDescriptor describes one global message.
type MessageDescriptor struct {
	Num    uint16
	Name   string
	Vendor bool
	Fields []FieldDescriptor
}

// Field returns the descriptor for num.
func (m MessageDescriptor) Field(num uint8) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Num == num {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// FieldByName returns the descriptor named name.
func (m MessageDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

type fieldKey struct {
	global uint16
	field  uint8
}

// Catalog is an immutable registry built from static tables. It is safe for
// concurrent use.
type Catalog struct {
	messages map[uint16]MessageDescriptor
	fields   map[fieldKey]FieldDescriptor
	byName   map[string]uint16
}

var (
	standardOnce sync.Once
	standard     *Catalog
)

// Standard returns the catalog of well-known messages. It is built once.
func Standard() *Catalog {
	standardOnce.Do(func() {
		c, err := build(standardMessages())
		if err != nil {
			panic(err)
		}
		standard = c
	})
	return standard
}

func build(msgs []MessageDescriptor) (*Catalog, error) {
	c := &Catalog{
		messages: make(map[uint16]MessageDescriptor, len(msgs)),
		fields:   make(map[fieldKey]FieldDescriptor),
		byName:   make(map[string]uint16, len(msgs)),
	}
	for _, m := range msgs {
		if err := c.add(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(m MessageDescriptor) error {
	if m.Name == "" {
		return fmt.Errorf("profile: message %d has no name", m.Num)
	}
	if other, ok := c.byName[m.Name]; ok && other != m.Num {
		return fmt.Errorf("%w: name %q used by messages %d and %d", ErrConflict, m.Name, other, m.Num)
	}
	existing, ok := c.messages[m.Num]
	if ok && existing.Name != m.Name {
		return fmt.Errorf("%w: message %d is %q, not %q", ErrConflict, m.Num, existing.Name, m.Name)
	}
	merged := existing
	if !ok {
		merged = MessageDescriptor{Num: m.Num, Name: m.Name, Vendor: m.Vendor}
	}
	for _, f := range m.Fields {
		if f.Scale == 0 {
			f.Scale = 1
		}
		if _, known := basetype.Lookup(uint8(f.Type)); !known {
			return fmt.Errorf("profile: %s.%s has unknown base type 0x%02X", m.Name, f.Name, uint8(f.Type))
		}
		if prev, dup := merged.Field(f.Num); dup {
			if prev != f {
				return fmt.Errorf("%w: %s field %d", ErrConflict, m.Name, f.Num)
			}
			continue
		}
		merged.Fields = append(merged.Fields, f)
		c.fields[fieldKey{m.Num, f.Num}] = f
	}
	sort.SliceStable(merged.Fields, func(i, j int) bool {
		return merged.Fields[i].Num < merged.Fields[j].Num
	})
	c.messages[m.Num] = merged
	c.byName[m.Name] = m.Num
	return nil
}

// Extend returns a new catalog containing c plus msgs. c is not modified.
// Adding fields to an existing message is allowed; redefining a field
// differently is an ErrConflict.
func (c *Catalog) Extend(msgs ...MessageDescriptor) (*Catalog, error) {
	out := &Catalog{
		messages: make(map[uint16]MessageDescriptor, len(c.messages)+len(msgs)),
		fields:   make(map[fieldKey]FieldDescriptor, len(c.fields)),
		byName:   make(map[string]uint16, len(c.byName)+len(msgs)),
	}
	for k, v := range c.messages {
		v.Fields = append([]FieldDescriptor(nil), v.Fields...)
		out.messages[k] = v
	}
	for k, v := range c.fields {
		out.fields[k] = v
	}
	for k, v := range c.byName {
		out.byName[k] = v
	}
	for _, m := range msgs {
		if err := out.add(m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Message returns the descriptor for a global message number.
func (c *Catalog) Message(num uint16) (MessageDescriptor, bool) {
	m, ok := c.messages[num]
	return m, ok
}

// MessageNum resolves a message name.
func (c *Catalog) MessageNum(name string) (uint16, bool) {
	n, ok := c.byName[name]
	return n, ok
}

// MessageName returns the message name or UnknownName.
func (c *Catalog) MessageName(num uint16) string {
	if m, ok := c.messages[num]; ok {
		return m.Name
	}
	return UnknownName
}

// Field looks up (global, field).
func (c *Catalog) Field(global uint16, num uint8) (FieldDescriptor, bool) {
	f, ok := c.fields[fieldKey{global, num}]
	return f, ok
}

// Messages lists all descriptors ordered by number.
func (c *Catalog) Messages() []MessageDescriptor {
	out := make([]MessageDescriptor, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}
