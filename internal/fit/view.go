package fit

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"example.com/fitgate/internal/basetype"
)

// MessageView is a flat, JSON-friendly rendering of a Message for display
// and mapping layers.
type MessageView struct {
	Name      string      `json:"name"`
	Global    uint16      `json:"global"`
	Local     uint8       `json:"local"`
	Time      *time.Time  `json:"time,omitempty"`
	Fields    []FieldView `json:"fields"`
	DevFields int         `json:"devFields,omitempty"`
}

type FieldView struct {
	Num   uint8       `json:"num"`
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	Units string      `json:"units,omitempty"`
}

// View renders m. Invalid values become nil; arrays become slices of
// scaled values and non-text byte fields become hex strings.
func (m *Message) View() MessageView {
	v := MessageView{Name: m.Name, Global: m.Global, Local: m.Local, DevFields: len(m.DevFields)}
	if ts, ok := m.Timestamp(); ok {
		t := ToTime(ts)
		v.Time = &t
	}
	for i := range m.Fields {
		f := &m.Fields[i]
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("field_%d", f.Num)
		}
		v.Fields = append(v.Fields, FieldView{Num: f.Num, Name: name, Value: f.viewValue(), Units: f.Units})
	}
	return v
}

func (f *Field) viewValue() interface{} {
	if f.Bytes != nil {
		if f.Info().Kind == basetype.KindString {
			if !f.Valid() {
				return nil
			}
			return f.String()
		}
		return hex.EncodeToString(f.Bytes)
	}
	if len(f.Values) == 1 {
		if v, ok := f.Float(); ok {
			return v
		}
		return nil
	}
	info := f.Info()
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	out := make([]interface{}, len(f.Values))
	for i, raw := range f.Values {
		if info.IsInvalid(raw) {
			continue
		}
		x := info.Float(raw)
		if math.IsNaN(x) {
			continue
		}
		out[i] = x/scale - f.Offset
	}
	return out
}
