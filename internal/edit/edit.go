// Package edit holds record-level transforms over a decoded activity file.
// Every transform works on a clone and leaves its input untouched.
package edit

import (
	"errors"
	"fmt"

	"example.com/fitgate/internal/fit"
)

var (
	ErrInvalidParameter = errors.New("edit: invalid parameter")
	ErrNoTimestamps     = errors.New("edit: records carry no timestamps")
)

// Edit is one transform of a File.
type Edit interface {
	Name() string
	// Params describes the edit for audit logs.
	Params() map[string]interface{}
	Apply(f *fit.File) (*fit.File, error)
}

// Apply runs edits in order, feeding each the previous result.
func Apply(f *fit.File, edits ...Edit) (*fit.File, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil file", ErrInvalidParameter)
	}
	cur := f
	for _, e := range edits {
		next, err := e.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

// setFloat writes v into field num if the message layout has it. A false ok
// invalidates the field.
func setFloat(m *fit.Message, num uint8, v float64, ok bool) {
	f := m.Field(num)
	if f == nil {
		return
	}
	if !ok {
		f.Invalidate()
		return
	}
	f.SetFloat(v)
}

func setRaw(m *fit.Message, num uint8, v uint64) {
	if f := m.Field(num); f != nil {
		f.SetRaw(v)
	}
}

func timeField(m *fit.Message, num uint8) (uint32, bool) {
	raw, ok := m.Uint(num)
	return uint32(raw), ok
}
