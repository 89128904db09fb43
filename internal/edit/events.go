package edit

import (
	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

// forwardFill updates the state that follows a new lap boundary at splitAt:
// a lap event is placed before the first record of the new lap, later laps
// are renumbered and the enclosing session counts one more lap.
func forwardFill(f *fit.File, cat *profile.Catalog, boundary *fit.Message, splitAt uint32) {
	ev := lapEvent(f, cat, boundary.Local, splitAt)
	f.Insert(f.Index(boundary), ev)

	for i, lap := range f.Laps() {
		if idx := lap.Field(profile.FieldMessageIndex); idx != nil {
			idx.SetRaw(uint64(i))
		}
	}

	sessions := f.Sessions()
	for _, s := range sessions {
		start, okStart := timeField(s, profile.SessionStartTime)
		end, okEnd := s.Timestamp()
		inside := okStart && okEnd && start <= splitAt && splitAt <= end
		if !inside && len(sessions) != 1 {
			continue
		}
		if n, ok := s.Uint(profile.SessionNumLaps); ok {
			setRaw(s, profile.SessionNumLaps, n+1)
		}
		break
	}
}

// lapEvent builds a lap stop event, reusing the layout of an existing event
// message when there is one.
func lapEvent(f *fit.File, cat *profile.Catalog, fallbackLocal uint8, ts uint32) *fit.Message {
	for _, e := range f.Events() {
		if e.Field(profile.EventEvent) == nil || e.Field(profile.EventEventType) == nil {
			continue
		}
		ev := e.Clone()
		for i := range ev.Fields {
			ev.Fields[i].Invalidate()
		}
		ev.SetTimestamp(ts)
		setRaw(ev, profile.EventEvent, profile.EventLap)
		setRaw(ev, profile.EventEventType, profile.EventTypeStop)
		return ev
	}

	ev := fit.NewMessage(cat, profile.MesgEvent, freeLocal(f, fallbackLocal))
	for _, num := range []uint8{profile.FieldTimestamp, profile.EventEvent, profile.EventEventType} {
		if desc, ok := cat.Field(profile.MesgEvent, num); ok {
			ev.Set(fit.NewField(desc))
		}
	}
	ev.SetTimestamp(ts)
	setRaw(ev, profile.EventEvent, profile.EventLap)
	setRaw(ev, profile.EventEventType, profile.EventTypeStop)
	return ev
}

// freeLocal returns the lowest local number no entity uses, or fallback.
func freeLocal(f *fit.File, fallback uint8) uint8 {
	var used [16]bool
	for _, e := range f.Entities {
		switch v := e.(type) {
		case *fit.MessageDefinition:
			used[v.Local&0x0F] = true
		case *fit.Message:
			used[v.Local&0x0F] = true
		}
	}
	for i, u := range used {
		if !u {
			return uint8(i)
		}
	}
	return fallback
}
