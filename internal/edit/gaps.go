package edit

import (
	"fmt"
	"sort"
	"time"

	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

// RemoveGaps collapses every pause between adjacent records of at least
// Threshold to one second and shifts everything after it back by the same
// amount.
type RemoveGaps struct {
	Threshold time.Duration
}

func (RemoveGaps) Name() string { return "remove-gaps" }

func (g RemoveGaps) Params() map[string]interface{} {
	return map[string]interface{}{"threshold": g.Threshold.String()}
}

// shiftPoint maps one record's original time to its new time.
type shiftPoint struct {
	orig  uint32
	moved uint32
}

func (g RemoveGaps) Apply(f *fit.File) (*fit.File, error) {
	if g.Threshold < time.Second {
		return nil, fmt.Errorf("%w: threshold %s below one second", ErrInvalidParameter, g.Threshold)
	}
	threshold := int64(g.Threshold / time.Second)
	out := f.Clone()

	var points []shiftPoint
	var prevOrig, prevMoved int64
	for _, rec := range out.Records() {
		ts, ok := rec.Timestamp()
		if !ok {
			continue
		}
		moved := int64(ts)
		if len(points) > 0 {
			delta := int64(ts) - prevOrig
			if delta < 0 {
				delta = 0
			}
			if delta >= threshold {
				delta = 1
			}
			moved = prevMoved + delta
		}
		points = append(points, shiftPoint{orig: ts, moved: uint32(moved)})
		if uint32(moved) != ts {
			rec.SetTimestamp(uint32(moved))
		}
		prevOrig, prevMoved = int64(ts), moved
	}
	if len(points) == 0 {
		return out, nil
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].orig < points[j].orig })
	tl := timeline(points)
	for _, m := range out.Messages() {
		if m.Global == profile.MesgRecord {
			continue
		}
		endMoved := false
		if ts, ok := m.Timestamp(); ok {
			if moved := tl.move(ts); moved != ts {
				m.SetTimestamp(moved)
				endMoved = true
			}
		}
		if m.Global == profile.MesgLap || m.Global == profile.MesgSession {
			backfillBounds(m, tl, endMoved)
		}
	}
	return out, nil
}

type timeline []shiftPoint

// move maps t onto the new timeline. t keeps the shift of the closest record
// at or before it, but never passes the record that follows.
func (tl timeline) move(t uint32) uint32 {
	i := sort.Search(len(tl), func(i int) bool { return tl[i].orig > t })
	if i == 0 {
		if tl[0].moved < t {
			return tl[0].moved
		}
		return t
	}
	prev := tl[i-1]
	shift := int64(prev.orig) - int64(prev.moved)
	moved := int64(t) - shift
	if i < len(tl) && moved > int64(tl[i].moved) {
		moved = int64(tl[i].moved)
	}
	if moved < 0 {
		moved = 0
	}
	return uint32(moved)
}

// backfillBounds moves a lap or session start time and, when either bound
// moved, re-derives the elapsed time from the new bounds.
func backfillBounds(m *fit.Message, tl timeline, endMoved bool) {
	startNum, elapsedNum, timerNum := profile.LapStartTime, profile.LapTotalElapsedTime, profile.LapTotalTimerTime
	if m.Global == profile.MesgSession {
		startNum, elapsedNum, timerNum = profile.SessionStartTime, profile.SessionTotalElapsedTime, profile.SessionTotalTimerTime
	}
	start, ok := timeField(m, startNum)
	if !ok {
		return
	}
	moved := tl.move(start)
	if moved == start && !endMoved {
		return
	}
	setRaw(m, startNum, uint64(moved))

	end, ok := m.Timestamp()
	if !ok || end < moved {
		return
	}
	elapsed := float64(end - moved)
	if _, ok := m.Float(elapsedNum); ok {
		setFloat(m, elapsedNum, elapsed, true)
	}
	if timer, ok := m.Float(timerNum); ok && timer > elapsed {
		setFloat(m, timerNum, elapsed, true)
	}
}
