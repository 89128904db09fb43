package edit

import (
	"fmt"
	"math"

	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

// SplitLap splits the lap containing the record at index Record (counted
// over all records of the file) into two laps at that record. When no lap
// contains the record, or the record opens its lap, Apply returns an
// unchanged copy and Applied reports false.
type SplitLap struct {
	Record  int
	Catalog *profile.Catalog

	applied bool
}

func (*SplitLap) Name() string { return "split-lap" }

func (s *SplitLap) Params() map[string]interface{} {
	return map[string]interface{}{"record": s.Record}
}

// Applied reports whether the last Apply changed the file.
func (s *SplitLap) Applied() bool { return s.applied }

// lapSpan is a lap with the bounds of its half-open interval.
type lapSpan struct {
	msg        *fit.Message
	start, end uint32
}

func spanOf(lap *fit.Message) (lapSpan, bool) {
	start, okStart := timeField(lap, profile.LapStartTime)
	end, okEnd := lap.Timestamp()
	if !okStart || !okEnd {
		return lapSpan{}, false
	}
	return lapSpan{msg: lap, start: start, end: end}, true
}

func (sp lapSpan) contains(ts uint32) bool {
	return sp.start <= ts && ts < sp.end
}

// recordsIn returns the records whose time falls in the span, in file order.
func recordsIn(recs []*fit.Message, sp lapSpan) []*fit.Message {
	var out []*fit.Message
	for _, r := range recs {
		if ts, ok := r.Timestamp(); ok && sp.contains(ts) {
			out = append(out, r)
		}
	}
	return out
}

func (s *SplitLap) Apply(f *fit.File) (*fit.File, error) {
	s.applied = false
	recs := f.Records()
	if s.Record < 0 || s.Record >= len(recs) {
		return nil, fmt.Errorf("%w: record %d of %d", ErrInvalidParameter, s.Record, len(recs))
	}
	out := f.Clone()
	recs = out.Records()
	target := recs[s.Record]
	splitAt, ok := target.Timestamp()
	if !ok {
		return nil, fmt.Errorf("%w: record %d", ErrNoTimestamps, s.Record)
	}

	var span lapSpan
	found := false
	for _, lap := range out.Laps() {
		if sp, ok := spanOf(lap); ok && sp.contains(splitAt) {
			span, found = sp, true
			break
		}
	}
	if !found {
		return out, nil
	}
	members := recordsIn(recs, span)
	idx := -1
	for i, r := range members {
		if r == target {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return out, nil
	}
	if ts, _ := members[idx-1].Timestamp(); ts == splitAt {
		// records sharing the split time would land in both halves
		return out, nil
	}

	first := span.msg.Clone()
	second := span.msg.Clone()
	aggFirst := NewAggregator(members[:idx], span.start, splitAt)
	aggSecond := NewAggregator(members[idx:], splitAt, span.end)
	fillLap(first, span, aggFirst)
	fillLap(second, span, aggSecond)
	first.SetTimestamp(splitAt)
	setRaw(second, profile.LapStartTime, uint64(splitAt))
	if v, ok := first.Uint(profile.LapTrigger); ok && v != profile.LapTriggerManual {
		setRaw(first, profile.LapTrigger, profile.LapTriggerManual)
	}
	splitTotals(span.msg, first, second)
	splitDistance(span.msg, first, second, aggFirst, aggSecond)

	at := out.Index(span.msg)
	out.Entities[at] = first
	out.Insert(at+1, second)

	cat := s.Catalog
	if cat == nil {
		cat = profile.Standard()
	}
	forwardFill(out, cat, target, splitAt)
	s.applied = true
	return out, nil
}

// fillLap recomputes the record-derived statistics of lap over agg. Only
// fields already in the lap layout are written.
func fillLap(lap *fit.Message, span lapSpan, agg *Aggregator) {
	elapsed := agg.Elapsed()
	setFloat(lap, profile.LapTotalElapsedTime, elapsed, true)
	if timer, ok := lap.Float(profile.LapTotalTimerTime); ok {
		whole := float64(span.end - span.start)
		if whole > 0 {
			setFloat(lap, profile.LapTotalTimerTime, timer*elapsed/whole, true)
		} else {
			setFloat(lap, profile.LapTotalTimerTime, elapsed, true)
		}
	}

	speed, alt := profile.RecordSpeed, profile.RecordAltitude
	if _, ok := agg.First(speed); !ok {
		speed = profile.RecordEnhancedSpeed
	}
	if _, ok := agg.First(alt); !ok {
		alt = profile.RecordEnhancedAltitude
	}

	stats := []struct {
		lapField uint8
		compute  func() (float64, bool)
	}{
		{profile.LapAvgSpeed, func() (float64, bool) { return agg.WeightedAvg(speed) }},
		{profile.LapMaxSpeed, func() (float64, bool) { return agg.Max(speed) }},
		{profile.LapAvgHeartRate, func() (float64, bool) { return agg.WeightedAvg(profile.RecordHeartRate) }},
		{profile.LapMaxHeartRate, func() (float64, bool) { return agg.Max(profile.RecordHeartRate) }},
		{profile.LapMinHeartRate, func() (float64, bool) { return agg.Min(profile.RecordHeartRate) }},
		{profile.LapAvgCadence, func() (float64, bool) { return agg.WeightedAvg(profile.RecordCadence) }},
		{profile.LapMaxCadence, func() (float64, bool) { return agg.Max(profile.RecordCadence) }},
		{profile.LapAvgPower, func() (float64, bool) { return agg.WeightedAvg(profile.RecordPower) }},
		{profile.LapMaxPower, func() (float64, bool) { return agg.Max(profile.RecordPower) }},
		{profile.LapAvgAltitude, func() (float64, bool) { return agg.WeightedAvg(alt) }},
		{profile.LapMaxAltitude, func() (float64, bool) { return agg.Max(alt) }},
		{profile.LapMinAltitude, func() (float64, bool) { return agg.Min(alt) }},
	}
	for _, st := range stats {
		if lap.Field(st.lapField) == nil {
			continue
		}
		v, ok := st.compute()
		setFloat(lap, st.lapField, v, ok)
	}

	if lap.Field(profile.LapTotalAscent) != nil || lap.Field(profile.LapTotalDescent) != nil {
		up, down, ok := agg.Climb(alt)
		setFloat(lap, profile.LapTotalAscent, math.Round(up), ok)
		setFloat(lap, profile.LapTotalDescent, math.Round(down), ok)
	}

	lat, lon, ok := agg.Position(profile.RecordPositionLat, profile.RecordPositionLong, false)
	setFloat(lap, profile.LapStartPositionLat, float64(lat), ok)
	setFloat(lap, profile.LapStartPositionLon, float64(lon), ok)
	lat, lon, ok = agg.Position(profile.RecordPositionLat, profile.RecordPositionLong, true)
	setFloat(lap, profile.LapEndPositionLat, float64(lat), ok)
	setFloat(lap, profile.LapEndPositionLon, float64(lon), ok)
}

// splitTotals divides calories and cycles of orig between the two halves by
// elapsed time. The halves add up to the original.
func splitTotals(orig, first, second *fit.Message) {
	firstElapsed, _ := first.Float(profile.LapTotalElapsedTime)
	secondElapsed, _ := second.Float(profile.LapTotalElapsedTime)
	ratio := 0.5
	if total := firstElapsed + secondElapsed; total > 0 {
		ratio = firstElapsed / total
	}
	for _, num := range []uint8{profile.LapTotalCalories, profile.LapTotalCycles} {
		whole, ok := orig.Float(num)
		if !ok {
			continue
		}
		a := math.Round(whole * ratio)
		setFloat(first, num, a, true)
		setFloat(second, num, whole-a, true)
	}
}

// splitDistance divides the lap distance using the record distance counter.
func splitDistance(orig, first, second *fit.Message, firstRecs, secondRecs *Aggregator) {
	whole, okWhole := orig.Float(profile.LapTotalDistance)
	startB, okB := secondRecs.First(profile.RecordDistance)
	endB, okEndB := secondRecs.Last(profile.RecordDistance)
	startA, okA := firstRecs.First(profile.RecordDistance)

	switch {
	case okWhole && okB && okEndB:
		b := math.Max(0, math.Min(whole, endB-startB))
		setFloat(first, profile.LapTotalDistance, whole-b, true)
		setFloat(second, profile.LapTotalDistance, b, true)
	case okA && okB && okEndB:
		setFloat(first, profile.LapTotalDistance, startB-startA, true)
		setFloat(second, profile.LapTotalDistance, endB-startB, true)
	}
}
