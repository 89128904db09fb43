package edit

import (
	"math"

	"example.com/fitgate/internal/fit"
)

// Aggregator computes lap statistics over a contiguous run of records. Each
// record contributes the time until the next record; the last one
// contributes the time until the end of the range.
type Aggregator struct {
	recs      []*fit.Message
	durations []float64
	start     uint32
	end       uint32
}

// NewAggregator prepares statistics over recs, which cover [start, end).
func NewAggregator(recs []*fit.Message, start, end uint32) *Aggregator {
	a := &Aggregator{recs: recs, durations: make([]float64, len(recs)), start: start, end: end}
	for i, r := range recs {
		ts, ok := r.Timestamp()
		if !ok {
			continue
		}
		next := end
		for j := i + 1; j < len(recs); j++ {
			if nts, ok := recs[j].Timestamp(); ok {
				next = nts
				break
			}
		}
		if next > ts {
			a.durations[i] = float64(next - ts)
		}
	}
	return a
}

// Len is the number of records.
func (a *Aggregator) Len() int { return len(a.recs) }

// Elapsed is the length of the range in seconds.
func (a *Aggregator) Elapsed() float64 {
	if a.end < a.start {
		return 0
	}
	return float64(a.end - a.start)
}

// WeightedAvg averages field num weighted by record duration. When no valid
// record has a duration the plain mean is returned.
func (a *Aggregator) WeightedAvg(num uint8) (float64, bool) {
	var sum, weight, plain float64
	n := 0
	for i, r := range a.recs {
		v, ok := r.Float(num)
		if !ok {
			continue
		}
		sum += v * a.durations[i]
		weight += a.durations[i]
		plain += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	if weight == 0 {
		return plain / float64(n), true
	}
	return sum / weight, true
}

func (a *Aggregator) Max(num uint8) (float64, bool) {
	out, found := math.Inf(-1), false
	for _, r := range a.recs {
		if v, ok := r.Float(num); ok {
			out, found = math.Max(out, v), true
		}
	}
	return out, found
}

func (a *Aggregator) Min(num uint8) (float64, bool) {
	out, found := math.Inf(1), false
	for _, r := range a.recs {
		if v, ok := r.Float(num); ok {
			out, found = math.Min(out, v), true
		}
	}
	return out, found
}

func (a *Aggregator) Sum(num uint8) (float64, bool) {
	var out float64
	found := false
	for _, r := range a.recs {
		if v, ok := r.Float(num); ok {
			out += v
			found = true
		}
	}
	return out, found
}

// Climb sums the positive and negative steps of field num between
// consecutive valid records.
func (a *Aggregator) Climb(num uint8) (ascent, descent float64, ok bool) {
	prev, have := 0.0, false
	for _, r := range a.recs {
		v, valid := r.Float(num)
		if !valid {
			continue
		}
		if have {
			if d := v - prev; d > 0 {
				ascent += d
			} else {
				descent -= d
			}
			ok = true
		}
		prev, have = v, true
	}
	return ascent, descent, ok
}

// First and Last return the first and last valid value of field num.
func (a *Aggregator) First(num uint8) (float64, bool) {
	for _, r := range a.recs {
		if v, ok := r.Float(num); ok {
			return v, true
		}
	}
	return 0, false
}

func (a *Aggregator) Last(num uint8) (float64, bool) {
	for i := len(a.recs) - 1; i >= 0; i-- {
		if v, ok := a.recs[i].Float(num); ok {
			return v, true
		}
	}
	return 0, false
}

// Position returns the first (or last) record with both coordinates valid,
// as raw semicircles.
func (a *Aggregator) Position(latNum, lonNum uint8, last bool) (lat, lon int64, ok bool) {
	n := len(a.recs)
	for k := 0; k < n; k++ {
		i := k
		if last {
			i = n - 1 - k
		}
		la, okLat := a.recs[i].Int(latNum)
		lo, okLon := a.recs[i].Int(lonNum)
		if okLat && okLon {
			return la, lo, true
		}
	}
	return 0, 0, false
}
