package store

import (
	"strconv"
	"time"

	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

// Activity is the display projection of a stored file.
type Activity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Sport     string    `json:"sport,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	Duration  float64   `json:"durationSeconds"`
	Distance  float64   `json:"distanceMeters"`
	Records   int       `json:"records"`
	Laps      int       `json:"laps"`
	Discarded int       `json:"discarded"`
	Issues    []string  `json:"issues,omitempty"`
	Size      int       `json:"size"`
	Hash      string    `json:"sha256"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

var sportNames = map[uint64]string{
	0:  "generic",
	1:  "running",
	2:  "cycling",
	3:  "transition",
	4:  "fitness_equipment",
	5:  "swimming",
	10: "training",
	11: "walking",
	13: "alpine_skiing",
	17: "hiking",
	19: "rowing",
}

// Project fills the summary fields of a from the decoded file. Session
// totals win; records are the fallback.
func Project(a *Activity, f *fit.File) {
	recs := f.Records()
	a.Records = len(recs)
	a.Laps = len(f.Laps())
	a.Sport, a.Start, a.Duration, a.Distance = "", time.Time{}, 0, 0

	var first, last uint32
	var haveTime bool
	for _, r := range recs {
		ts, ok := r.Timestamp()
		if !ok {
			continue
		}
		if !haveTime {
			first, haveTime = ts, true
		}
		last = ts
	}
	if haveTime {
		a.Start = fit.ToTime(first)
		if last >= first {
			a.Duration = float64(last - first)
		}
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if d, ok := recs[i].Float(profile.RecordDistance); ok {
			a.Distance = d
			break
		}
	}

	sessions := f.Sessions()
	if len(sessions) == 0 {
		return
	}
	s := sessions[0]
	if v, ok := s.Uint(profile.SessionSport); ok {
		if name, known := sportNames[v]; known {
			a.Sport = name
		} else {
			a.Sport = "sport_" + strconv.FormatUint(v, 10)
		}
	}
	if v, ok := s.Uint(profile.SessionStartTime); ok {
		a.Start = fit.ToTime(uint32(v))
	}
	var elapsed, distance float64
	for _, s := range sessions {
		if v, ok := s.Float(profile.SessionTotalElapsedTime); ok {
			elapsed += v
		}
		if v, ok := s.Float(profile.SessionTotalDistance); ok {
			distance += v
		}
	}
	if elapsed > 0 {
		a.Duration = elapsed
	}
	if distance > 0 {
		a.Distance = distance
	}
}
