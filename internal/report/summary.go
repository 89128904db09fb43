package report

import (
	"os"
	"time"

	"github.com/goccy/go-json"

	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
	"example.com/fitgate/internal/store"
)

// Summary is everything the activity report shows.
type Summary struct {
	Name      string        `json:"name"`
	Sport     string        `json:"sport,omitempty"`
	Start     time.Time     `json:"start,omitempty"`
	Duration  time.Duration `json:"duration"`
	Distance  float64       `json:"distanceMeters"`
	Records   int           `json:"records"`
	Discarded int           `json:"discarded"`
	Hash      string        `json:"sha256"`
	Laps      []LapRow      `json:"laps"`
	Issues    []string      `json:"issues,omitempty"`
}

type LapRow struct {
	Index    int           `json:"index"`
	Start    time.Time     `json:"start"`
	Elapsed  time.Duration `json:"elapsed"`
	Distance *float64      `json:"distanceMeters,omitempty"`
	AvgHR    *float64      `json:"avgHeartRate,omitempty"`
	MaxHR    *float64      `json:"maxHeartRate,omitempty"`
	AvgSpeed *float64      `json:"avgSpeed,omitempty"`
}

func optional(m *fit.Message, num uint8) *float64 {
	if v, ok := m.Float(num); ok {
		return &v
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// LapRows reads the lap table of f.
func LapRows(f *fit.File) []LapRow {
	laps := f.Laps()
	rows := make([]LapRow, 0, len(laps))
	for i, lap := range laps {
		row := LapRow{
			Index:    i + 1,
			Distance: optional(lap, profile.LapTotalDistance),
			AvgHR:    optional(lap, profile.LapAvgHeartRate),
			MaxHR:    optional(lap, profile.LapMaxHeartRate),
			AvgSpeed: optional(lap, profile.LapAvgSpeed),
		}
		if v, ok := lap.Uint(profile.LapStartTime); ok {
			row.Start = fit.ToTime(uint32(v))
		}
		if v, ok := lap.Float(profile.LapTotalElapsedTime); ok {
			row.Elapsed = seconds(v)
		}
		rows = append(rows, row)
	}
	return rows
}

func SaveSummaryJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func LoadSummaryJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}

// NewSummary combines the stored projection with the lap table of f.
func NewSummary(a store.Activity, f *fit.File) Summary {
	return Summary{
		Name:      a.Name,
		Sport:     a.Sport,
		Start:     a.Start,
		Duration:  seconds(a.Duration),
		Distance:  a.Distance,
		Records:   a.Records,
		Discarded: a.Discarded,
		Hash:      a.Hash,
		Laps:      LapRows(f),
		Issues:    a.Issues,
	}
}
