package edit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

func field(t *testing.T, global uint16, num uint8, v float64) fit.Field {
	t.Helper()
	desc, ok := profile.Standard().Field(global, num)
	require.True(t, ok, "no descriptor %d/%d", global, num)
	f := fit.NewField(desc)
	f.SetFloat(v)
	return f
}

type lapSpec struct {
	start, end uint32
}

// activity builds a file with one record per entry in times, one lap per
// lapSpec and a session spanning all laps.
func activity(t *testing.T, times []uint32, laps ...lapSpec) *fit.File {
	t.Helper()
	cat := profile.Standard()
	f := fit.NewFile()

	id := fit.NewMessage(cat, profile.MesgFileID, 0)
	id.Set(field(t, profile.MesgFileID, profile.FileIDType, 4))
	f.Append(id)

	start := fit.NewMessage(cat, profile.MesgEvent, 4)
	start.SetTimestamp(times[0])
	start.Set(field(t, profile.MesgEvent, profile.EventEvent, profile.EventTimer))
	start.Set(field(t, profile.MesgEvent, profile.EventEventType, profile.EventTypeStart))
	f.Append(start)

	for i, ts := range times {
		rec := fit.NewMessage(cat, profile.MesgRecord, 1)
		rec.SetTimestamp(ts)
		rec.Set(field(t, profile.MesgRecord, profile.RecordHeartRate, float64(100+10*i)))
		rec.Set(field(t, profile.MesgRecord, profile.RecordDistance, float64(100*i)))
		rec.Set(field(t, profile.MesgRecord, profile.RecordSpeed, 2.5))
		f.Append(rec)
	}

	for i, l := range laps {
		lap := fit.NewMessage(cat, profile.MesgLap, 2)
		lap.Set(field(t, profile.MesgLap, profile.FieldMessageIndex, float64(i)))
		lap.SetTimestamp(l.end)
		lap.Set(field(t, profile.MesgLap, profile.LapStartTime, float64(l.start)))
		lap.Set(field(t, profile.MesgLap, profile.LapTotalElapsedTime, float64(l.end-l.start)))
		lap.Set(field(t, profile.MesgLap, profile.LapTotalTimerTime, float64(l.end-l.start)))
		lap.Set(field(t, profile.MesgLap, profile.LapTotalDistance, 400))
		lap.Set(field(t, profile.MesgLap, profile.LapTotalCalories, 100))
		lap.Set(field(t, profile.MesgLap, profile.LapAvgHeartRate, 0))
		lap.Set(field(t, profile.MesgLap, profile.LapMaxHeartRate, 0))
		lap.Set(field(t, profile.MesgLap, profile.LapAvgSpeed, 0))
		lap.Set(field(t, profile.MesgLap, profile.LapTrigger, profile.LapTriggerSession))
		f.Append(lap)
	}

	if len(laps) > 0 {
		s := fit.NewMessage(cat, profile.MesgSession, 3)
		s.SetTimestamp(laps[len(laps)-1].end)
		s.Set(field(t, profile.MesgSession, profile.SessionStartTime, float64(laps[0].start)))
		s.Set(field(t, profile.MesgSession, profile.SessionTotalElapsedTime, float64(laps[len(laps)-1].end-laps[0].start)))
		s.Set(field(t, profile.MesgSession, profile.SessionNumLaps, float64(len(laps))))
		f.Append(s)
	}
	return f
}

func recordTimes(f *fit.File) []uint32 {
	var out []uint32
	for _, r := range f.Records() {
		ts, _ := r.Timestamp()
		out = append(out, ts)
	}
	return out
}

func marshal(t *testing.T, f *fit.File) []byte {
	t.Helper()
	b, err := fit.Marshal(f)
	require.NoError(t, err)
	return b
}

func TestApplyChain(t *testing.T) {
	f := activity(t, []uint32{0, 10, 200, 210}, lapSpec{0, 220})
	split := &SplitLap{Record: 2}
	out, err := Apply(f, RemoveGaps{Threshold: 60e9}, split)
	require.NoError(t, err)
	require.True(t, split.Applied())
	require.Equal(t, []uint32{0, 10, 11, 21}, recordTimes(out))
	require.Len(t, out.Laps(), 2)

	_, err = Apply(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
}
