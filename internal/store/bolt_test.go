package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/edit"
	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

const base = 1_000_000_000

func set(t *testing.T, m *fit.Message, num uint8, v float64) {
	t.Helper()
	desc, ok := profile.Standard().Field(m.Global, num)
	require.True(t, ok, "no descriptor %d/%d", m.Global, num)
	f := fit.NewField(desc)
	f.SetFloat(v)
	m.Set(f)
}

// sample encodes a running activity with one record per offset.
func sample(t *testing.T, offsets ...uint32) []byte {
	t.Helper()
	cat := profile.Standard()
	f := fit.NewFile()
	id := fit.NewMessage(cat, profile.MesgFileID, 0)
	set(t, id, profile.FileIDType, 4)
	f.Append(id)
	for i, off := range offsets {
		rec := fit.NewMessage(cat, profile.MesgRecord, 1)
		rec.SetTimestamp(base + off)
		set(t, rec, profile.RecordHeartRate, float64(120+i))
		set(t, rec, profile.RecordDistance, float64(10*i))
		f.Append(rec)
	}
	first, last := offsets[0], offsets[len(offsets)-1]
	lap := fit.NewMessage(cat, profile.MesgLap, 2)
	lap.SetTimestamp(base + last + 1)
	set(t, lap, profile.LapStartTime, float64(base+first))
	set(t, lap, profile.LapTotalElapsedTime, float64(last+1-first))
	set(t, lap, profile.LapAvgHeartRate, 0)
	f.Append(lap)
	s := fit.NewMessage(cat, profile.MesgSession, 3)
	s.SetTimestamp(base + last + 1)
	set(t, s, profile.SessionStartTime, float64(base+first))
	set(t, s, profile.SessionSport, 1)
	set(t, s, profile.SessionTotalElapsedTime, float64(last+1-first))
	set(t, s, profile.SessionTotalDistance, float64(10*(len(offsets)-1)))
	set(t, s, profile.SessionNumLaps, 1)
	f.Append(s)
	b, err := fit.Marshal(f)
	require.NoError(t, err)
	return b
}

func open(t *testing.T, opts Options) *Bolt {
	t.Helper()
	if opts.Logger == nil {
		l, _ := test.NewNullLogger()
		opts.Logger = l
	}
	if opts.Policy == (fit.Policy{}) {
		opts.Policy = fit.DefaultPolicy()
	}
	s, err := Open(filepath.Join(t.TempDir(), "db", "fitgate.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetList(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	raw := sample(t, 0, 10, 20)

	a, err := s.Create(ctx, "morning run", raw)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "morning run", a.Name)
	assert.Equal(t, "running", a.Sport)
	assert.Equal(t, fit.ToTime(base), a.Start)
	assert.Equal(t, 21.0, a.Duration)
	assert.Equal(t, 20.0, a.Distance)
	assert.Equal(t, 3, a.Records)
	assert.Equal(t, 1, a.Laps)
	assert.Equal(t, len(raw), a.Size)
	assert.Equal(t, common.Sha256Hex(raw), a.Hash)

	got, f, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Len(t, f.Records(), 3)

	back, err := s.Raw(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, back)

	b, err := s.Create(ctx, "later", sample(t, 3600, 3610))
	require.NoError(t, err)
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "newest first")
	assert.Equal(t, a.ID, list[1].ID)
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	raw := sample(t, 0, 10)
	a, err := s.Create(ctx, "a", raw)
	require.NoError(t, err)
	dup, err := s.Create(ctx, "b", raw)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, a.ID, dup.ID)
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRejects(t *testing.T) {
	s := open(t, Options{})
	_, err := s.Create(context.Background(), "junk", []byte("not a fit file at all"))
	assert.ErrorIs(t, err, ErrRejected)

	raw := sample(t, 0, 10)
	raw[len(raw)-1] ^= 0xFF
	_, err = s.Create(context.Background(), "bad crc", raw)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, fit.ErrChecksumMismatch)
}

func TestCreateLenientKeepsIssues(t *testing.T) {
	s := open(t, Options{Policy: fit.LenientPolicy()})
	raw := sample(t, 0, 10)
	raw[len(raw)-1] ^= 0xFF
	a, err := s.Create(context.Background(), "bad crc", raw)
	require.NoError(t, err)
	require.Len(t, a.Issues, 1)
	assert.Contains(t, a.Issues[0], "tolerated: ")
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	_, _, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Raw(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "nope", edit.RemoveGaps{Threshold: time.Minute})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), ErrNotFound)
}

func TestUpdateAppliesEdits(t *testing.T) {
	ctx := context.Background()
	logPath := filepath.Join(t.TempDir(), "edits.jsonl")
	s := open(t, Options{EditLog: common.NewEditLog(logPath), Metrics: common.NewMetrics()})
	a, err := s.Create(ctx, "paused", sample(t, 0, 10, 200, 210))
	require.NoError(t, err)
	assert.Equal(t, 211.0, a.Duration)

	split := &edit.SplitLap{Record: 2}
	u, err := s.Update(ctx, a.ID, edit.RemoveGaps{Threshold: time.Minute}, split)
	require.NoError(t, err)
	assert.True(t, split.Applied())
	assert.Equal(t, 22.0, u.Duration)
	assert.Equal(t, 2, u.Laps)
	assert.NotEqual(t, a.Hash, u.Hash)
	assert.True(t, !u.Updated.Before(a.Updated))

	_, f, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	var times []uint32
	for _, r := range f.Records() {
		ts, _ := r.Timestamp()
		times = append(times, ts-base)
	}
	assert.Equal(t, []uint32{0, 10, 11, 21}, times)

	entries, err := common.ReadEditLog(logPath)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "remove-gaps", entries[0].Edit)
	assert.Equal(t, "split-lap", entries[1].Edit)
	assert.Equal(t, a.Hash, entries[0].BeforeHash)
	assert.Equal(t, u.Hash, entries[1].AfterHash)
	assert.True(t, entries[1].Applied)

	// the old content no longer counts as a duplicate
	_, err = s.Create(ctx, "again", sample(t, 0, 10, 200, 210))
	assert.NoError(t, err)
}

func TestUpdateRejectsBadEdit(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	raw := sample(t, 0, 10)
	a, err := s.Create(ctx, "x", raw)
	require.NoError(t, err)
	_, err = s.Update(ctx, a.ID, &edit.SplitLap{Record: 9})
	assert.ErrorIs(t, err, edit.ErrInvalidParameter)
	back, err := s.Raw(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, back, "failed edit leaves bytes untouched")
}

func TestUpdateKeepsOtherDedupeEntry(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	raw := sample(t, 0, 10, 200, 210)
	gaps := edit.RemoveGaps{Threshold: time.Minute}

	a, err := s.Create(ctx, "first", raw)
	require.NoError(t, err)
	a, err = s.Update(ctx, a.ID, gaps)
	require.NoError(t, err)
	b, err := s.Create(ctx, "second", raw)
	require.NoError(t, err)

	_, err = s.Update(ctx, b.ID, gaps)
	assert.ErrorIs(t, err, ErrDuplicate)
	back, err := s.Raw(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, back, "conflicting edit leaves bytes untouched")

	require.NoError(t, s.Delete(ctx, b.ID))
	edited, err := s.Raw(ctx, a.ID)
	require.NoError(t, err)
	dup, err := s.Create(ctx, "third", edited)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, a.ID, dup.ID)
}

func TestProjectIgnoresBackwardsClock(t *testing.T) {
	cat := profile.Standard()
	f := fit.NewFile()
	for _, off := range []uint32{100, 50} {
		rec := fit.NewMessage(cat, profile.MesgRecord, 0)
		rec.SetTimestamp(base + off)
		f.Append(rec)
	}
	var a Activity
	Project(&a, f)
	assert.Equal(t, 2, a.Records)
	assert.Equal(t, fit.ToTime(base+100), a.Start)
	assert.Zero(t, a.Duration)
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s := open(t, Options{})
	a, err := s.Create(ctx, "x", sample(t, 0, 10, 200, 210, 900))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, a.ID, edit.RemoveGaps{Threshold: time.Minute})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	_, f, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	last, _ := f.Records()[4].Timestamp()
	assert.Equal(t, uint32(base+22), last)
}

func TestDeleteAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fitgate.db")
	l, hook := test.NewNullLogger()
	s, err := Open(path, Options{Policy: fit.DefaultPolicy(), Logger: l})
	require.NoError(t, err)
	keep, err := s.Create(ctx, "keep", sample(t, 0, 10))
	require.NoError(t, err)
	drop, err := s.Create(ctx, "drop", sample(t, 100, 110))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, drop.ID))
	require.NoError(t, s.Close())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	s, err = Open(path, Options{Policy: fit.DefaultPolicy(), Logger: l})
	require.NoError(t, err)
	defer s.Close()
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)

	// deleted bytes may be stored again
	_, err = s.Create(ctx, "drop", sample(t, 100, 110))
	assert.NoError(t, err)
}

func TestContextCancelled(t *testing.T) {
	s := open(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Create(ctx, "x", sample(t, 0))
	assert.ErrorIs(t, err, context.Canceled)
}
