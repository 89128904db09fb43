package fit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fitgate/internal/profile"
)

func TestTimeConversion(t *testing.T) {
	assert.Equal(t, Epoch, ToTime(0))
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, ToTime(FromTime(ts)))
	assert.Equal(t, uint32(0), FromTime(Epoch.Add(-time.Hour)))
}

func TestFieldInvalidAndDisplay(t *testing.T) {
	hr := stdField(t, profile.MesgRecord, profile.RecordHeartRate)
	assert.False(t, hr.Valid())
	_, ok := hr.Float()
	assert.False(t, ok)

	hr.SetFloat(151.6)
	v, ok := hr.Float()
	require.True(t, ok)
	assert.Equal(t, 152.0, v)

	hr.Invalidate()
	assert.False(t, hr.Valid())

	var nilField *Field
	_, ok = nilField.Raw()
	assert.False(t, ok)
	assert.False(t, nilField.Valid())
}

func TestMessageTimestampForms(t *testing.T) {
	m := &Message{Global: profile.MesgRecord, Compressed: true, CompressedTime: 77}
	ts, ok := m.Timestamp()
	require.True(t, ok)
	assert.Equal(t, uint32(77), ts)
	m.SetTimestamp(80)
	assert.Equal(t, uint32(80), m.CompressedTime)
	assert.Nil(t, m.Field(profile.FieldTimestamp))

	plain := &Message{Global: profile.MesgEvent}
	_, ok = plain.Timestamp()
	assert.False(t, ok)
	plain.SetTimestamp(90)
	ts, ok = plain.Timestamp()
	require.True(t, ok)
	assert.Equal(t, uint32(90), ts)
	assert.Equal(t, profile.FieldTimestamp, plain.Fields[0].Num)
}

func TestFileCloneIsDeep(t *testing.T) {
	f := builtActivity(t)
	c := f.Clone()
	c.Records()[0].SetTimestamp(5)
	c.Records()[0].Field(profile.RecordHeartRate).SetRaw(1)

	ts, _ := f.Records()[0].Timestamp()
	assert.Equal(t, uint32(1000), ts)
	hr, _ := f.Records()[0].Uint(profile.RecordHeartRate)
	assert.Equal(t, uint64(140), hr)
}

func TestFileInsertAndIndex(t *testing.T) {
	f := builtActivity(t)
	recs := f.Records()
	ev := &Message{Global: profile.MesgEvent, Name: "event"}
	at := f.Index(recs[1])
	require.Greater(t, at, 0)
	f.Insert(at, ev)
	assert.Equal(t, at, f.Index(ev))
	assert.Equal(t, at+1, f.Index(recs[1]))
	assert.Equal(t, -1, f.Index(&Message{}))
	assert.NotNil(t, f.FileID())
	assert.Len(t, f.Events(), 1)
}

func TestMessageSetRemove(t *testing.T) {
	m := &Message{Global: profile.MesgRecord}
	m.Set(stdField(t, profile.MesgRecord, profile.RecordHeartRate))
	m.Set(stdField(t, profile.MesgRecord, profile.RecordCadence))
	hr := stdField(t, profile.MesgRecord, profile.RecordHeartRate)
	hr.SetRaw(99)
	m.Set(hr)
	require.Len(t, m.Fields, 2)
	v, _ := m.Uint(profile.RecordHeartRate)
	assert.Equal(t, uint64(99), v)
	assert.NotNil(t, m.FieldByName("cadence"))

	m.Remove(profile.RecordHeartRate)
	assert.Len(t, m.Fields, 1)
	assert.Nil(t, m.Field(profile.RecordHeartRate))
}
