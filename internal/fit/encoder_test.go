package fit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fitgate/internal/basetype"
	"example.com/fitgate/internal/profile"
)

func stdField(t *testing.T, global uint16, num uint8) Field {
	t.Helper()
	desc, ok := profile.Standard().Field(global, num)
	require.True(t, ok, "no descriptor for %d/%d", global, num)
	return NewField(desc)
}

func builtActivity(t *testing.T) *File {
	t.Helper()
	cat := profile.Standard()
	f := NewFile()

	id := NewMessage(cat, profile.MesgFileID, 0)
	typ := stdField(t, profile.MesgFileID, profile.FileIDType)
	typ.SetRaw(4)
	created := stdField(t, profile.MesgFileID, profile.FileIDTimeCreated)
	created.SetRaw(999)
	name := stdField(t, profile.MesgFileID, 8)
	name.Bytes = []byte("edge\x00")
	id.Set(typ)
	id.Set(created)
	id.Set(name)
	f.Append(id)

	for i := 0; i < 3; i++ {
		rec := NewMessage(cat, profile.MesgRecord, 1)
		rec.SetTimestamp(uint32(1000 + i))
		hr := stdField(t, profile.MesgRecord, profile.RecordHeartRate)
		hr.SetFloat(float64(140 + i))
		alt := stdField(t, profile.MesgRecord, profile.RecordAltitude)
		alt.SetFloat(20.4)
		rec.Set(hr)
		rec.Set(alt)
		f.Append(rec)
	}
	return f
}

func TestEncodeRoundTrip(t *testing.T) {
	f := builtActivity(t)
	data, err := Marshal(f)
	require.NoError(t, err)

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)

	want := f.Messages()
	got := res.File.Messages()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Global, got[i].Global)
		assert.Equal(t, want[i].Name, got[i].Name)
		if diff := cmp.Diff(want[i].Fields, got[i].Fields); diff != "" {
			t.Fatalf("message %d fields mismatch (-want +got):\n%s", i, diff)
		}
	}
	// one definition per layout: file_id and record
	assert.Len(t, res.File.Entities, len(want)+2)

	again, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestEncodeQuantisesDisplayValues(t *testing.T) {
	f := builtActivity(t)
	alt, ok := f.Records()[0].Float(profile.RecordAltitude)
	require.True(t, ok)
	assert.InDelta(t, 20.4, alt, 1e-9)
	raw, _ := f.Records()[0].Uint(profile.RecordAltitude)
	assert.Equal(t, uint64(2602), raw)
}

func TestEncodeEmitsDefinitionOnLayoutChange(t *testing.T) {
	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(scenarioStream())
	require.NoError(t, err)
	f := res.File.Clone()

	extra := f.Records()[0].Clone()
	extra.SetTimestamp(1001)
	extra.Set(stdField(t, profile.MesgRecord, profile.RecordCadence))
	f.Append(extra)

	data, err := Marshal(f)
	require.NoError(t, err)
	back, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)

	var defs int
	for _, e := range back.File.Entities {
		if _, ok := e.(*MessageDefinition); ok {
			defs++
		}
	}
	assert.Equal(t, 3, defs)
	recs := back.File.Records()
	require.Len(t, recs, 2)
	assert.NotNil(t, recs[1].Field(profile.RecordCadence))
	assert.Nil(t, recs[0].Field(profile.RecordCadence))
}

func TestEncodePromotesCompressedTimestamp(t *testing.T) {
	b := &streamBuilder{}
	b.def(0, 20, tTimestamp, tHeartRate).data(0, cat(le32(1000), []byte{100})...)
	b.def(1, 20, tHeartRate)
	b.compressed(1, 0x0C, 101)
	b.compressed(1, 0x0E, 102)
	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(b.bytes())
	require.NoError(t, err)

	f := res.File.Clone()
	f.Records()[1].SetTimestamp(5000)
	f.Records()[2].SetTimestamp(5002)
	data, err := Marshal(f)
	require.NoError(t, err)

	back, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	recs := back.File.Records()
	require.Len(t, recs, 3)

	ts, _ := recs[1].Timestamp()
	assert.Equal(t, uint32(5000), ts)
	assert.False(t, recs[1].Compressed, "offset out of range is written explicitly")
	hr, _ := recs[1].Uint(profile.RecordHeartRate)
	assert.Equal(t, uint64(101), hr)

	ts, _ = recs[2].Timestamp()
	assert.Equal(t, uint32(5002), ts)
	assert.True(t, recs[2].Compressed, "follows the promoted time within range")
}

func TestEncodeRejectsBadLocal(t *testing.T) {
	f := NewFile()
	f.Append(&Message{Global: profile.MesgRecord, Local: 16, Fields: []Field{
		{Num: profile.RecordHeartRate, Type: basetype.Uint8, Scale: 1, Values: []uint64{1}},
	}})
	_, err := Marshal(f)
	assert.ErrorIs(t, err, ErrMalformedDataMessage)

	_, err = Marshal(nil)
	assert.Error(t, err)
}

func TestEncodeArrayAndPadding(t *testing.T) {
	f := NewFile()
	m := &Message{Global: profile.MesgHRV, Name: "hrv", Fields: []Field{
		{Num: 0, Type: basetype.Uint16, Scale: 1000, Values: []uint64{800, 810, 820}},
	}}
	f.Append(m)
	data, err := Marshal(f)
	require.NoError(t, err)

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	got := res.File.MessagesOf(profile.MesgHRV)
	require.Len(t, got, 1)
	assert.Equal(t, []uint64{800, 810, 820}, got[0].Field(0).Values)
	v, _ := got[0].Float(0)
	assert.InDelta(t, 0.8, v, 1e-9)
}
