package fit

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fitgate/internal/profile"
)

func quietDecoder(p Policy) *Decoder {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewDecoder(nil, p, WithLogger(l))
}

func TestDecodeScenario(t *testing.T) {
	data := scenarioStream()
	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Empty(t, res.Issues)
	assert.NoError(t, res.Err())
	assert.Nil(t, res.Warnings())

	msgs := res.File.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "file_id", msgs[0].Name)
	assert.Equal(t, "record", msgs[1].Name)

	ts, ok := msgs[1].Timestamp()
	require.True(t, ok)
	assert.Equal(t, uint32(1000), ts)
	hr, ok := msgs[1].Float(profile.RecordHeartRate)
	require.True(t, ok)
	assert.Equal(t, 150.0, hr)

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeHeader(t *testing.T) {
	res, err := Decode(scenarioStream(), DefaultPolicy())
	require.NoError(t, err)
	h := res.File.Header
	assert.Equal(t, uint8(14), h.Size)
	assert.Equal(t, ProtocolVersion, h.Protocol)
	assert.Equal(t, ProfileVersion, h.Profile)
	assert.Equal(t, DataType, h.DataType)
	assert.False(t, h.SkipCRC)
}

func TestDecodeScaleOffset(t *testing.T) {
	b := &streamBuilder{}
	b.def(0, 20, tTimestamp, tAltitude).data(0, cat(le32(10), le16(2600))...)
	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(b.bytes())
	require.NoError(t, err)
	rec := res.File.Records()[0]
	alt, ok := rec.Float(profile.RecordAltitude)
	require.True(t, ok)
	assert.InDelta(t, 20.0, alt, 1e-9)
	f := rec.Field(profile.RecordAltitude)
	assert.Equal(t, "m", f.Units)
	assert.Equal(t, 5.0, f.Scale)
	assert.Equal(t, 500.0, f.Offset)
}

func TestDecodeAccumulatorRollover(t *testing.T) {
	b := &streamBuilder{}
	b.def(0, 20, tTimestamp, tCycles)
	for i, raw := range []byte{250, 255, 5, 10, 10} {
		b.data(0, cat(le32(uint32(1000+i)), []byte{raw})...)
	}
	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(b.bytes())
	require.NoError(t, err)

	var got []uint64
	for _, rec := range res.File.Records() {
		got = append(got, rec.Field(18).Unrolled)
	}
	assert.Equal(t, []uint64{250, 255, 261, 266, 266}, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}

	v, ok := res.File.Records()[3].Float(18)
	require.True(t, ok)
	assert.Equal(t, 266.0, v)
}

func TestDecodeCompressedTimestamps(t *testing.T) {
	b := &streamBuilder{}
	b.def(0, 20, tTimestamp, tHeartRate).data(0, cat(le32(1000), []byte{100})...)
	b.def(1, 20, tHeartRate)
	b.compressed(1, 0x0C, 101)
	b.compressed(1, 0x02, 102)
	data := b.bytes()

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	recs := res.File.Records()
	require.Len(t, recs, 3)

	var times []uint32
	for _, r := range recs {
		ts, ok := r.Timestamp()
		require.True(t, ok)
		times = append(times, ts)
	}
	assert.Equal(t, []uint32{1000, 1004, 1026}, times)
	assert.False(t, recs[0].Compressed)
	assert.True(t, recs[1].Compressed)

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestResolveCompressed(t *testing.T) {
	tests := []struct {
		last uint32
		off  uint8
		want uint32
	}{
		{last: 0x3E8, off: 0x0C, want: 0x3EC},
		{last: 0x3E8, off: 0x08, want: 0x3E8},
		{last: 0x3E8, off: 0x02, want: 0x402},
		{last: 0x3FF, off: 0x00, want: 0x400},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, resolveCompressed(tc.last, tc.off), "last=0x%X off=0x%X", tc.last, tc.off)
	}
}

func TestDecodeDefinitionAnomalies(t *testing.T) {
	tests := []struct {
		name    string
		build   func(b *streamBuilder)
		policy  func(p *Policy)
		anomaly Anomaly
	}{
		{
			name: "unknown base type",
			build: func(b *streamBuilder) {
				b.def(0, 20, tTimestamp, triple{3, 1, 0x1F}).data(0, cat(le32(1000), []byte{1})...)
			},
			anomaly: AnomalyUnknownBaseType,
		},
		{
			name: "invalid global",
			build: func(b *streamBuilder) {
				b.def(0, 0xFFFF, tHeartRate).data(0, 1)
			},
			anomaly: AnomalyInvalidGlobal,
		},
		{
			name: "unsupported architecture",
			build: func(b *streamBuilder) {
				b.defArch(0, 2, 20, tHeartRate).data(0, 1)
			},
			anomaly: AnomalyUnsupportedArch,
		},
		{
			name: "redefinition",
			build: func(b *streamBuilder) {
				b.def(1, 20, tTimestamp, tHeartRate).data(1, cat(le32(999), []byte{1})...)
				b.def(0, 20, tHeartRate).data(0, 1)
			},
			policy:  func(p *Policy) { p.CheckRedefinition = true },
			anomaly: AnomalyRedefinition,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &streamBuilder{}
			tc.build(b)
			b.def(1, 20, tTimestamp, tHeartRate).data(1, cat(le32(1000), []byte{150})...)
			data := b.bytes()

			strict := DefaultPolicy()
			if tc.policy != nil {
				tc.policy(&strict)
			}
			res, err := quietDecoder(strict).DecodeBytes(data)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, ErrMalformedDefinition), "got %v", err)

			lenient := strict
			lenient.Lenient = true
			res, err = quietDecoder(lenient).DecodeBytes(data)
			require.NoError(t, err)
			require.Len(t, res.Issues, 1)
			assert.Equal(t, ActionDiscardedDefinition, res.Issues[0].Action)
			assert.Equal(t, tc.anomaly, res.Issues[0].Anomaly)
			assert.Equal(t, 1, res.Discarded)
			assert.NotEmpty(t, res.File.Records())

			// Lenient without the discard flag still aborts.
			abort := lenient
			abort.DiscardRedefinition = false
			abort.DiscardUnknownBaseType = false
			abort.DiscardInvalidGlobal = false
			abort.DiscardUnsupportedArch = false
			_, err = quietDecoder(abort).DecodeBytes(data)
			assert.ErrorIs(t, err, ErrMalformedDefinition)
		})
	}
}

func TestDecodeDataAnomalies(t *testing.T) {
	const twoDegrees = 23860930
	tests := []struct {
		name    string
		build   func(b *streamBuilder)
		policy  func(p *Policy)
		keep    func(p *Policy)
		anomaly Anomaly
		records int
	}{
		{
			name: "oversized message",
			build: func(b *streamBuilder) {
				b.def(0, 20, tTimestamp, tHeartRate).data(0, cat(le32(1000), []byte{1})...)
			},
			policy:  func(p *Policy) { p.MaxMessageSize = 3 },
			keep:    func(p *Policy) { p.DiscardOversizedMessage = false },
			anomaly: AnomalyOversizedMessage,
			records: 0,
		},
		{
			name: "misplaced file id",
			build: func(b *streamBuilder) {
				b.def(0, 20, tTimestamp, tHeartRate).data(0, cat(le32(1000), []byte{1})...)
				b.def(1, 0, tFileType).data(1, 4)
			},
			keep:    func(p *Policy) { p.DiscardMisplacedFileID = false },
			anomaly: AnomalyMisplacedFileID,
			records: 1,
		},
		{
			name: "time jump",
			build: func(b *streamBuilder) {
				b.def(0, 20, tTimestamp, tHeartRate)
				b.data(0, cat(le32(1000), []byte{1})...)
				b.data(0, cat(le32(1000+40*86400), []byte{2})...)
				b.data(0, cat(le32(1001), []byte{3})...)
			},
			keep:    func(p *Policy) { p.DiscardImplausibleRecord = false },
			anomaly: AnomalyImplausibleRecord,
			records: 2,
		},
		{
			name: "position jump",
			build: func(b *streamBuilder) {
				b.def(0, 20, tTimestamp, tLat, tLon)
				b.data(0, cat(le32(1000), le32(0), le32(0))...)
				b.data(0, cat(le32(1001), le32(twoDegrees), le32(0))...)
				b.data(0, cat(le32(1002), le32(1000), le32(1000))...)
			},
			keep:    func(p *Policy) { p.DiscardImplausibleRecord = false },
			anomaly: AnomalyImplausibleRecord,
			records: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &streamBuilder{}
			tc.build(b)
			data := b.bytes()

			p := DefaultPolicy()
			if tc.policy != nil {
				tc.policy(&p)
			}
			res, err := quietDecoder(p).DecodeBytes(data)
			require.NoError(t, err)
			require.Len(t, res.Issues, 1)
			assert.Equal(t, ActionDiscardedMessage, res.Issues[0].Action)
			assert.Equal(t, tc.anomaly, res.Issues[0].Anomaly)
			assert.ErrorIs(t, res.Issues[0].Err, ErrMalformedDataMessage)
			assert.Equal(t, 1, res.Discarded)
			assert.Len(t, res.File.Records(), tc.records)
			assert.Error(t, res.Err())

			tc.keep(&p)
			_, err = quietDecoder(p).DecodeBytes(data)
			assert.ErrorIs(t, err, ErrMalformedDataMessage)
		})
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data := scenarioStream()
	data[len(data)-1] ^= 0xFF

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.NotNil(t, res)
	assert.Len(t, res.File.Messages(), 2)

	res, err = quietDecoder(LenientPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.ErrorIs(t, res.Issues[0].Err, ErrChecksumMismatch)
	assert.Equal(t, ActionTolerated, res.Issues[0].Action)
}

func TestDecodeHeaderChecksum(t *testing.T) {
	data := scenarioStream()
	data[12] ^= 0xFF

	_, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.ErrorIs(t, err, ErrMalformedHeader)

	res, err := quietDecoder(LenientPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	// the header bytes are covered by the file checksum as well
	require.Len(t, res.Issues, 2)
	assert.ErrorIs(t, res.Issues[0].Err, ErrMalformedHeader)
	assert.ErrorIs(t, res.Issues[1].Err, ErrChecksumMismatch)

	err = res.Err()
	assert.ErrorIs(t, err, ErrMalformedHeader)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, []string{res.Issues[0].String(), res.Issues[1].String()}, res.Warnings())
}

func TestDecodeSkippedHeaderChecksum(t *testing.T) {
	data := scenarioStream()
	data[12], data[13] = 0, 0
	body := data[:len(data)-2]
	crc := Checksum(body)
	data[len(data)-2], data[len(data)-1] = byte(crc), byte(crc>>8)

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	assert.True(t, res.File.Header.SkipCRC)

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name     string
		cut      int
		messages int
	}{
		{name: "inside last record", cut: 6, messages: 1},
		{name: "missing file checksum", cut: 2, messages: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			full := scenarioStream()
			data := full[:len(full)-tc.cut]

			res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
			require.ErrorIs(t, err, ErrTruncatedStream)
			require.NotNil(t, res)
			assert.Len(t, res.File.Messages(), tc.messages)

			res, err = quietDecoder(LenientPolicy()).DecodeBytes(data)
			require.NoError(t, err)
			assert.Len(t, res.File.Messages(), tc.messages)
			require.Len(t, res.Issues, 1)
			assert.ErrorIs(t, res.Issues[0].Err, ErrTruncatedStream)
		})
	}
}

func TestDecodeFatalStructure(t *testing.T) {
	badMagic := scenarioStream()
	badMagic[9] = 'X'

	unbound := (&streamBuilder{}).data(3, 1, 2, 3).bytes()

	crossing := &streamBuilder{}
	crossing.def(0, 20, tTimestamp, tHeartRate)
	crossing.payload = append(crossing.payload, 0x00, 0xE8, 0x03)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "short", data: []byte{14, 0x20, 0}, want: ErrMalformedHeader},
		{name: "bad header size", data: append([]byte{13}, scenarioStream()[1:]...), want: ErrMalformedHeader},
		{name: "bad magic", data: badMagic, want: ErrMalformedHeader},
		{name: "unbound local", data: unbound, want: ErrMalformedStream},
		{name: "record crosses payload", data: crossing.bytes(), want: ErrMalformedStream},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := quietDecoder(LenientPolicy()).DecodeBytes(tc.data)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tc.want)
			var serr *StreamError
			require.True(t, errors.As(err, &serr))
		})
	}
}

func TestDecodeChainedAndTrailing(t *testing.T) {
	one := scenarioStream()
	data := cat(one, one)

	res, err := quietDecoder(DefaultPolicy()).Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Chained, 1)
	assert.Len(t, res.Files(), 2)
	assert.Len(t, res.Chained[0].Messages(), 2)

	out, err := MarshalAll(res.Files()...)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	res, err = quietDecoder(DefaultPolicy()).DecodeBytes(cat(one, []byte{0, 0, 0}))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.ErrorIs(t, res.Issues[0].Err, ErrMalformedStream)
}

func TestDecodeBigEndian(t *testing.T) {
	b := &streamBuilder{}
	b.defArch(0, 1, 20, tTimestamp, tAltitude).data(0, 0x00, 0x00, 0x03, 0xE8, 0x0A, 0x28)
	data := b.bytes()

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	rec := res.File.Records()[0]
	ts, _ := rec.Timestamp()
	assert.Equal(t, uint32(1000), ts)
	raw, _ := rec.Uint(profile.RecordAltitude)
	assert.Equal(t, uint64(2600), raw)
	assert.True(t, rec.Definition.BigEndian)

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeDeveloperFields(t *testing.T) {
	b := &streamBuilder{}
	b.devDef(0, 20, []triple{tTimestamp}, []triple{{0, 2, 0}}).data(0, cat(le32(1000), []byte{0xAA, 0xBB})...)
	data := b.bytes()

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	rec := res.File.Records()[0]
	require.Len(t, rec.DevFields, 1)
	assert.Equal(t, []byte{0xAA, 0xBB}, rec.DevFields[0].Bytes)

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeUnknownMessageKeepsBytes(t *testing.T) {
	b := &streamBuilder{}
	b.def(0, 0xFF10, triple{0, 3, 0x84}, triple{1, 4, 0x07}).data(0, 1, 2, 3, 'a', 'b', 0, 0)
	data := b.bytes()

	res, err := quietDecoder(DefaultPolicy()).DecodeBytes(data)
	require.NoError(t, err)
	m := res.File.Messages()[0]
	assert.Equal(t, profile.UnknownName, m.Name)
	assert.Equal(t, []byte{1, 2, 3}, m.Fields[0].Bytes, "size not a multiple of the base type")
	assert.Equal(t, "ab", m.Fields[1].String())

	out, err := Marshal(res.File)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
