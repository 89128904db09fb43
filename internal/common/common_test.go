package common

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "edits.jsonl")
	log := NewEditLog(path)
	require.NoError(t, log.Append(EditEntry{
		Activity:   "a1",
		Edit:       "remove-gaps",
		Params:     map[string]interface{}{"threshold": "1m0s"},
		Applied:    true,
		BeforeHash: "aa",
		AfterHash:  "bb",
	}))
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(EditEntry{Edit: "split-lap", Params: map[string]interface{}{"record": 3}, Ts: ts}))

	entries, err := ReadEditLog(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "remove-gaps", entries[0].Edit)
	assert.Equal(t, "1m0s", entries[0].Params["threshold"])
	assert.False(t, entries[0].Ts.IsZero())
	assert.Equal(t, float64(3), entries[1].Params["record"])
	assert.True(t, ts.Equal(entries[1].Ts))
}

func TestEditLogRejectsEmpty(t *testing.T) {
	var nilLog *EditLog
	assert.Error(t, nilLog.Append(EditEntry{Edit: "x"}))
	assert.Error(t, NewEditLog(filepath.Join(t.TempDir(), "x.jsonl")).Append(EditEntry{}))
}

func TestHashes(t *testing.T) {
	data := []byte("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Sha256Hex(data))
	assert.Equal(t, ContentKey(data), ContentKey([]byte("abc")))
	assert.NotEqual(t, ContentKey(data), ContentKey([]byte("abd")))

	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	sum, n, err := Sha256OfFile(path)
	require.NoError(t, err)
	assert.Equal(t, Sha256Hex(data), sum)
	assert.Equal(t, int64(3), n)
}

func TestMetricsSnapshot(t *testing.T) {
	before := counterValue(t, "fitgate_decoded_bytes_total")
	m := NewMetrics()
	m.Start()
	m.AddDecode(100, 5, 1)
	m.AddDecode(50, 2, 0)
	m.AddFailure()
	m.Stop()
	s := m.Snapshot()
	assert.Equal(t, int64(150), s.Bytes)
	assert.Equal(t, int64(2), s.Files)
	assert.Equal(t, int64(7), s.Messages)
	assert.Equal(t, int64(1), s.Discarded)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, before+150, counterValue(t, "fitgate_decoded_bytes_total"))
	assert.Contains(t, s.String(), "2 file(s)")
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KiB", FormatBytes(1536))
	assert.Equal(t, "2.00 MiB", FormatBytes(2<<20))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	prev := logger
	logger = newLogger(&buf)
	defer func() { logger = prev }()
	Log("store").WithField("id", "x").Info("saved")
	Logf("n=%d", 3)
	out := buf.String()
	assert.Contains(t, out, "component=store")
	assert.Contains(t, out, "n=3")
	assert.Equal(t, logrus.InfoLevel, Logger().GetLevel())
}
