package common

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors shared by the daemon and the CLI. They are registered
// on Registry rather than the global default so tests can gather them.
var (
	Registry = prometheus.NewRegistry()

	DecodedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitgate",
		Name:      "decoded_bytes_total",
		Help:      "Bytes of FIT data decoded.",
	})
	DecodedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitgate",
		Name:      "decoded_messages_total",
		Help:      "Data messages decoded, by message name.",
	}, []string{"message"})
	Discards = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitgate",
		Name:      "discarded_total",
		Help:      "Entities dropped or tolerated by the validation policy, by anomaly.",
	}, []string{"anomaly"})
	DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitgate",
		Name:      "decode_failures_total",
		Help:      "Streams rejected with a fatal error.",
	})
	Edits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitgate",
		Name:      "edits_total",
		Help:      "Edits applied, by edit name and outcome.",
	}, []string{"edit", "outcome"})
	DecodeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitgate",
		Name:      "decode_seconds",
		Help:      "Time spent decoding one stream.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
)

func init() {
	Registry.MustRegister(DecodedBytes, DecodedMessages, Discards, DecodeFailures, Edits, DecodeSeconds)
}

// Metrics accumulates a per-run snapshot for the CLI summary line.
type Metrics struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	bytes     int64
	files     int64
	messages  int64
	discarded int64
	failures  int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// AddDecode records one decoded stream and feeds the Prometheus counters.
func (m *Metrics) AddDecode(size int64, messages, discarded int) {
	if size > 0 {
		DecodedBytes.Add(float64(size))
	}
	m.mu.Lock()
	m.bytes += size
	m.files++
	m.messages += int64(messages)
	m.discarded += int64(discarded)
	m.mu.Unlock()
}

func (m *Metrics) AddFailure() {
	DecodeFailures.Inc()
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d time.Duration
	switch {
	case m.start.IsZero():
	case !m.end.IsZero():
		d = m.end.Sub(m.start)
	default:
		d = time.Since(m.start)
	}
	return MetricsSnapshot{
		Duration:  d,
		Bytes:     m.bytes,
		Files:     m.files,
		Messages:  m.messages,
		Discarded: m.discarded,
		Failures:  m.failures,
	}
}

type MetricsSnapshot struct {
	Duration  time.Duration `json:"duration"`
	Bytes     int64         `json:"bytes"`
	Files     int64         `json:"files"`
	Messages  int64         `json:"messages"`
	Discarded int64         `json:"discarded"`
	Failures  int64         `json:"failures"`
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

func (s MetricsSnapshot) String() string {
	return fmt.Sprintf("%d file(s), %s, %d message(s), %d discarded, %d failed in %s (%s/s)",
		s.Files, FormatBytes(s.Bytes), s.Messages, s.Discarded, s.Failures, s.Duration.Round(time.Millisecond),
		FormatBytes(int64(s.ThroughputBytesPerSecond())))
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 5; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}
