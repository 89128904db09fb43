package common

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// EditEntry records one edit applied to an activity.
type EditEntry struct {
	Activity   string                 `json:"activity,omitempty"`
	Edit       string                 `json:"edit"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Applied    bool                   `json:"applied"`
	BeforeHash string                 `json:"beforeSha256"`
	AfterHash  string                 `json:"afterSha256"`
	Ts         time.Time              `json:"ts"`
}

// EditLog is an append-only JSONL audit log.
type EditLog struct {
	path string
	mu   sync.Mutex
}

func NewEditLog(path string) *EditLog {
	return &EditLog{path: path}
}

func (l *EditLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entry as one JSON line.
func (l *EditLog) Append(entry EditEntry) error {
	if l == nil {
		return errors.New("nil edit log")
	}
	if entry.Edit == "" {
		return errors.New("edit entry missing edit name")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadEditLog loads every entry of a JSONL audit log.
func ReadEditLog(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []EditEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry EditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode edit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
