// Package watch imports activity files dropped into an inbox directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/store"
)

// Outcome of importing one inbox file.
type Outcome int

const (
	Imported Outcome = iota
	Duplicate
	Rejected
	// Deferred files stay in the inbox for the next scan.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Imported:
		return "imported"
	case Duplicate:
		return "duplicate"
	case Deferred:
		return "deferred"
	default:
		return "rejected"
	}
}

type Options struct {
	Dir       string
	Processed string
	Rejected  string
	// Settle is how long a file must be quiet before it is imported.
	Settle time.Duration
	Logger logrus.FieldLogger
	// OnImport, if set, is called after every file.
	OnImport func(path string, o Outcome, a store.Activity, err error)
}

// Inbox moves imported files to Processed and files the store rejects to
// Rejected, next to a .err file holding the reason.
type Inbox struct {
	opts  Options
	store store.Service
	log   logrus.FieldLogger
	mu    sync.Mutex
}

func New(st store.Service, opts Options) (*Inbox, error) {
	if st == nil {
		return nil, errors.New("watch: store is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("watch: inbox directory is required")
	}
	if opts.Processed == "" {
		opts.Processed = filepath.Join(opts.Dir, "processed")
	}
	if opts.Rejected == "" {
		opts.Rejected = filepath.Join(opts.Dir, "rejected")
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = common.Log("inbox")
	}
	for _, dir := range []string{opts.Dir, opts.Processed, opts.Rejected} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Inbox{opts: opts, store: st, log: log}, nil
}

func isActivityFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".fit") && !strings.HasPrefix(base, ".")
}

// Scan imports every activity file already in the inbox, in name order.
func (in *Inbox) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(in.opts.Dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isActivityFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		in.Import(ctx, filepath.Join(in.opts.Dir, name))
	}
	return nil
}

// Import stores one file and moves it out of the inbox. A file whose import
// is cut short by ctx is left where it is.
func (in *Inbox) Import(ctx context.Context, path string) (Outcome, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// already moved by an earlier event
			return Rejected, err
		}
		return in.reject(path, err)
	}
	name := filepath.Base(path)
	a, err := in.store.Create(ctx, name, data)
	outcome := Imported
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicate):
		outcome = Duplicate
		err = nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		in.log.WithError(err).WithField("file", name).Debug("inbox import deferred")
		return Deferred, err
	default:
		return in.reject(path, err)
	}
	if mvErr := moveInto(path, in.opts.Processed); mvErr != nil {
		in.log.WithError(mvErr).WithField("file", name).Warn("move to processed failed")
	}
	in.log.WithFields(logrus.Fields{"file": name, "id": a.ID, "outcome": outcome.String()}).Info("inbox file handled")
	if in.opts.OnImport != nil {
		in.opts.OnImport(path, outcome, a, nil)
	}
	return outcome, err
}

func (in *Inbox) reject(path string, cause error) (Outcome, error) {
	name := filepath.Base(path)
	in.log.WithError(cause).WithField("file", name).Warn("inbox file rejected")
	if err := moveInto(path, in.opts.Rejected); err != nil {
		in.log.WithError(err).WithField("file", name).Warn("move to rejected failed")
	} else {
		reason := filepath.Join(in.opts.Rejected, name+".err")
		if err := os.WriteFile(reason, []byte(cause.Error()+"\n"), 0o644); err != nil {
			in.log.WithError(err).Warn("write reject reason")
		}
	}
	if in.opts.OnImport != nil {
		in.opts.OnImport(path, Rejected, store.Activity{}, cause)
	}
	return Rejected, cause
}

// moveInto renames path into dir, adding a numeric suffix when the name is
// taken.
func moveInto(path, dir string) error {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dest := filepath.Join(dir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, i, ext))
	}
	return os.Rename(path, dest)
}

// Run scans the inbox and then imports files as they appear until ctx is
// cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.opts.Dir, err)
	}
	if err := in.Scan(ctx); err != nil {
		return err
	}
	in.log.WithField("dir", in.opts.Dir).Info("watching inbox")

	pending := map[string]time.Time{}
	tick := in.opts.Settle / 2
	if tick <= 0 {
		tick = in.opts.Settle
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isActivityFile(event.Name) || filepath.Dir(event.Name) != filepath.Clean(in.opts.Dir) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.log.WithError(err).Warn("watcher error")
		case now := <-ticker.C:
			for path, last := range pending {
				if ctx.Err() != nil {
					return nil
				}
				if now.Sub(last) < in.opts.Settle {
					continue
				}
				delete(pending, path)
				in.Import(ctx, path)
			}
		}
	}
}
