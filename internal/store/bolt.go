package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"example.com/fitgate/internal/common"
	"example.com/fitgate/internal/edit"
	"example.com/fitgate/internal/fit"
	"example.com/fitgate/internal/profile"
)

var (
	ErrNotFound  = errors.New("activity not found")
	ErrDuplicate = errors.New("activity already stored")
	ErrRejected  = errors.New("activity rejected")
)

var (
	activitiesBucket = []byte("activities")
	rawBucket        = []byte("raw")
	hashBucket       = []byte("hashes")
)

// Service is the activity persistence contract shared by the HTTP server,
// the inbox watcher and the CLI.
type Service interface {
	Create(ctx context.Context, name string, raw []byte) (Activity, error)
	Get(ctx context.Context, id string) (Activity, *fit.File, error)
	Raw(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context) ([]Activity, error)
	Update(ctx context.Context, id string, edits ...edit.Edit) (Activity, error)
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Catalog *profile.Catalog
	Policy  fit.Policy
	Logger  logrus.FieldLogger
	// EditLog receives one entry per applied edit when set.
	EditLog *common.EditLog
	Metrics *common.Metrics
}

// Bolt stores activities in a bbolt file. Raw bytes are kept snappy
// compressed; duplicates are detected by content hash.
type Bolt struct {
	path    string
	db      *bolt.DB
	dec     *fit.Decoder
	catalog *profile.Catalog
	log     logrus.FieldLogger
	editLog *common.EditLog
	metrics *common.Metrics

	locks sync.Map
}

var _ Service = (*Bolt)(nil)

// Open opens or creates the store at path.
func Open(path string, opts Options) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{activitiesBucket, rawBucket, hashBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = common.Log("store")
	}
	cat := opts.Catalog
	if cat == nil {
		cat = profile.Standard()
	}
	s := &Bolt{
		path:    path,
		db:      db,
		dec:     fit.NewDecoder(cat, opts.Policy, fit.WithLogger(log)),
		catalog: cat,
		log:     log,
		editLog: opts.EditLog,
		metrics: opts.Metrics,
	}
	log.WithField("path", path).Info("store opened")
	return s, nil
}

func (s *Bolt) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Catalog is the catalog files are decoded with.
func (s *Bolt) Catalog() *profile.Catalog { return s.catalog }

func (s *Bolt) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Bolt) decode(raw []byte) (*fit.Result, error) {
	start := time.Now()
	res, err := s.dec.DecodeBytes(raw)
	common.DecodeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if s.metrics != nil {
			s.metrics.AddFailure()
		} else {
			common.DecodeFailures.Inc()
		}
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	n := 0
	for _, f := range res.Files() {
		for _, m := range f.Messages() {
			common.DecodedMessages.WithLabelValues(m.Name).Inc()
			n++
		}
	}
	for _, is := range res.Issues {
		common.Discards.WithLabelValues(is.Anomaly.String()).Inc()
	}
	if s.metrics != nil {
		s.metrics.AddDecode(int64(len(raw)), n, res.Discarded)
	} else {
		common.DecodedBytes.Add(float64(len(raw)))
	}
	return res, nil
}

func hashKey(raw []byte) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], common.ContentKey(raw))
	return k[:]
}

// Create decodes raw and stores it. A stream that fails to decode is
// rejected with ErrRejected. Storing identical bytes twice returns the
// existing activity together with ErrDuplicate.
func (s *Bolt) Create(ctx context.Context, name string, raw []byte) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	res, err := s.decode(raw)
	if err != nil {
		return Activity{}, err
	}
	now := time.Now().UTC()
	a := Activity{
		ID:        uuid.NewString(),
		Name:      name,
		Discarded: res.Discarded,
		Issues:    res.Warnings(),
		Size:      len(raw),
		Hash:      common.Sha256Hex(raw),
		Created:   now,
		Updated:   now,
	}
	Project(&a, res.File)

	key := hashKey(raw)
	err = s.db.Update(func(tx *bolt.Tx) error {
		if id := tx.Bucket(hashBucket).Get(key); id != nil {
			existing, err := getMeta(tx, string(id))
			if err != nil {
				return err
			}
			if existing.Hash == a.Hash {
				a = existing
				return ErrDuplicate
			}
		}
		return putActivity(tx, a, raw, key)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return a, err
		}
		return Activity{}, err
	}
	s.log.WithFields(logrus.Fields{"id": a.ID, "name": name, "bytes": len(raw), "discarded": a.Discarded}).Info("activity stored")
	return a, nil
}

func putActivity(tx *bolt.Tx, a Activity, raw, key []byte) error {
	meta, err := json.Marshal(a)
	if err != nil {
		return err
	}
	id := []byte(a.ID)
	if err := tx.Bucket(activitiesBucket).Put(id, meta); err != nil {
		return err
	}
	if err := tx.Bucket(rawBucket).Put(id, snappy.Encode(nil, raw)); err != nil {
		return err
	}
	return tx.Bucket(hashBucket).Put(key, id)
}

func getMeta(tx *bolt.Tx, id string) (Activity, error) {
	var a Activity
	v := tx.Bucket(activitiesBucket).Get([]byte(id))
	if v == nil {
		return a, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := json.Unmarshal(v, &a); err != nil {
		return a, fmt.Errorf("decode activity %s: %w", id, err)
	}
	return a, nil
}

func getRaw(tx *bolt.Tx, id string) ([]byte, error) {
	v := tx.Bucket(rawBucket).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	raw, err := snappy.Decode(nil, v)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", id, err)
	}
	return raw, nil
}

func (s *Bolt) Raw(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		raw, err = getRaw(tx, id)
		return err
	})
	return raw, err
}

// Get returns the activity and its decoded file.
func (s *Bolt) Get(ctx context.Context, id string) (Activity, *fit.File, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, nil, err
	}
	var a Activity
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		if a, err = getMeta(tx, id); err != nil {
			return err
		}
		raw, err = getRaw(tx, id)
		return err
	})
	if err != nil {
		return Activity{}, nil, err
	}
	res, err := s.dec.DecodeBytes(raw)
	if err != nil {
		return a, nil, fmt.Errorf("decode stored activity %s: %w", id, err)
	}
	return a, res.File, nil
}

// List returns every activity, newest start first.
func (s *Bolt) List(ctx context.Context) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Activity
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(activitiesBucket).ForEach(func(k, v []byte) error {
			var a Activity
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode activity %s: %w", k, err)
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.After(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update applies edits to the stored file and replaces its bytes. Edits on
// one activity are serialised. An edit whose output is already stored under
// another activity fails with ErrDuplicate and changes nothing.
func (s *Bolt) Update(ctx context.Context, id string, edits ...edit.Edit) (Activity, error) {
	unlock := s.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}

	var a Activity
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		if a, err = getMeta(tx, id); err != nil {
			return err
		}
		raw, err = getRaw(tx, id)
		return err
	})
	if err != nil {
		return Activity{}, err
	}
	res, err := s.dec.DecodeBytes(raw)
	if err != nil {
		return Activity{}, fmt.Errorf("decode stored activity %s: %w", id, err)
	}

	edited, err := edit.Apply(res.File, edits...)
	if err != nil {
		for _, e := range edits {
			common.Edits.WithLabelValues(e.Name(), "error").Inc()
		}
		return Activity{}, err
	}
	out, err := fit.MarshalAll(append([]*fit.File{edited}, res.Chained...)...)
	if err != nil {
		return Activity{}, fmt.Errorf("encode edited activity %s: %w", id, err)
	}

	before := a.Hash
	oldKey := hashKey(raw)
	a.Size = len(out)
	a.Hash = common.Sha256Hex(out)
	a.Updated = time.Now().UTC()
	Project(&a, edited)

	newKey := hashKey(out)
	err = s.db.Update(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(hashBucket)
		if other := hashes.Get(newKey); other != nil && string(other) != id {
			existing, err := getMeta(tx, string(other))
			if err != nil {
				return err
			}
			if existing.Hash == a.Hash {
				return fmt.Errorf("%w: edited %s matches %s", ErrDuplicate, id, existing.ID)
			}
		}
		if string(hashes.Get(oldKey)) == id {
			if err := hashes.Delete(oldKey); err != nil {
				return err
			}
		}
		return putActivity(tx, a, out, newKey)
	})
	if err != nil {
		return Activity{}, err
	}

	for _, e := range edits {
		applied := true
		if ap, ok := e.(interface{ Applied() bool }); ok {
			applied = ap.Applied()
		}
		outcome := "applied"
		if !applied {
			outcome = "noop"
		}
		common.Edits.WithLabelValues(e.Name(), outcome).Inc()
		if s.editLog == nil {
			continue
		}
		entry := common.EditEntry{
			Activity:   id,
			Edit:       e.Name(),
			Params:     e.Params(),
			Applied:    applied,
			BeforeHash: before,
			AfterHash:  a.Hash,
		}
		if err := s.editLog.Append(entry); err != nil {
			s.log.WithError(err).WithField("id", id).Warn("edit log append failed")
		}
	}
	s.log.WithFields(logrus.Fields{"id": id, "edits": len(edits)}).Info("activity updated")
	return a, nil
}

func (s *Bolt) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		raw, err := getRaw(tx, id)
		if err != nil {
			return err
		}
		hashes := tx.Bucket(hashBucket)
		if key := hashKey(raw); string(hashes.Get(key)) == id {
			if err := hashes.Delete(key); err != nil {
				return err
			}
		}
		if err := tx.Bucket(rawBucket).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(activitiesBucket).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	s.locks.Delete(id)
	s.log.WithField("id", id).Info("activity deleted")
	return nil
}
