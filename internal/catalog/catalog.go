// Package catalog implements the persisted duplicate-report store: a
// BoltDB-backed adapter with a duplicates bucket, a singleton
// meta record, and an optional uniques bucket. It implements publish.Sink so
// round 1 and round 2 can write through it without knowing its storage
// format.
package catalog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dupd-go/dupd/internal/publish"
)

const (
	bucketDuplicates = "duplicates"
	bucketMeta       = "meta"
	bucketUniques    = "uniques"

	metaKey = "meta"

	currentVersion = "1"
)

// HardlinkPolicy records how a catalog's run treated hardlinked files, so a
// later run can refuse to combine disagreeing policies.
type HardlinkPolicy string

const (
	HardlinkNormal HardlinkPolicy = "normal"
	HardlinkIgnore HardlinkPolicy = "ignore"
)

// Meta is the singleton record written once at catalog creation.
type Meta struct {
	Hidden    bool           `json:"hidden"`
	Version   string         `json:"version"`
	CreatedAt int64          `json:"created_at"` // ms since epoch
	Hardlinks HardlinkPolicy `json:"hardlinks"`
}

// DuplicateGroup is one persisted duplicates record.
type DuplicateGroup struct {
	ID       uint64
	Count    int
	EachSize int64
	Paths    []string
}

// Catalog is the open persistence store for one run. It implements
// publish.Sink. A single mutex serializes all writes, grounded on the
// teacher's own
// single-writer-transaction BoltDB usage in internal/cache.
type Catalog struct {
	db      *bolt.DB
	path    string
	pathSep byte

	mu     sync.Mutex
	nextID uint64

	saveUniques bool
}

var _ publish.Sink = (*Catalog)(nil)

// Open creates or reopens the catalog at path. path must name a database
// file: Open returns an error for an empty path, and --nodb runs use
// publish.Discard instead of a Catalog.
func Open(path string, pathSep byte, hidden bool, hardlinks HardlinkPolicy, saveUniques bool) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s (locked by another run?): %w", path, err)
	}

	c := &Catalog{db: db, path: path, pathSep: pathSep, saveUniques: saveUniques}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDuplicates)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketMeta)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketUniques)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := c.reconcileMeta(hidden, hardlinks); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := c.restoreNextID(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// reconcileMeta writes a fresh meta record if none exists, or validates the
// existing one against this run's settings, refusing to combine a
// pre-existing "ignore" catalog with a new run that would disagree.
func (c *Catalog) reconcileMeta(hidden bool, hardlinks HardlinkPolicy) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		existing := b.Get([]byte(metaKey))
		if existing == nil {
			m := Meta{Hidden: hidden, Version: currentVersion, CreatedAt: nowMillis(), Hardlinks: hardlinks}
			buf, err := json.Marshal(m)
			if err != nil {
				return err
			}
			return b.Put([]byte(metaKey), buf)
		}

		var m Meta
		if err := json.Unmarshal(existing, &m); err != nil {
			return fmt.Errorf("catalog: corrupt meta record: %w", err)
		}
		if m.Hardlinks == HardlinkIgnore && hardlinks != HardlinkIgnore {
			return fmt.Errorf("catalog: existing catalog ignores hardlinks, this run does not")
		}
		if m.Version != currentVersion {
			fmt.Fprintf(os.Stderr, "dupd: warning: catalog version %q differs from current %q\n", m.Version, currentVersion)
		}
		return nil
	})
}

// restoreNextID scans the duplicates bucket for the highest existing id so
// new groups keep allocating from where the last run left off.
func (c *Catalog) restoreNextID() error {
	return c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDuplicates))
		k, _ := b.Cursor().Last()
		if k != nil {
			c.nextID = binary.BigEndian.Uint64(k) + 1
		}
		return nil
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Close flushes and closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Duplicates implements publish.Sink: insert-duplicate-group.
func (c *Catalog) Duplicates(g publish.Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	group := DuplicateGroup{ID: id, Count: len(g.Paths), EachSize: g.Size, Paths: g.Paths}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDuplicates))
		return b.Put(idKey(id), encodeGroup(group, c.pathSep))
	})
}

// Unique implements publish.Sink: insert-unique, an optional record.
func (c *Catalog) Unique(path string) error {
	if !c.saveUniques {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketUniques))
		return b.Put([]byte(path), nil)
	})
}

// DeleteDuplicateByID removes one persisted duplicate-group record by id.
func (c *Catalog) DeleteDuplicateByID(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDuplicates))
		return b.Delete(idKey(id))
	})
}

// Groups returns every persisted duplicate group, for the report collaborator.
func (c *Catalog) Groups() ([]DuplicateGroup, error) {
	var out []DuplicateGroup
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDuplicates))
		return b.ForEach(func(k, v []byte) error {
			g, err := decodeGroup(k, v, c.pathSep)
			if err != nil {
				return err
			}
			out = append(out, g)
			return nil
		})
	})
	return out, err
}

func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// encodeGroup serializes {count, each_size, separator-joined paths} as
// count(8) + each_size(8) + paths joined by pathSep.
func encodeGroup(g DuplicateGroup, pathSep byte) []byte {
	var buf bytes.Buffer
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(g.Count))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(g.EachSize))
	buf.Write(hdr[:])
	buf.WriteString(strings.Join(g.Paths, string(pathSep)))
	return buf.Bytes()
}

func decodeGroup(key, value []byte, pathSep byte) (DuplicateGroup, error) {
	if len(value) < 16 {
		return DuplicateGroup{}, fmt.Errorf("catalog: corrupt duplicate record")
	}
	count := binary.BigEndian.Uint64(value[0:8])
	eachSize := binary.BigEndian.Uint64(value[8:16])
	paths := strings.Split(string(value[16:]), string(pathSep))
	return DuplicateGroup{
		ID:       binary.BigEndian.Uint64(key),
		Count:    int(count),
		EachSize: int64(eachSize),
		Paths:    paths,
	}, nil
}
