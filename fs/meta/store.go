// Package meta implements the FL's on-disk relational representation: the
// inode, extra, block, route, and tag tables of spec.md §3/§6, realized
// as a single bbolt file. bolt.DB gives us the "embedded single-file
// store with ordered multi-row retrieval" spec.md §4.6 asks for, without
// committing to a particular SQL engine; bucket layout and JSON-encoded
// values follow backend/cache/storage_persistent.go's bolt.DB usage
// (bolt.Open, CreateBucketIfNotExists, View/Update, Cursor iteration).
package meta

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	gflfs "github.com/threefoldtech/gofl/fs"
)

// Bucket names, one per table.
const (
	bucketInode    = "inode"
	bucketChildren = "children" // secondary index: parent-ino bucket -> name -> ino
	bucketExtra    = "extra"
	bucketBlock    = "block" // one sub-bucket per ino, keyed by big-endian sequence
	bucketRoute    = "route"
	bucketTag      = "tag"
	bucketMeta     = "meta" // internal bookkeeping (next-ino counter)
)

var keyNextIno = []byte("next-ino")

// Store is a single FL's metadata, backed by one bbolt file. The zero
// value is not usable; call Open or Create.
type Store struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// Create makes a new, empty FL at path and initializes its schema. It
// fails if a file already exists there.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Errorf("meta: %s already exists", path)
	}
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, &gflfs.SchemaError{Err: errors.Wrapf(err, "meta: creating %s", path)}
	}
	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.PutTag(gflfs.TagInstanceID, uuid.NewString()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Open opens an existing FL. readOnly should be true for mount/unpack
// sessions; config edits open with readOnly=false. The packer does not
// use Open: it writes into a new FL made by Create.
func Open(path string, readOnly bool) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, &gflfs.SchemaError{Err: errors.Wrapf(err, "meta: opening %s", path)}
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying file. The FL is shippable only
// after Close returns nil (spec.md §3 "Lifecycle").
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketInode, bucketChildren, bucketExtra, bucketBlock, bucketRoute, bucketTag, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) checkSchema() error {
	return s.db.View(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketInode, bucketChildren, bucketExtra, bucketBlock, bucketRoute, bucketTag} {
			if tx.Bucket([]byte(name)) == nil {
				return &gflfs.SchemaError{Err: errors.Errorf("missing table %q", name)}
			}
		}
		return nil
	})
}

// --- inode table -----------------------------------------------------

func inoKey(ino uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ino)
	return b
}

type inodeRow struct {
	Parent uint64
	Name   string
	Size   uint64
	UID    uint32
	GID    uint32
	Mode   uint32
	Rdev   uint64
	Ctime  int64
	Mtime  int64
}

func toRow(in *gflfs.Inode) inodeRow {
	return inodeRow{
		Parent: in.Parent, Name: in.Name, Size: in.Size,
		UID: in.UID, GID: in.GID, Mode: uint32(in.Mode),
		Rdev: in.Rdev, Ctime: in.Ctime, Mtime: in.Mtime,
	}
}

func fromRow(ino uint64, r inodeRow) *gflfs.Inode {
	return &gflfs.Inode{
		Ino: ino, Parent: r.Parent, Name: r.Name, Size: r.Size,
		UID: r.UID, GID: r.GID, Mode: os.FileMode(r.Mode),
		Rdev: r.Rdev, Ctime: r.Ctime, Mtime: r.Mtime,
	}
}

// NextIno allocates and returns the next free inode number. The first
// call returns gflfs.RootIno (1), unless a root row was already written
// with PutInode, in which case it returns RootIno+1; every later call
// increments a counter kept in the meta bucket.
func (s *Store) NextIno() (uint64, error) {
	var ino uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		cur := b.Get(keyNextIno)
		if cur == nil {
			ino = gflfs.RootIno
			if tx.Bucket([]byte(bucketInode)).Get(inoKey(gflfs.RootIno)) != nil {
				ino = gflfs.RootIno + 1
			}
		} else {
			ino = binary.BigEndian.Uint64(cur) + 1
		}
		next := make([]byte, 8)
		binary.BigEndian.PutUint64(next, ino)
		return b.Put(keyNextIno, next)
	})
	return ino, err
}

// PutInode inserts or replaces an inode row and maintains the
// (parent,name)->ino secondary index used by LookupChild.
func (s *Store) PutInode(in *gflfs.Inode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		inodes := tx.Bucket([]byte(bucketInode))
		encoded, err := json.Marshal(toRow(in))
		if err != nil {
			return err
		}
		if err := inodes.Put(inoKey(in.Ino), encoded); err != nil {
			return err
		}
		if in.Ino == gflfs.RootIno {
			return nil
		}
		children := tx.Bucket([]byte(bucketChildren))
		parentBucket, err := children.CreateBucketIfNotExists(inoKey(in.Parent))
		if err != nil {
			return err
		}
		return parentBucket.Put([]byte(in.Name), inoKey(in.Ino))
	})
}

// GetInode reads the inode row by ino.
func (s *Store) GetInode(ino uint64) (*gflfs.Inode, error) {
	var out *gflfs.Inode
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketInode)).Get(inoKey(ino))
		if v == nil {
			return gflfs.NotFound
		}
		var r inodeRow
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		out = fromRow(ino, r)
		return nil
	})
	return out, err
}

// LookupChild resolves (parentIno, name) to the child's ino, or
// fs.NotFound.
func (s *Store) LookupChild(parentIno uint64, name string) (uint64, error) {
	var ino uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		children := tx.Bucket([]byte(bucketChildren))
		parentBucket := children.Bucket(inoKey(parentIno))
		if parentBucket == nil {
			return gflfs.NotFound
		}
		v := parentBucket.Get([]byte(name))
		if v == nil {
			return gflfs.NotFound
		}
		ino = binary.BigEndian.Uint64(v)
		return nil
	})
	return ino, err
}

// ListChildren returns the children of parentIno in deterministic order.
// The ordering decision (spec.md §9 "Readdir ordering") is alphabetical
// by name; bbolt's bucket keys are name strings, so a Cursor walk already
// comes back in that order for free.
func (s *Store) ListChildren(parentIno uint64) ([]*gflfs.Inode, error) {
	var out []*gflfs.Inode
	err := s.db.View(func(tx *bolt.Tx) error {
		children := tx.Bucket([]byte(bucketChildren))
		parentBucket := children.Bucket(inoKey(parentIno))
		if parentBucket == nil {
			return nil // no children yet is not an error
		}
		inodes := tx.Bucket([]byte(bucketInode))
		c := parentBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ino := binary.BigEndian.Uint64(v)
			raw := inodes.Get(inoKey(ino))
			if raw == nil {
				continue // tolerate a dangling entry rather than fail the whole listing
			}
			var r inodeRow
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			out = append(out, fromRow(ino, r))
		}
		return nil
	})
	return out, err
}

// --- extra table ------------------------------------------------------

// PutExtra inserts or replaces the extra row for ino.
func (s *Store) PutExtra(ino uint64, data string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketExtra)).Put(inoKey(ino), []byte(data))
	})
}

// GetExtra reads the extra row for ino, or fs.NotFound.
func (s *Store) GetExtra(ino uint64) (string, error) {
	var out string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketExtra)).Get(inoKey(ino))
		if v == nil {
			return gflfs.NotFound
		}
		out = string(v)
		return nil
	})
	return out, err
}

// --- block table --------------------------------------------------------

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

type blockRow struct {
	ID   string
	Key  string
	Size uint64
}

// AppendBlock appends the next block in sequence for ino, recording
// size as its plaintext length so readers can locate byte offsets from
// the block list alone, never by decoding content or consulting the
// block-size tag. The caller is responsible for calling it in order;
// sequence numbers are assigned by the store itself by counting
// existing rows, so out-of-order calls from concurrent writers on the
// same ino are not supported (the packer is the sole writer, matching
// spec.md's single-writer ownership rule).
func (s *Store) AppendBlock(ino uint64, id, key string, size uint64) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket([]byte(bucketBlock))
		fileBucket, err := blocks.CreateBucketIfNotExists(inoKey(ino))
		if err != nil {
			return err
		}
		seq = uint64(fileBucket.Stats().KeyN)
		encoded, err := json.Marshal(blockRow{ID: id, Key: key, Size: size})
		if err != nil {
			return err
		}
		return fileBucket.Put(seqKey(seq), encoded)
	})
	return seq, err
}

// ListBlocks returns the ordered block list for ino.
func (s *Store) ListBlocks(ino uint64) ([]gflfs.Block, error) {
	var out []gflfs.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		blocks := tx.Bucket([]byte(bucketBlock))
		fileBucket := blocks.Bucket(inoKey(ino))
		if fileBucket == nil {
			return nil
		}
		c := fileBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r blockRow
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, gflfs.Block{
				Ino:  ino,
				Seq:  binary.BigEndian.Uint64(k),
				ID:   r.ID,
				Key:  r.Key,
				Size: r.Size,
			})
		}
		return nil
	})
	return out, err
}

// --- route table ------------------------------------------------------

func routeKey(idx int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(idx))
	return b
}

// AddRoute appends a route row.
func (s *Store) AddRoute(r gflfs.Route) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRoute))
		idx, err := b.NextSequence()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(routeKey(int(idx)), encoded)
	})
}

// ListRoutes returns every route row, in insertion order.
func (s *Store) ListRoutes() ([]gflfs.Route, error) {
	var out []gflfs.Route
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRoute))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r gflfs.Route
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// DeleteRoute removes the route at position idx in ListRoutes order.
func (s *Store) DeleteRoute(idx int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRoute))
		c := b.Cursor()
		i := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if i == idx {
				return b.Delete(k)
			}
			i++
		}
		return errors.Errorf("meta: no route at index %d", idx)
	})
}

// --- tag table ----------------------------------------------------------

// PutTag inserts or replaces a tag.
func (s *Store) PutTag(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTag)).Put([]byte(key), []byte(value))
	})
}

// GetTag reads a tag value, or fs.NotFound.
func (s *Store) GetTag(key string) (string, error) {
	var out string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketTag)).Get([]byte(key))
		if v == nil {
			return gflfs.NotFound
		}
		out = string(v)
		return nil
	})
	return out, err
}

// DeleteTag removes a tag.
func (s *Store) DeleteTag(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTag)).Delete([]byte(key))
	})
}

// ListTags returns every tag, sorted by key for deterministic output.
func (s *Store) ListTags() ([]gflfs.Tag, error) {
	var out []gflfs.Tag
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTag))
		return b.ForEach(func(k, v []byte) error {
			out = append(out, gflfs.Tag{Key: string(k), Value: string(v)})
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}
