// internal/database/boltstore.go - BoltDB result store
package database

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Layout:
//
//	events/<checker>/ids      unique_id -> timestamp
//	events/<checker>/by_time  timestamp|unique_id -> nil
//	checks/<checker>          minute|sequence -> nil
var (
	EventsBucket = []byte("events")
	ChecksBucket = []byte("checks")
	MetaBucket   = []byte("meta")

	idsBucket    = []byte("ids")
	byTimeBucket = []byte("by_time")
)

const compactTxMaxSize = 64 * 1024

type BoltStore struct {
	mu   sync.RWMutex
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := openBolt(path)
	if err != nil {
		return nil, err
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func openBolt(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}
	return db, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{EventsBucket, ChecksBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.View(fn)
}

func (s *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(fn)
}

func (s *BoltStore) StoreEvents(ctx context.Context, checker string, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.update(func(tx *bbolt.Tx) error {
		cb, err := tx.Bucket(EventsBucket).CreateBucketIfNotExists([]byte(checker))
		if err != nil {
			return err
		}
		ids, err := cb.CreateBucketIfNotExists(idsBucket)
		if err != nil {
			return err
		}
		byTime, err := cb.CreateBucketIfNotExists(byTimeBucket)
		if err != nil {
			return err
		}

		fresh := uniqueRows(rows, func(id string) bool {
			return ids.Get(idKey(id)) != nil
		})
		for _, row := range fresh {
			ts := encodeInt(row.Timestamp)
			if err := ids.Put(idKey(row.UniqueID), ts); err != nil {
				return err
			}
			if err := byTime.Put(timeKey(row.Timestamp, row.UniqueID), nil); err != nil {
				return err
			}
		}
		inserted = len(fresh)
		return nil
	})
	if err != nil {
		return 0, storageErr("store events", checker, err)
	}
	return inserted, nil
}

func (s *BoltStore) CountEvents(ctx context.Context, checker string, from, to int64) (int, error) {
	count := 0
	err := s.view(func(tx *bbolt.Tx) error {
		byTime := checkerSubBucket(tx, checker, byTimeBucket)
		if byTime == nil {
			return nil
		}
		c := byTime.Cursor()
		for k, _ := c.Seek(encodeInt(from)); k != nil && decodeInt(k) <= to; k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("count events", checker, err)
	}
	return count, nil
}

func (s *BoltStore) LastCheck(ctx context.Context, checker string) (int64, bool, error) {
	var (
		last  int64
		found bool
	)
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket).Bucket([]byte(checker))
		if b == nil {
			return nil
		}
		if k, _ := b.Cursor().Last(); k != nil {
			last, found = decodeInt(k), true
		}
		return nil
	})
	if err != nil {
		return 0, false, storageErr("read last check", checker, err)
	}
	return last, found, nil
}

func (s *BoltStore) RecordCheck(ctx context.Context, checker string, minuteEpoch int64) error {
	err := s.update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(ChecksBucket).CreateBucketIfNotExists([]byte(checker))
		if err != nil {
			return err
		}
		// The sequence suffix keeps repeated audits of one minute as
		// separate rows.
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 16)
		copy(key, encodeInt(minuteEpoch))
		binary.BigEndian.PutUint64(key[8:], seq)
		return b.Put(key, nil)
	})
	return storageErr("record check", checker, err)
}

func (s *BoltStore) DeleteEventsBefore(ctx context.Context, checker string, epoch int64) (int, error) {
	deletedCount := 0

	err := s.update(func(tx *bbolt.Tx) error {
		ids := checkerSubBucket(tx, checker, idsBucket)
		byTime := checkerSubBucket(tx, checker, byTimeBucket)
		if ids == nil || byTime == nil {
			return nil
		}

		// Collect keys to delete
		var keysToDelete [][]byte
		c := byTime.Cursor()
		for k, _ := c.First(); k != nil && decodeInt(k) < epoch; k, _ = c.Next() {
			keysToDelete = append(keysToDelete, copyBytes(k))
		}

		for _, key := range keysToDelete {
			if err := byTime.Delete(key); err != nil {
				return err
			}
			if err := ids.Delete(idKey(string(key[8:]))); err != nil {
				return err
			}
			deletedCount++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("delete events", checker, err)
	}

	logrus.WithFields(logrus.Fields{
		"checker":       checker,
		"deleted_count": deletedCount,
		"older_than":    epoch,
	}).Debug("Deleted old events")

	return deletedCount, nil
}

func (s *BoltStore) GetCheckerStats(ctx context.Context, checker string) (*CheckerStats, error) {
	stats := &CheckerStats{Checker: checker}

	err := s.view(func(tx *bbolt.Tx) error {
		if ids := checkerSubBucket(tx, checker, idsBucket); ids != nil {
			stats.Events = ids.Stats().KeyN
		}
		if byTime := checkerSubBucket(tx, checker, byTimeBucket); byTime != nil {
			c := byTime.Cursor()
			if k, _ := c.First(); k != nil {
				oldest := decodeInt(k)
				stats.OldestEvent = &oldest
			}
			if k, _ := c.Last(); k != nil {
				newest := decodeInt(k)
				stats.NewestEvent = &newest
			}
		}
		if checks := tx.Bucket(ChecksBucket).Bucket([]byte(checker)); checks != nil {
			stats.Audits = checks.Stats().KeyN
			if k, _ := checks.Cursor().Last(); k != nil {
				last := decodeInt(k)
				stats.LastChecked = &last
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("checker stats", checker, err)
	}
	return stats, nil
}

func (s *BoltStore) GetRecentChecks(ctx context.Context, checker string, limit int) ([]CheckAudit, error) {
	var audits []CheckAudit

	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket).Bucket([]byte(checker))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if limit > 0 && len(audits) >= limit {
				break
			}
			audits = append(audits, CheckAudit{Checker: checker, MinuteEpoch: decodeInt(k)})
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("recent checks", checker, err)
	}
	return audits, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Backend: "boltdb", CollectedAt: time.Now()}
	checkers := make(map[string]struct{})

	err := s.view(func(tx *bbolt.Tx) error {
		err := tx.Bucket(EventsBucket).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			checkers[string(k)] = struct{}{}
			if ids := tx.Bucket(EventsBucket).Bucket(k).Bucket(idsBucket); ids != nil {
				stats.TotalEvents += ids.Stats().KeyN
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(ChecksBucket).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			checkers[string(k)] = struct{}{}
			stats.TotalAudits += tx.Bucket(ChecksBucket).Bucket(k).Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("database stats", "", err)
	}
	stats.Checkers = len(checkers)

	// Get file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

// CompactDatabase rewrites the database into a fresh file and swaps it in
// place. Writers are blocked for the duration.
func (s *BoltStore) CompactDatabase(ctx context.Context) error {
	logrus.Info("Starting database compaction")

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".compact.tmp"
	os.Remove(tmpPath)
	dst, err := openBolt(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	if err := bbolt.Compact(dst, s.db, compactTxMaxSize); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data to compact database: %w", err)
	}
	dst.Close()

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close database before swap: %w", err)
	}

	renameErr := os.Rename(tmpPath, s.path)

	// Reopen whichever file is in place so the store stays usable.
	db, err := openBolt(s.path)
	if err != nil {
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}
	s.db = db

	if renameErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace database: %w", renameErr)
	}

	logrus.Info("Database compaction completed successfully")
	return nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func checkerSubBucket(tx *bbolt.Tx, checker string, name []byte) *bbolt.Bucket {
	cb := tx.Bucket(EventsBucket).Bucket([]byte(checker))
	if cb == nil {
		return nil
	}
	return cb.Bucket(name)
}

// encodeInt maps int64 onto bytes that sort in numeric order.
func encodeInt(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return b
}

func decodeInt(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b[:8]) ^ (1 << 63))
}

func timeKey(ts int64, id string) []byte {
	key := make([]byte, 0, 8+len(id))
	key = append(key, encodeInt(ts)...)
	return append(key, id...)
}

// idKey prefixes unique ids so an empty id is still a valid bbolt key.
func idKey(id string) []byte {
	key := make([]byte, 0, 1+len(id))
	key = append(key, 'i')
	return append(key, id...)
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
