// Package resumable keeps the frames of in-flight streams so a client that
// reconnects can replay what it missed and follow the rest live.
package resumable

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var streamsBucket = []byte("streams")

var (
	keyDone    = []byte("done")
	keyCreated = []byte("created")
)

// Log persists stream chunks so interrupted streams survive a restart.
type Log interface {
	Begin(streamID string) error
	Append(streamID string, chunk []byte) error
	Finish(streamID string) error
	// Read returns the stored chunks in append order.
	Read(streamID string) (chunks [][]byte, done bool, found bool, err error)
	// Prune drops streams created more than maxAge ago and finished
	// streams whose finish is older than finishedGrace.
	Prune(maxAge, finishedGrace time.Duration) (int, error)
	Close() error
}

// BoltLog stores one nested bucket per stream. Chunk keys are big-endian
// sequence numbers; metadata keys are never 8 bytes long.
type BoltLog struct {
	db *bolt.DB
}

func OpenBoltLog(path string) (*BoltLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stream log %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(streamsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise stream log: %w", err)
	}
	return &BoltLog{db: db}, nil
}

func (l *BoltLog) Begin(streamID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsBucket)
		if root.Bucket([]byte(streamID)) != nil {
			if err := root.DeleteBucket([]byte(streamID)); err != nil {
				return err
			}
		}
		b, err := root.CreateBucket([]byte(streamID))
		if err != nil {
			return err
		}
		created, err := time.Now().UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(keyCreated, created)
	})
}

func (l *BoltLog) Append(streamID string, chunk []byte) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(streamsBucket).Bucket([]byte(streamID))
		if b == nil {
			return fmt.Errorf("stream %s not started", streamID)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		// bolt owns the value until the transaction ends; chunk may be reused by the caller.
		val := append([]byte(nil), chunk...)
		return b.Put(key, val)
	})
}

func (l *BoltLog) Finish(streamID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(streamsBucket).Bucket([]byte(streamID))
		if b == nil {
			return nil
		}
		at, err := time.Now().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(keyDone, at)
	})
}

func (l *BoltLog) Read(streamID string) ([][]byte, bool, bool, error) {
	var (
		chunks [][]byte
		done   bool
		found  bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(streamsBucket).Bucket([]byte(streamID))
		if b == nil {
			return nil
		}
		found = true
		done = b.Get(keyDone) != nil
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || v == nil {
				return nil
			}
			chunks = append(chunks, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to read stream %s: %w", streamID, err)
	}
	return chunks, done, found, nil
}

// Prune drops streams created more than maxAge ago, and finished streams
// once finishedGrace has passed, and reports how many it dropped.
func (l *BoltLog) Prune(maxAge, finishedGrace time.Duration) (int, error) {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	finishedCutoff := now.Add(-finishedGrace)
	var stale [][]byte

	err := l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsBucket)
		err := root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			b := root.Bucket(k)
			if stamp(b.Get(keyCreated)).Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if raw := b.Get(keyDone); raw != nil && !stamp(raw).After(finishedCutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := root.DeleteBucket(k); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune stream log: %w", err)
	}
	return len(stale), nil
}

// stamp decodes a stored time; missing or unreadable values are the zero
// time so they are always old enough to prune.
func stamp(raw []byte) time.Time {
	var t time.Time
	if raw == nil {
		return t
	}
	if err := t.UnmarshalBinary(raw); err != nil {
		return time.Time{}
	}
	return t
}

// Ping reports whether the log file is open and initialised.
func (l *BoltLog) Ping(context.Context) error {
	return l.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(streamsBucket) == nil {
			return errors.New("streams bucket missing")
		}
		return nil
	})
}

func (l *BoltLog) Close() error {
	return l.db.Close()
}
