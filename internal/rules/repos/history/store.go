package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-rulecheck/internal/rules/domain"
)

var bucketRuns = []byte("runs")

var errBucketMissing = errors.New("history bucket missing")

// Store keeps run reports in a bbolt database, keyed by an increasing sequence.
// Only counts are stored; domain verdicts never reach disk.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) a history database at path and ensures buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, domain.NewFileError("open", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, domain.NewFileError("init", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append stores r and returns its sequence number.
func (s *Store) Append(r domain.Report) (uint64, error) {
	val, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	var seq uint64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil {
			return errBucketMissing
		}
		var err error
		if seq, err = runs.NextSequence(); err != nil {
			return err
		}
		return runs.Put(seqKey(seq), val)
	})
	return seq, err
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]domain.Report, error) {
	var out []domain.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs == nil {
			return errBucketMissing
		}
		c := runs.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var r domain.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Name identifies the store as a report sink.
func (s *Store) Name() string { return "history" }

// Publish appends the report; it lets the store act as a report sink.
func (s *Store) Publish(r domain.Report) error {
	_, err := s.Append(r)
	return err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
