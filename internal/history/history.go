// Package history keeps an append-only index of completed suite runs in a
// small bbolt database under the runs directory, so past runs can be
// listed without walking every status file.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketSuiteRuns = "suite_runs"

// SuiteRun is one completed invocation of the run command.
type SuiteRun struct {
	ID          string            `json:"id"`
	Suite       string            `json:"suite"`
	Started     time.Time         `json:"started"`
	Finished    time.Time         `json:"finished"`
	Experiments map[string]string `json:"experiments"`
}

type Store struct {
	db *bbolt.DB
}

// Open creates or opens the run index at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening run index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSuiteRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append records one finished suite run. Keys sort by start time so List
// returns runs chronologically.
func (s *Store) Append(run SuiteRun) error {
	value, err := json.Marshal(run)
	if err != nil {
		return err
	}
	key := run.Started.UTC().Format(time.RFC3339Nano) + "/" + run.ID
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSuiteRuns)).Put([]byte(key), value)
	})
}

// List returns all recorded runs, oldest first.
func (s *Store) List() ([]SuiteRun, error) {
	var runs []SuiteRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSuiteRuns)).ForEach(func(_, v []byte) error {
			var run SuiteRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
