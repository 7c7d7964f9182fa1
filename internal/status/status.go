// Package status persists the per-experiment outcome of a suite run as
// runs/<suite>/status.yml. The schema is a contract with external
// reporting tooling: experiment id -> {status, log_dir}.
package status

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Done    Status = "done"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Record is the last known outcome of one experiment. Records are
// overwritten at every transition, last writer wins.
type Record struct {
	Status Status `yaml:"status"`
	LogDir string `yaml:"log_dir"`
}

type statusFile struct {
	Experiments map[string]Record `yaml:"experiments"`
}

// Store reads and writes one suite's status file.
type Store struct {
	path string
}

func NewStore(runsDir, suiteName string) *Store {
	return &Store{path: filepath.Join(runsDir, suiteName, "status.yml")}
}

// Path returns the status file location, for display.
func (s *Store) Path() string { return s.path }

// Update sets the record for one experiment, creating the file and its
// parents on first write.
func (s *Store) Update(expName string, st Status, logDir string) error {
	cur, err := s.load()
	if err != nil {
		return err
	}
	cur.Experiments[expName] = Record{Status: st, LogDir: logDir}
	b, err := yaml.Marshal(cur)
	if err != nil {
		return fmt.Errorf("error marshaling status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0644)
}

// Load returns all recorded experiments. Experiments with no record are
// implicitly pending and simply absent from the map.
func (s *Store) Load() (map[string]Record, error) {
	cur, err := s.load()
	if err != nil {
		return nil, err
	}
	return cur.Experiments, nil
}

func (s *Store) load() (*statusFile, error) {
	sf := statusFile{Experiments: map[string]Record{}}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &sf, nil
		}
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("error unmarshaling status file: %w", err)
	}
	if sf.Experiments == nil {
		sf.Experiments = map[string]Record{}
	}
	return &sf, nil
}
