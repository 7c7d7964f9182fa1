package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndListChronological(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs", "qtb.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	second := SuiteRun{
		ID:          "b",
		Suite:       "s1",
		Started:     base.Add(time.Hour),
		Finished:    base.Add(2 * time.Hour),
		Experiments: map[string]string{"e0": "failed"},
	}
	first := SuiteRun{
		ID:          "a",
		Suite:       "s1",
		Started:     base,
		Finished:    base.Add(time.Minute),
		Experiments: map[string]string{"e0": "done", "e1": "skipped"},
	}
	if err := s.Append(second); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "a" || runs[1].ID != "b" {
		t.Fatalf("order = [%s %s], want oldest first", runs[0].ID, runs[1].ID)
	}
	if runs[0].Experiments["e1"] != "skipped" {
		t.Fatalf("experiments not round-tripped: %+v", runs[0].Experiments)
	}
}
