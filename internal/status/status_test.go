package status

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), "s1")
	records, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %v, want none", records)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), "s1")
	if err := s.Update("e0", Running, "/runs/s1/e0"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update("e1", Skipped, "/runs/s1/e1"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	records, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[string]Record{
		"e0": {Status: Running, LogDir: "/runs/s1/e0"},
		"e1": {Status: Skipped, LogDir: "/runs/s1/e1"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateOverwritesLastWriterWins(t *testing.T) {
	s := NewStore(t.TempDir(), "s1")
	if err := s.Update("e0", Running, "/runs/s1/e0"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update("e0", Done, "/runs/s1/e0"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	records, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := records["e0"].Status; got != Done {
		t.Fatalf("status = %s, want done", got)
	}
	if len(records) != 1 {
		t.Fatalf("records = %v, want a single overwritten record", records)
	}
}
