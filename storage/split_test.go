package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitStorage_WriteSpanningMemberBoundary(t *testing.T) {
	dir := t.TempDir()
	maxSize := int64(PageSize * 2)
	s, err := OpenSplitStorage(dir, "seg", ".dat", maxSize, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.ExtendTo(maxSize * 2); err != nil {
		t.Fatalf("extendTo: %v", err)
	}

	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	off := maxSize - 8
	if err := s.writeAt(off, data); err != nil {
		t.Fatalf("write spanning members: %v", err)
	}
	got := make([]byte, 16)
	if err := s.readAt(off, got); err != nil {
		t.Fatalf("read spanning members: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], data[i])
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 member files, got %d", len(entries))
	}
}

func TestSplitStorage_ReopenDetectsExistingMembers(t *testing.T) {
	dir := t.TempDir()
	maxSize := int64(PageSize)
	s, err := OpenSplitStorage(dir, "seg", ".dat", maxSize, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.ExtendTo(maxSize * 3); err != nil {
		t.Fatalf("extendTo: %v", err)
	}
	if err := s.writeAt(0, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSplitStorage(dir, "seg", ".dat", maxSize, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Size() != maxSize*3 {
		t.Fatalf("size = %d, want %d", s2.Size(), maxSize*3)
	}
	got := make([]byte, 3)
	if err := s2.readAt(0, got); err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestSplitStorage_TruncateRemovesTrailingMembers(t *testing.T) {
	dir := t.TempDir()
	maxSize := int64(PageSize)
	s, err := OpenSplitStorage(dir, "seg", ".dat", maxSize, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := s.ExtendTo(maxSize * 3); err != nil {
		t.Fatalf("extendTo: %v", err)
	}
	changed, err := s.Truncate(maxSize / 2)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !changed {
		t.Fatalf("truncate should report change")
	}
	if s.Size() != maxSize/2 {
		t.Fatalf("size = %d, want %d", s.Size(), maxSize/2)
	}
	if _, err := os.Stat(filepath.Join(dir, "seg1.dat")); !os.IsNotExist(err) {
		t.Fatalf("expected trailing member seg1.dat to be removed")
	}
}

func TestSplitStorage_RejectsGapInMemberSequence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seg0.dat"), make([]byte, PageSize), 0644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "seg2.dat"), make([]byte, PageSize), 0644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	if _, err := OpenSplitStorage(dir, "seg", ".dat", PageSize, true); err == nil {
		t.Fatalf("expected a gap in the member sequence to be rejected")
	}
}
