package storage

import (
	"path/filepath"
	"testing"
)

func TestDirectFileStorage_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.bin")
	s, err := OpenDirectFileStorage(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire endpoint: %v", err)
	}
	if err := ep.WriteInt64(0, 0x0102030405060708); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := ep.ReadInt64(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0x0102030405060708 {
		t.Fatalf("got %x, want %x", v, 0x0102030405060708)
	}
}

func TestDirectFileStorage_ReopenPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.bin")
	s, err := OpenDirectFileStorage(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ep.WriteBytes(0, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenDirectFileStorage(path, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Size() < 5 {
		t.Fatalf("size after reopen = %d, want >= 5", s2.Size())
	}
	ep2, err := s2.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire after reopen: %v", err)
	}
	got, err := ep2.ReadBytes(0, 5)
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDirectFileStorage_TruncateShrinksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.bin")
	s, err := OpenDirectFileStorage(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := s.ExtendTo(1000); err != nil {
		t.Fatalf("extendTo: %v", err)
	}
	changed, err := s.Truncate(200)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !changed {
		t.Fatalf("truncate should report change")
	}
	if s.Size() != 200 {
		t.Fatalf("size = %d, want 200", s.Size())
	}
}

func TestDirectFileStorage_ReadOnlyRejectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.bin")
	rw, err := OpenDirectFileStorage(path, true)
	if err != nil {
		t.Fatalf("open rw: %v", err)
	}
	if _, err := rw.ExtendTo(PageSize); err != nil {
		t.Fatalf("extendTo: %v", err)
	}
	rw.Close()

	ro, err := OpenDirectFileStorage(path, false)
	if err != nil {
		t.Fatalf("open ro: %v", err)
	}
	defer ro.Close()
	if ro.IsWritable() {
		t.Fatalf("expected read-only storage")
	}
	ep, err := ro.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ep.WriteUint8(0, 1); err == nil {
		t.Fatalf("expected write to fail on read-only storage")
	}
}
