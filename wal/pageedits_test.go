package wal

import (
	"bytes"
	"testing"
)

func TestPageEdits_ApplyIsSequentialLastWriterWins(t *testing.T) {
	pe := NewPageEdits()
	pe.Record(0, []byte("aaaa"))
	pe.Record(2, []byte("bb"))

	page := make([]byte, 8)
	pe.Apply(page)
	if !bytes.Equal(page[:4], []byte("aabb")) {
		t.Fatalf("got %q, want %q", page[:4], "aabb")
	}
}

func TestPageEdits_MarshalUnmarshalRoundTrip(t *testing.T) {
	pe := NewPageEdits()
	pe.Record(0, []byte("hello"))
	pe.Record(100, []byte("world"))

	buf := pe.Marshal(4096, false)
	loc, got, consumed, err := UnmarshalPageEdits(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loc != 4096 {
		t.Fatalf("location = %d, want 4096", loc)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if got.Len() != 2 {
		t.Fatalf("edit count = %d, want 2", got.Len())
	}

	page := make([]byte, 8192)
	pe.Apply(page)
	pageFromRoundTrip := make([]byte, 8192)
	got.Apply(pageFromRoundTrip)
	if !bytes.Equal(page, pageFromRoundTrip) {
		t.Fatalf("round-tripped edits do not replay identically")
	}
}

func TestPageEdits_CoalescedReplayMatchesSequentialReplay(t *testing.T) {
	pe := NewPageEdits()
	pe.Record(0, []byte("AAAAAAAA"))
	pe.Record(2, []byte("BB"))
	pe.Record(4, []byte("CCCC"))
	pe.Record(20, []byte("Z"))

	seq := make([]byte, 32)
	pe.Apply(seq)

	buf := pe.Marshal(0, true)
	_, coalesced, _, err := UnmarshalPageEdits(buf)
	if err != nil {
		t.Fatalf("unmarshal coalesced: %v", err)
	}
	got := make([]byte, 32)
	coalesced.Apply(got)

	if !bytes.Equal(seq, got) {
		t.Fatalf("coalesced replay %q does not match sequential replay %q", got, seq)
	}
}

func TestPageEdits_EmptyMarshalRoundTrips(t *testing.T) {
	pe := NewPageEdits()
	buf := pe.Marshal(8192, false)
	loc, got, consumed, err := UnmarshalPageEdits(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loc != 8192 || got.Len() != 0 || consumed != len(buf) {
		t.Fatalf("unexpected round trip of empty PageEdits: loc=%d len=%d consumed=%d", loc, got.Len(), consumed)
	}
}

func TestPageEdits_UnmarshalRejectsTruncatedBuffer(t *testing.T) {
	pe := NewPageEdits()
	pe.Record(0, []byte("hello"))
	buf := pe.Marshal(0, false)
	if _, _, _, err := UnmarshalPageEdits(buf[:len(buf)-1]); err == nil {
		t.Fatalf("expected a truncated buffer to fail unmarshal")
	}
}
