package storage

import (
	"sync"
	"testing"
)

func TestThreadSafeStorage_ManagedAccessRoundTrip(t *testing.T) {
	ts := NewThreadSafeStorage(NewMemoryStorage())
	defer ts.Close()

	if _, err := ts.ExtendTo(PageSize); err != nil {
		t.Fatalf("extendTo: %v", err)
	}
	ma, err := ts.Access(0, PageSize, true)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if err := ma.WriteInt32(0, 42); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := ma.ReadInt32(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
	if err := ma.Close(); err != nil {
		t.Fatalf("close access: %v", err)
	}
}

func TestThreadSafeStorage_AcquireEndpointDisallowed(t *testing.T) {
	ts := NewThreadSafeStorage(NewMemoryStorage())
	defer ts.Close()
	if _, err := ts.AcquireEndpointAt(0); err == nil {
		t.Fatalf("expected AcquireEndpointAt to be disallowed on ThreadSafeStorage")
	}
}

func TestThreadSafeStorage_ConcurrentDisjointWritesDoNotCorrupt(t *testing.T) {
	ts := NewThreadSafeStorage(NewMemoryStorage())
	defer ts.Close()
	if _, err := ts.ExtendTo(PageSize * 4); err != nil {
		t.Fatalf("extendTo: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(page int64) {
			defer wg.Done()
			ma, err := ts.Access(page*PageSize, PageSize, true)
			if err != nil {
				t.Errorf("access: %v", err)
				return
			}
			defer ma.Close()
			if err := ma.WriteInt64(page*PageSize, page); err != nil {
				t.Errorf("write: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	for i := int64(0); i < 4; i++ {
		ma, err := ts.Access(i*PageSize, PageSize, false)
		if err != nil {
			t.Fatalf("access: %v", err)
		}
		v, err := ma.ReadInt64(i * PageSize)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if v != i {
			t.Fatalf("page %d: got %d, want %d", i, v, i)
		}
		ma.Close()
	}
}
