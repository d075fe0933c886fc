package storage

import "testing"

func TestEndpoint_BigEndianEncoding(t *testing.T) {
	s := NewMemoryStorage()
	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := ep.WriteChar(0, 0xABCD); err != nil {
		t.Fatalf("write char: %v", err)
	}
	raw, err := ep.ReadBytes(0, 2)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if raw[0] != 0xAB || raw[1] != 0xCD {
		t.Fatalf("expected big-endian byte order, got % x", raw)
	}

	if err := ep.WriteInt32(10, -1); err != nil {
		t.Fatalf("write int32: %v", err)
	}
	raw32, err := ep.ReadBytes(10, 4)
	if err != nil {
		t.Fatalf("read raw32: %v", err)
	}
	for _, b := range raw32 {
		if b != 0xFF {
			t.Fatalf("expected all-0xFF two's complement encoding of -1, got % x", raw32)
		}
	}
}

func TestEndpoint_FloatRoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ep.WriteFloat64(0, 3.141592653589793); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := ep.ReadFloat64(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 3.141592653589793 {
		t.Fatalf("got %v, want pi", v)
	}
}

func TestEndpoint_OutOfBoundsRejected(t *testing.T) {
	s := NewMemoryStorage()
	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := ep.ReadUint8(PageSize); err == nil {
		t.Fatalf("expected out-of-bounds read just past the endpoint's page")
	}
	if err := ep.WriteUint8(-1, 0); err == nil {
		t.Fatalf("expected out-of-bounds write at a negative offset")
	}
}

func TestEndpoint_NoInternalCursor(t *testing.T) {
	s := NewMemoryStorage()
	ep, err := s.AcquireEndpointAt(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ep.WriteUint8(100, 7); err != nil {
		t.Fatalf("write at 100: %v", err)
	}
	if err := ep.WriteUint8(5, 9); err != nil {
		t.Fatalf("write at 5: %v", err)
	}
	v, err := ep.ReadUint8(100)
	if err != nil {
		t.Fatalf("read at 100: %v", err)
	}
	if v != 7 {
		t.Fatalf("interleaved absolute-offset writes should not share a cursor: got %d, want 7", v)
	}
}
