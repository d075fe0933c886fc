package storage

import (
	"github.com/bramblekv/pagewal/access"
	"github.com/bramblekv/pagewal/errs"
)

// ThreadSafeStorage wraps any Storage backend and routes all I/O through an
// access.AccessManager, so concurrent callers get the disjoint-writer,
// writer-excludes-readers guarantee without managing their own locking.
// AcquireEndpointAt/ReleaseEndpoint are disallowed here; callers must go
// through Access.
type ThreadSafeStorage struct {
	backend Storage
	mgr     *access.AccessManager
}

// NewThreadSafeStorage wraps backend with a fresh access manager.
func NewThreadSafeStorage(backend Storage) *ThreadSafeStorage {
	return &ThreadSafeStorage{backend: backend, mgr: access.NewAccessManager(16)}
}

func (t *ThreadSafeStorage) IsWritable() bool { return t.backend.IsWritable() }

func (t *ThreadSafeStorage) Size() int64 { return t.backend.Size() }

func (t *ThreadSafeStorage) Flush() error {
	g, err := t.mgr.Access(0, t.backend.Size(), true)
	if err != nil {
		return err
	}
	defer g.Close()
	return t.backend.Flush()
}

// AcquireEndpointAt is disallowed on the thread-safe proxy; callers must
// acquire a ManagedAccess via Access instead.
func (t *ThreadSafeStorage) AcquireEndpointAt(offset int64) (*Endpoint, error) {
	return nil, errs.New(errs.InvalidState, "acquireEndpointAt", nil)
}

// ReleaseEndpoint is disallowed on the thread-safe proxy.
func (t *ThreadSafeStorage) ReleaseEndpoint(ep *Endpoint) error {
	return errs.New(errs.InvalidState, "releaseEndpoint", nil)
}

func (t *ThreadSafeStorage) Truncate(length int64) (bool, error) {
	g, err := t.mgr.Access(0, max64(length, t.backend.Size()), true)
	if err != nil {
		return false, err
	}
	defer g.Close()
	return t.backend.Truncate(length)
}

func (t *ThreadSafeStorage) Cut(from, to int64) (bool, error) {
	g, err := t.mgr.Access(from, to-from, true)
	if err != nil {
		return false, err
	}
	defer g.Close()
	return t.backend.Cut(from, to)
}

func (t *ThreadSafeStorage) ExtendTo(length int64) (bool, error) {
	g, err := t.mgr.Access(t.backend.Size(), length-t.backend.Size(), true)
	if err != nil {
		return false, err
	}
	defer g.Close()
	return t.backend.ExtendTo(length)
}

func (t *ThreadSafeStorage) Close() error {
	t.mgr.Close()
	return t.backend.Close()
}

// Access acquires a scoped, arbitrated sub-range over the wrapped backend.
func (t *ThreadSafeStorage) Access(offset, length int64, writable bool) (*ManagedAccess, error) {
	acc, err := t.mgr.Access(offset, length, writable)
	if err != nil {
		return nil, err
	}
	return &ManagedAccess{acc: acc, backend: t.backend}, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ManagedAccess is a positioned I/O handle bounded to the range an
// AccessManager admitted, spanning as many of the backend's pages as
// needed.
type ManagedAccess struct {
	acc     *access.Access
	backend Storage
}

func (m *ManagedAccess) Offset() int64  { return m.acc.Offset() }
func (m *ManagedAccess) Length() int64  { return m.acc.Length() }
func (m *ManagedAccess) Writable() bool { return m.acc.Writable() }

func (m *ManagedAccess) bounds(off int64, n int) error {
	if off < m.acc.Offset() || off+int64(n) > m.acc.Offset()+m.acc.Length() {
		return errs.New(errs.OutOfBounds, "managedAccess", nil)
	}
	return nil
}

func (m *ManagedAccess) withEndpoint(off int64, fn func(ep *Endpoint) error) error {
	ep, err := m.backend.AcquireEndpointAt(off)
	if err != nil {
		return err
	}
	defer m.backend.ReleaseEndpoint(ep)
	return fn(ep)
}

func (m *ManagedAccess) ReadUint8(off int64) (uint8, error) {
	if err := m.bounds(off, 1); err != nil {
		return 0, err
	}
	var v uint8
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadUint8(off); return })
	return v, err
}

func (m *ManagedAccess) WriteUint8(off int64, v uint8) error {
	if err := m.bounds(off, 1); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteUint8(off, v) })
}

func (m *ManagedAccess) ReadChar(off int64) (uint16, error) {
	if err := m.bounds(off, 2); err != nil {
		return 0, err
	}
	var v uint16
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadChar(off); return })
	return v, err
}

func (m *ManagedAccess) WriteChar(off int64, v uint16) error {
	if err := m.bounds(off, 2); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteChar(off, v) })
}

func (m *ManagedAccess) ReadInt16(off int64) (int16, error) {
	if err := m.bounds(off, 2); err != nil {
		return 0, err
	}
	var v int16
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadInt16(off); return })
	return v, err
}

func (m *ManagedAccess) WriteInt16(off int64, v int16) error {
	if err := m.bounds(off, 2); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteInt16(off, v) })
}

func (m *ManagedAccess) ReadInt32(off int64) (int32, error) {
	if err := m.bounds(off, 4); err != nil {
		return 0, err
	}
	var v int32
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadInt32(off); return })
	return v, err
}

func (m *ManagedAccess) WriteInt32(off int64, v int32) error {
	if err := m.bounds(off, 4); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteInt32(off, v) })
}

func (m *ManagedAccess) ReadInt64(off int64) (int64, error) {
	if err := m.bounds(off, 8); err != nil {
		return 0, err
	}
	var v int64
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadInt64(off); return })
	return v, err
}

func (m *ManagedAccess) WriteInt64(off int64, v int64) error {
	if err := m.bounds(off, 8); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteInt64(off, v) })
}

func (m *ManagedAccess) ReadFloat32(off int64) (float32, error) {
	if err := m.bounds(off, 4); err != nil {
		return 0, err
	}
	var v float32
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadFloat32(off); return })
	return v, err
}

func (m *ManagedAccess) WriteFloat32(off int64, v float32) error {
	if err := m.bounds(off, 4); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteFloat32(off, v) })
}

func (m *ManagedAccess) ReadFloat64(off int64) (float64, error) {
	if err := m.bounds(off, 8); err != nil {
		return 0, err
	}
	var v float64
	err := m.withEndpoint(off, func(ep *Endpoint) (err error) { v, err = ep.ReadFloat64(off); return })
	return v, err
}

func (m *ManagedAccess) WriteFloat64(off int64, v float64) error {
	if err := m.bounds(off, 8); err != nil {
		return err
	}
	return m.withEndpoint(off, func(ep *Endpoint) error { return ep.WriteFloat64(off, v) })
}

// ReadBytesInto reads len(buf) bytes starting at off, spanning as many
// backend pages as needed.
func (m *ManagedAccess) ReadBytesInto(off int64, buf []byte) error {
	if err := m.bounds(off, len(buf)); err != nil {
		return err
	}
	pos := 0
	for pos < len(buf) {
		cur := off + int64(pos)
		err := m.withEndpoint(cur, func(ep *Endpoint) error {
			n := int(ep.Base() + ep.Size() - cur)
			if remain := len(buf) - pos; n > remain {
				n = remain
			}
			if err := ep.ReadBytesInto(cur, buf[pos:pos+n]); err != nil {
				return err
			}
			pos += n
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes writes data starting at off, spanning as many backend pages as
// needed.
func (m *ManagedAccess) WriteBytes(off int64, data []byte) error {
	if err := m.bounds(off, len(data)); err != nil {
		return err
	}
	pos := 0
	for pos < len(data) {
		cur := off + int64(pos)
		err := m.withEndpoint(cur, func(ep *Endpoint) error {
			n := int(ep.Base() + ep.Size() - cur)
			if remain := len(data) - pos; n > remain {
				n = remain
			}
			if err := ep.WriteBytes(cur, data[pos:pos+n]); err != nil {
				return err
			}
			pos += n
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying Access.
func (m *ManagedAccess) Close() error { return m.acc.Close() }
