package storage

import (
	"fmt"
	"os"

	"github.com/bramblekv/pagewal/errs"
)

// MmapStorage maps the whole backing file into memory at open and slices
// endpoints directly into the mapping. It is not internally thread-safe —
// callers needing concurrent access must go through ThreadSafeStorage.
type MmapStorage struct {
	stateGuard
	f        *os.File
	path     string
	data     []byte
	size     int64
	writable bool
}

// OpenMmapStorage opens (creating if necessary) path and maps its full
// current length. An empty file maps a zero-length region; growth remaps.
func OpenMmapStorage(path string, writable bool) (*MmapStorage, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errs.New(errs.IoFailure, "open mmap storage", fmt.Errorf("open %s: %w", path, err))
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.New(errs.IoFailure, "open mmap storage", fmt.Errorf("stat %s: %w", path, err))
	}
	m := &MmapStorage{f: f, path: path, size: fi.Size(), writable: writable}
	if fi.Size() > 0 {
		data, err := mmapFile(f, fi.Size())
		if err != nil {
			f.Close()
			return nil, errs.New(errs.IoFailure, "open mmap storage", err)
		}
		m.data = data
	}
	return m, nil
}

func (m *MmapStorage) IsWritable() bool { return m.writable }
func (m *MmapStorage) Size() int64      { return m.size }

func (m *MmapStorage) Flush() error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "flush", nil)
	}
	if m.data != nil {
		if err := msyncFile(m.data, true); err != nil {
			return errs.New(errs.IoFailure, "flush", err)
		}
	}
	return nil
}

// remap grows the mapping to at least length bytes, extending the
// underlying file first.
func (m *MmapStorage) remap(length int64) error {
	if length <= int64(len(m.data)) {
		return nil
	}
	if err := m.f.Truncate(length); err != nil {
		return errs.New(errs.IoFailure, "remap", err)
	}
	if m.data != nil {
		if err := munmapFile(m.data); err != nil {
			return errs.New(errs.IoFailure, "remap", err)
		}
	}
	data, err := mmapFile(m.f, length)
	if err != nil {
		return errs.New(errs.IoFailure, "remap", err)
	}
	m.data = data
	return nil
}

func (m *MmapStorage) readAt(off int64, p []byte) error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "read", nil)
	}
	if off < 0 || off+int64(len(p)) > m.size {
		return errs.New(errs.OutOfBounds, "read", nil)
	}
	copy(p, m.data[off:off+int64(len(p))])
	return nil
}

func (m *MmapStorage) writeAt(off int64, p []byte) error {
	if !m.writable {
		return errs.New(errs.InvalidState, "write", nil)
	}
	if err := m.acquireBusy(); err != nil {
		return err
	}
	defer m.releaseBusy()
	if off < 0 {
		return errs.New(errs.OutOfBounds, "write", nil)
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		if err := m.remap(end); err != nil {
			return err
		}
	}
	copy(m.data[off:end], p)
	if end > m.size {
		m.size = end
	}
	return nil
}

func (m *MmapStorage) AcquireEndpointAt(offset int64) (*Endpoint, error) {
	if m.closed() {
		return nil, errs.New(errs.StorageClosed, "acquireEndpointAt", nil)
	}
	if offset < 0 {
		return nil, errs.New(errs.OutOfBounds, "acquireEndpointAt", nil)
	}
	return newEndpoint(m, pageBase(offset), PageSize), nil
}

func (m *MmapStorage) ReleaseEndpoint(ep *Endpoint) error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "releaseEndpoint", nil)
	}
	return nil
}

// truncateLocked performs the truncate body; callers must already hold Busy.
func (m *MmapStorage) truncateLocked(length int64) (bool, error) {
	if length < 0 {
		return false, errs.New(errs.OutOfBounds, "truncate", nil)
	}
	if length >= m.size {
		return false, nil
	}
	if rem := length % PageSize; rem != 0 && length < int64(len(m.data)) {
		end := length - rem + PageSize
		if end > int64(len(m.data)) {
			end = int64(len(m.data))
		}
		for i := length; i < end; i++ {
			m.data[i] = 0
		}
	}
	if m.data != nil {
		if err := munmapFile(m.data); err != nil {
			return false, errs.New(errs.IoFailure, "truncate", err)
		}
		m.data = nil
	}
	if err := m.f.Truncate(length); err != nil {
		return false, errs.New(errs.IoFailure, "truncate", err)
	}
	if length > 0 {
		data, err := mmapFile(m.f, length)
		if err != nil {
			return false, errs.New(errs.IoFailure, "truncate", err)
		}
		m.data = data
	}
	m.size = length
	return true, nil
}

func (m *MmapStorage) Truncate(length int64) (bool, error) {
	if err := m.acquireBusy(); err != nil {
		return false, err
	}
	defer m.releaseBusy()
	return m.truncateLocked(length)
}

func (m *MmapStorage) Cut(from, to int64) (bool, error) {
	if err := m.acquireBusy(); err != nil {
		return false, err
	}
	defer m.releaseBusy()
	if from < 0 || from > to {
		return false, errs.New(errs.OutOfBounds, "cut", nil)
	}
	if from == to {
		return false, nil
	}
	zeroTo := to
	shrinking := to >= m.size
	if shrinking {
		zeroTo = m.size
	}
	for i := from; i < zeroTo && i < int64(len(m.data)); i++ {
		m.data[i] = 0
	}
	if shrinking && from < m.size {
		return m.truncateLocked(from)
	}
	return false, nil
}

func (m *MmapStorage) ExtendTo(length int64) (bool, error) {
	if err := m.acquireBusy(); err != nil {
		return false, err
	}
	defer m.releaseBusy()
	if length <= m.size {
		return false, nil
	}
	if err := m.remap(length); err != nil {
		return false, err
	}
	m.size = length
	return true, nil
}

func (m *MmapStorage) Close() error {
	if err := m.close(); err != nil {
		return err
	}
	if m.data != nil {
		if err := munmapFile(m.data); err != nil {
			return errs.New(errs.IoFailure, "close", err)
		}
	}
	if err := m.f.Close(); err != nil {
		return errs.New(errs.IoFailure, "close", err)
	}
	return nil
}

// Path returns the backing file's path.
func (m *MmapStorage) Path() string { return m.path }
