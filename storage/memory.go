package storage

import (
	"sync"

	"github.com/bramblekv/pagewal/errs"
)

// MemoryStorage is a purely in-memory Storage: a dynamic array of page
// buffers grown by doubling, with unmaterialised slots read back as zero.
// It never performs I/O, so Flush is a no-op beyond the state check.
type MemoryStorage struct {
	stateGuard
	mu       sync.RWMutex
	pages    [][]byte // nil entries are implicit zero pages
	size     int64
	writable bool
}

// NewMemoryStorage returns an empty, writable, in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{writable: true}
}

func (m *MemoryStorage) IsWritable() bool { return m.writable }

func (m *MemoryStorage) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryStorage) Flush() error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "flush", nil)
	}
	return nil
}

func (m *MemoryStorage) ensurePageLocked(idx int) {
	if idx < len(m.pages) {
		return
	}
	newCap := len(m.pages)
	if newCap == 0 {
		newCap = 4
	}
	for newCap <= idx {
		newCap *= 2
	}
	grown := make([][]byte, newCap)
	copy(grown, m.pages)
	m.pages = grown
}

func (m *MemoryStorage) readAt(off int64, p []byte) error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "read", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > m.size {
		return errs.New(errs.OutOfBounds, "read", nil)
	}
	pos := 0
	for pos < len(p) {
		idx := int((off + int64(pos)) / PageSize)
		pageOff := int((off + int64(pos)) % PageSize)
		n := PageSize - pageOff
		if remain := len(p) - pos; n > remain {
			n = remain
		}
		if idx < len(m.pages) && m.pages[idx] != nil {
			copy(p[pos:pos+n], m.pages[idx][pageOff:pageOff+n])
		} else {
			for i := 0; i < n; i++ {
				p[pos+i] = 0
			}
		}
		pos += n
	}
	return nil
}

func (m *MemoryStorage) writeAt(off int64, p []byte) error {
	if !m.writable {
		return errs.New(errs.InvalidState, "write", nil)
	}
	if err := m.acquireBusy(); err != nil {
		return err
	}
	defer m.releaseBusy()
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 {
		return errs.New(errs.OutOfBounds, "write", nil)
	}
	pos := 0
	for pos < len(p) {
		idx := int((off + int64(pos)) / PageSize)
		pageOff := int((off + int64(pos)) % PageSize)
		n := PageSize - pageOff
		if remain := len(p) - pos; n > remain {
			n = remain
		}
		m.ensurePageLocked(idx)
		if m.pages[idx] == nil {
			m.pages[idx] = make([]byte, PageSize)
		}
		copy(m.pages[idx][pageOff:pageOff+n], p[pos:pos+n])
		pos += n
	}
	if end := off + int64(len(p)); end > m.size {
		m.size = end
	}
	return nil
}

func (m *MemoryStorage) AcquireEndpointAt(offset int64) (*Endpoint, error) {
	if m.closed() {
		return nil, errs.New(errs.StorageClosed, "acquireEndpointAt", nil)
	}
	if offset < 0 {
		return nil, errs.New(errs.OutOfBounds, "acquireEndpointAt", nil)
	}
	return newEndpoint(m, pageBase(offset), PageSize), nil
}

func (m *MemoryStorage) ReleaseEndpoint(ep *Endpoint) error {
	if m.closed() {
		return errs.New(errs.StorageClosed, "releaseEndpoint", nil)
	}
	return nil
}

func (m *MemoryStorage) Truncate(length int64) (bool, error) {
	if err := m.acquireBusy(); err != nil {
		return false, err
	}
	defer m.releaseBusy()
	m.mu.Lock()
	defer m.mu.Unlock()
	if length < 0 {
		return false, errs.New(errs.OutOfBounds, "truncate", nil)
	}
	if length >= m.size {
		return false, nil
	}
	if rem := length % PageSize; rem != 0 {
		idx := int(length / PageSize)
		if idx < len(m.pages) && m.pages[idx] != nil {
			for i := int(rem); i < PageSize; i++ {
				m.pages[idx][i] = 0
			}
		}
	}
	lastIdx := int((length + PageSize - 1) / PageSize)
	for i := lastIdx; i < len(m.pages); i++ {
		m.pages[i] = nil
	}
	m.size = length
	return true, nil
}

func (m *MemoryStorage) Cut(from, to int64) (bool, error) {
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
	m.mu.Lock()
	zeroTo := to
	shrinking := to >= m.size
	if shrinking {
		zeroTo = m.size
	}
	for off := from; off < zeroTo; {
		idx := int(off / PageSize)
		pageOff := int(off % PageSize)
		n := PageSize - pageOff
		if remain := zeroTo - off; int64(n) > remain {
			n = int(remain)
		}
		if idx < len(m.pages) && m.pages[idx] != nil {
			for i := 0; i < n; i++ {
				m.pages[idx][pageOff+i] = 0
			}
		}
		off += int64(n)
	}
	changed := false
	if shrinking && from < m.size {
		m.size = from
		changed = true
	}
	m.mu.Unlock()
	return changed, nil
}

func (m *MemoryStorage) ExtendTo(length int64) (bool, error) {
	if err := m.acquireBusy(); err != nil {
		return false, err
	}
	defer m.releaseBusy()
	m.mu.Lock()
	defer m.mu.Unlock()
	if length <= m.size {
		return false, nil
	}
	idx := int((length - 1) / PageSize)
	m.ensurePageLocked(idx)
	m.size = length
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return m.close()
}
