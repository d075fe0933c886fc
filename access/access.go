// Package access implements the range-based concurrency arbiter that sits
// in front of a storage.Storage: writers never overlap any other access,
// readers never overlap a writer, and waiters are admitted in arrival
// order per contended region.
package access

import (
	"sync"

	"github.com/bramblekv/pagewal/errs"
)

// accessNode is one entry in the circular, offset-ordered active list. The
// array backing it is freelist-managed so steady-state acquire/release does
// not allocate; next is an index into the same array, or -1 to mark "no
// successor" only for the freelist chain (the active list is circular and
// always points back to its own head).
type accessNode struct {
	offset   int64
	length   int64
	writable bool
	next     int
	acc      *Access
	inUse    bool
}

type pendingReq struct {
	ticket   uint64
	offset   int64
	length   int64
	writable bool
	ready    chan struct{}
}

// AccessManager arbitrates concurrent Access requests against one storage.
type AccessManager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	nodes      []accessNode
	freeHead   int
	activeHead int
	pending    []*pendingReq
	ticket     uint64
	closed     bool
}

// NewAccessManager returns an arbiter with initialCapacity preallocated
// nodes; the node array grows by doubling if every slot is in use when a
// new access is admitted.
func NewAccessManager(initialCapacity int) *AccessManager {
	if initialCapacity <= 0 {
		initialCapacity = 16
	}
	m := &AccessManager{activeHead: -1}
	m.cond = sync.NewCond(&m.mu)
	m.growLocked(initialCapacity)
	return m
}

func (m *AccessManager) growLocked(toCap int) {
	start := len(m.nodes)
	if toCap <= start {
		return
	}
	grown := make([]accessNode, toCap)
	copy(grown, m.nodes)
	m.nodes = grown
	m.freeHead = -1
	for i := toCap - 1; i >= start; i-- {
		m.nodes[i].next = m.freeHead
		m.freeHead = i
	}
}

func rangesDisjoint(aOff, aLen, bOff, bLen int64) bool {
	return aOff+aLen <= bOff || bOff+bLen <= aOff
}

// compatibleLocked reports whether (offset, length, writable) may be
// admitted given the currently active accesses.
func (m *AccessManager) compatibleLocked(offset, length int64, writable bool) bool {
	if m.activeHead == -1 {
		return true
	}
	i := m.activeHead
	for {
		n := &m.nodes[i]
		disjoint := rangesDisjoint(offset, length, n.offset, n.length)
		if !disjoint && (writable || n.writable) {
			return false
		}
		i = n.next
		if i == m.activeHead {
			break
		}
	}
	return true
}

// oldestForRegionLocked reports whether pr is the earliest-arrived pending
// request overlapping its own range, so two waiters contending for the same
// region are admitted in arrival order even when a younger one happens to
// become range-compatible first.
func (m *AccessManager) oldestForRegionLocked(pr *pendingReq) bool {
	for _, other := range m.pending {
		if other.ticket >= pr.ticket {
			continue
		}
		if !rangesDisjoint(pr.offset, pr.length, other.offset, other.length) {
			return false
		}
	}
	return true
}

func (m *AccessManager) removePending(pr *pendingReq) {
	for i, p := range m.pending {
		if p == pr {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// insertActiveLocked allocates a node and links it into the offset-ordered
// circular active list.
func (m *AccessManager) insertActiveLocked(offset, length int64, writable bool, acc *Access) int {
	if m.freeHead == -1 {
		m.growLocked(len(m.nodes) * 2)
	}
	idx := m.freeHead
	m.freeHead = m.nodes[idx].next
	m.nodes[idx] = accessNode{offset: offset, length: length, writable: writable, acc: acc, inUse: true}

	if m.activeHead == -1 {
		m.nodes[idx].next = idx
		m.activeHead = idx
		return idx
	}
	// Find insertion point keeping the circular list ordered by offset.
	prev := m.activeHead
	for m.nodes[prev].next != m.activeHead && m.nodes[m.nodes[prev].next].offset < offset {
		prev = m.nodes[prev].next
	}
	m.nodes[idx].next = m.nodes[prev].next
	m.nodes[prev].next = idx
	if offset < m.nodes[m.activeHead].offset {
		m.activeHead = idx
	}
	return idx
}

func (m *AccessManager) removeActiveLocked(idx int) {
	if m.nodes[m.activeHead].next == m.activeHead && m.activeHead == idx {
		m.activeHead = -1
	} else {
		prev := idx
		for m.nodes[prev].next != idx {
			prev = m.nodes[prev].next
		}
		m.nodes[prev].next = m.nodes[idx].next
		if m.activeHead == idx {
			m.activeHead = m.nodes[idx].next
		}
	}
	m.nodes[idx] = accessNode{next: m.freeHead}
	m.freeHead = idx
}

// Access requests a scoped sub-range permitting bounded positioned I/O; it
// blocks until admitted. It fails with Conflict only if the manager is
// already closed.
func (m *AccessManager) Access(offset, length int64, writable bool) (*Access, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errs.New(errs.Conflict, "access", nil)
	}

	pr := &pendingReq{ticket: m.ticket, offset: offset, length: length, writable: writable}
	m.ticket++
	m.pending = append(m.pending, pr)

	for {
		if m.closed {
			m.removePending(pr)
			return nil, errs.New(errs.Conflict, "access", nil)
		}
		if m.compatibleLocked(offset, length, writable) && m.oldestForRegionLocked(pr) {
			m.removePending(pr)
			acc := &Access{mgr: m, offset: offset, length: length, writable: writable}
			acc.nodeIdx = m.insertActiveLocked(offset, length, writable, acc)
			return acc, nil
		}
		m.cond.Wait()
	}
}

// Close stops admitting new accesses; blocked and future callers to Access
// receive Conflict. Already-granted accesses remain valid until released.
func (m *AccessManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.New(errs.StorageClosed, "close", nil)
	}
	m.closed = true
	m.cond.Broadcast()
	return nil
}

func (m *AccessManager) release(idx int) {
	m.mu.Lock()
	m.removeActiveLocked(idx)
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Access is a scoped, acquired sub-range of a storage. It releases its hold
// on the manager when Close is called, which must happen exactly once per
// successful AccessManager.Access call.
type Access struct {
	mgr      *AccessManager
	nodeIdx  int
	offset   int64
	length   int64
	writable bool
	mu       sync.Mutex
	closed   bool
}

func (a *Access) Offset() int64  { return a.offset }
func (a *Access) Length() int64  { return a.length }
func (a *Access) Writable() bool { return a.writable }

// Close releases the access, admitting any waiter it was blocking. It is
// idempotent.
func (a *Access) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.mgr.release(a.nodeIdx)
	return nil
}
