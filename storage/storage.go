// Package storage implements the byte-addressable, page-oriented backing
// stores the write-ahead log is built on: in-memory, direct file,
// memory-mapped file, and size-split multi-file variants, plus the
// positioned Endpoint handle and the thread-safe access-manager proxy.
package storage

import (
	"sync/atomic"

	"github.com/bramblekv/pagewal/errs"
)

// PageSize is the fixed unit of buffering and endpoint addressing. Log
// records embed page-local offsets in 32-bit fields (see wal.PageEdits), so
// this must stay fixed for the lifetime of a deployment.
const PageSize = 8192

const pageSizeMask = PageSize - 1

// pageBase rounds off down to the start of the page containing it.
func pageBase(off int64) int64 {
	return off &^ int64(pageSizeMask)
}

// State is the lifecycle of a Storage: Ready while idle,
// Busy while a mutation is in flight, Closed is terminal.
type State int32

const (
	StateReady State = iota
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateGuard implements the Ready<->Busy<->Closed CAS dance shared by the
// memory and direct-file backends.
type stateGuard struct {
	state int32
}

func (g *stateGuard) acquireBusy() error {
	for {
		cur := atomic.LoadInt32(&g.state)
		switch State(cur) {
		case StateClosed:
			return errs.New(errs.StorageClosed, "acquire", nil)
		case StateReady:
			if atomic.CompareAndSwapInt32(&g.state, cur, int32(StateBusy)) {
				return nil
			}
		default:
			// another goroutine holds Busy; spin until it releases.
		}
	}
}

func (g *stateGuard) releaseBusy() {
	atomic.CompareAndSwapInt32(&g.state, int32(StateBusy), int32(StateReady))
}

func (g *stateGuard) closed() bool {
	return State(atomic.LoadInt32(&g.state)) == StateClosed
}

func (g *stateGuard) close() error {
	for {
		cur := atomic.LoadInt32(&g.state)
		if State(cur) == StateClosed {
			return errs.New(errs.StorageClosed, "close", nil)
		}
		if atomic.CompareAndSwapInt32(&g.state, cur, int32(StateClosed)) {
			return nil
		}
	}
}

// accessor is the low-level positioned I/O contract each backend gives an
// Endpoint so it can translate absolute offsets without knowing which
// concrete storage variant it is bound to.
type accessor interface {
	readAt(off int64, p []byte) error
	writeAt(off int64, p []byte) error
}

// Storage is the common contract every backing-store variant satisfies.
type Storage interface {
	// IsWritable reports whether the storage accepts mutations.
	IsWritable() bool
	// Size returns the current logical byte size.
	Size() int64
	// Flush persists buffered state durably to the underlying medium.
	Flush() error
	// AcquireEndpointAt returns an Endpoint over the page containing offset.
	AcquireEndpointAt(offset int64) (*Endpoint, error)
	// ReleaseEndpoint returns an Endpoint obtained from AcquireEndpointAt.
	ReleaseEndpoint(ep *Endpoint) error
	// Truncate drops all bytes at or beyond length, zeroing a partial tail
	// page, and reports whether the size changed.
	Truncate(length int64) (bool, error)
	// Cut zeros [from, to); if to >= current size it also shortens size to
	// from. A zero-length range is a no-op.
	Cut(from, to int64) (bool, error)
	// ExtendTo ensures size >= length without writing data, reporting
	// whether the size increased.
	ExtendTo(length int64) (bool, error)
	// Close releases underlying resources. Idempotent only from the
	// perspective of returning StorageClosed on a second call.
	Close() error
}
