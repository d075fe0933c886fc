package wal

import (
	"sync"

	"github.com/bramblekv/pagewal/errs"
	"github.com/bramblekv/pagewal/storage"
)

// TxState is a transaction's position in its strictly-forward lifecycle:
// Running -> Committed|Aborted -> Closed.
type TxState int

const (
	TxRunning TxState = iota
	TxCommitted
	TxAborted
	TxClosed
)

func (s TxState) String() string {
	switch s {
	case TxRunning:
		return "running"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	case TxClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// pageBuffered is one page's materialised, possibly-dirty overlay within a
// transaction.
type pageBuffered struct {
	content []byte
	edits   *PageEdits
	dirty   bool
}

// Transaction is a scoped unit of work over a WriteAheadLog: read-only
// transactions see a fixed snapshot; writable transactions additionally
// buffer their edits until commit.
type Transaction struct {
	wal        *WriteAheadLog
	id         uint64
	writable   bool
	startMark  uint64
	autocommit bool

	mu       sync.Mutex
	state    TxState
	buffered map[int64]*pageBuffered
	touchOrd []int64 // page locations in first-touch order, for deterministic write-set iteration
}

func newTransaction(w *WriteAheadLog, id uint64, writable bool, startMark uint64, autocommit bool) *Transaction {
	return &Transaction{
		wal:        w,
		id:         id,
		writable:   writable,
		startMark:  startMark,
		autocommit: autocommit,
		state:      TxRunning,
		buffered:   map[int64]*pageBuffered{},
	}
}

// ID returns the transaction's identifier.
func (tx *Transaction) ID() uint64 { return tx.id }

// Writable reports whether this transaction may mutate pages.
func (tx *Transaction) Writable() bool { return tx.writable }

// StartMark is the highest committed sequence visible to this transaction.
func (tx *Transaction) StartMark() uint64 { return tx.startMark }

// State returns the transaction's current lifecycle state.
func (tx *Transaction) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Transaction) pageFor(location int64) (*pageBuffered, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if pb, ok := tx.buffered[location]; ok {
		return pb, nil
	}
	page := make([]byte, storage.PageSize)
	if location < tx.wal.base.Size() {
		n := storage.PageSize
		if remain := tx.wal.base.Size() - location; int64(n) > remain {
			n = int(remain)
		}
		buf, err := tx.wal.readRaw(tx.wal.base, location, n)
		if err != nil {
			return nil, err
		}
		if tx.wal.cfg.PageChecksums != nil {
			if err := tx.wal.cfg.PageChecksums.Verify(location, buf); err != nil {
				return nil, err
			}
		}
		copy(page, buf)
	}
	tx.wal.applyOverlay(location, tx.startMark, page)

	pb := &pageBuffered{content: page, edits: NewPageEdits()}
	tx.buffered[location] = pb
	tx.touchOrd = append(tx.touchOrd, location)
	return pb, nil
}

func pageLocationOf(offset int64) int64 {
	return offset &^ int64(storage.PageSize-1)
}

// Access returns a scoped, positioned I/O handle over [offset, offset+length)
// of this transaction's overlay. writable must be false for a read-only
// transaction; requesting a writable access on a read-only transaction
// fails with InvalidState.
func (tx *Transaction) Access(offset, length int64, writable bool) (*TxAccess, error) {
	if tx.State() != TxRunning {
		return nil, errs.New(errs.InvalidState, "access", nil)
	}
	if writable && !tx.writable {
		return nil, errs.New(errs.InvalidState, "access", nil)
	}
	return &TxAccess{tx: tx, offset: offset, length: length, writable: writable}, nil
}

// writeSetLocations returns the page locations this transaction has
// recorded at least one edit for, in first-touch order. Callers must hold
// tx.mu.
func (tx *Transaction) writeSetLocations() []int64 {
	var out []int64
	for _, loc := range tx.touchOrd {
		if tx.buffered[loc].dirty {
			out = append(out, loc)
		}
	}
	return out
}

// Commit durably applies this transaction's edits under first-committer-
// wins conflict detection. A read-only transaction's commit is a no-op
// success. Committing twice is a no-op returning nil. Commit fails with
// Conflict if another transaction committed a overlapping write-set after
// this one's snapshot was taken.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	if tx.state == TxCommitted {
		tx.mu.Unlock()
		return nil
	}
	if tx.state != TxRunning {
		tx.mu.Unlock()
		return errs.New(errs.InvalidState, "commit", nil)
	}
	if !tx.writable {
		tx.state = TxCommitted
		tx.mu.Unlock()
		return nil
	}
	locations := tx.writeSetLocations()
	if len(locations) == 0 {
		tx.state = TxCommitted
		tx.mu.Unlock()
		return nil
	}
	rec := newLogTransactionRecord(0, 0)
	for _, loc := range locations {
		rec.putPage(loc, tx.buffered[loc].edits)
	}
	tx.mu.Unlock()

	if _, err := tx.wal.commit(tx, rec); err != nil {
		return err
	}

	tx.mu.Lock()
	tx.state = TxCommitted
	tx.mu.Unlock()
	return nil
}

// Abort discards buffered edits and transitions to Aborted.
func (tx *Transaction) Abort() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxRunning {
		return errs.New(errs.InvalidState, "abort", nil)
	}
	tx.state = TxAborted
	tx.buffered = map[int64]*pageBuffered{}
	tx.touchOrd = nil
	return nil
}

// Close ends the transaction: if still Running, it commits when the
// transaction was opened with autocommit, otherwise it aborts (§4.6.1).
// Idempotent.
func (tx *Transaction) Close() error {
	tx.mu.Lock()
	if tx.state == TxClosed {
		tx.mu.Unlock()
		return nil
	}
	running := tx.state == TxRunning
	autocommit := tx.autocommit
	tx.mu.Unlock()

	if running {
		var err error
		if autocommit {
			err = tx.Commit()
		} else {
			err = tx.Abort()
		}
		if err != nil {
			return err
		}
	}

	tx.mu.Lock()
	tx.state = TxClosed
	tx.mu.Unlock()
	tx.wal.forgetTx(tx.id)
	return nil
}

// TxAccess is a positioned I/O handle over a transaction's buffered
// overlay, scoped to the range its Transaction.Access call requested.
type TxAccess struct {
	tx       *Transaction
	offset   int64
	length   int64
	writable bool
}

func (a *TxAccess) Offset() int64  { return a.offset }
func (a *TxAccess) Length() int64  { return a.length }
func (a *TxAccess) Writable() bool { return a.writable }

func (a *TxAccess) bounds(off int64, n int) error {
	if off < a.offset || off+int64(n) > a.offset+a.length {
		return errs.New(errs.OutOfBounds, "txAccess", nil)
	}
	return nil
}

// ReadBytesInto reads len(buf) bytes starting at off from the transaction's
// overlay, spanning pages as needed.
func (a *TxAccess) ReadBytesInto(off int64, buf []byte) error {
	if err := a.bounds(off, len(buf)); err != nil {
		return err
	}
	pos := 0
	for pos < len(buf) {
		cur := off + int64(pos)
		loc := pageLocationOf(cur)
		pb, err := a.tx.pageFor(loc)
		if err != nil {
			return err
		}
		pageOff := int(cur - loc)
		n := storage.PageSize - pageOff
		if remain := len(buf) - pos; n > remain {
			n = remain
		}
		copy(buf[pos:pos+n], pb.content[pageOff:pageOff+n])
		pos += n
	}
	return nil
}

// ReadBytes reads n bytes starting at off from the transaction's overlay.
func (a *TxAccess) ReadBytes(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := a.ReadBytesInto(off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBytes writes data starting at off into the transaction's overlay,
// recording the touched span in that page's PageEdits.
func (a *TxAccess) WriteBytes(off int64, data []byte) error {
	if !a.writable {
		return errs.New(errs.InvalidState, "writeBytes", nil)
	}
	if err := a.bounds(off, len(data)); err != nil {
		return err
	}
	pos := 0
	for pos < len(data) {
		cur := off + int64(pos)
		loc := pageLocationOf(cur)
		pb, err := a.tx.pageFor(loc)
		if err != nil {
			return err
		}
		pageOff := int(cur - loc)
		n := storage.PageSize - pageOff
		if remain := len(data) - pos; n > remain {
			n = remain
		}
		copy(pb.content[pageOff:pageOff+n], data[pos:pos+n])
		pb.edits.Record(uint32(pageOff), data[pos:pos+n])
		pb.dirty = true
		pos += n
	}
	return nil
}

func bigEndian32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// ReadUint32 reads a big-endian uint32 at off, matching Endpoint's
// primitive encoding so callers can mix transaction access with direct
// storage endpoints without an endianness mismatch.
func (a *TxAccess) ReadUint32(off int64) (uint32, error) {
	buf, err := a.ReadBytes(off, 4)
	if err != nil {
		return 0, err
	}
	return bigEndian32(buf), nil
}

// WriteUint32 writes a big-endian uint32 at off.
func (a *TxAccess) WriteUint32(off int64, v uint32) error {
	buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return a.WriteBytes(off, buf)
}
