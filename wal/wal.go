// Package wal implements the write-ahead log that turns a plain
// storage.Storage into an ACID, snapshot-isolated transactional store: a
// base storage holds the materialised page contents, a log storage holds
// committed-but-not-yet-checkpointed edits, and Transaction provides the
// buffered read/write view over both.
package wal

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bramblekv/pagewal/errs"
	"github.com/bramblekv/pagewal/storage"
)

// Logger is the minimal diagnostic contract the WAL needs from its caller;
// ZlogLogger (zlog_adapter.go) adapts github.com/semihalev/log's *zlog.StructuredLogger
// to it through zlog's KV-style compatibility methods.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NoopLogger discards every diagnostic; set Config.Logger to NoopLogger{}
// to silence the WAL's default zlog-backed logging.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// Config controls a WriteAheadLog's optional collaborators and policy
// knobs, defaulted in Open the way the teacher resolves PagerConfig.
type Config struct {
	// Logger receives sparse diagnostics (recovery, checkpoint, conflict
	// rejection). Defaults to a ZlogLogger wrapping zlog's package-level
	// default logger; set to NoopLogger{} to silence it.
	Logger Logger
	// CoalesceOnSerialize merges adjacent/overlapping edits within a page
	// before writing a log record. Defaults to false.
	CoalesceOnSerialize bool
	// CleanupThresholdBytes triggers an automatic (non-forced) cleanup once
	// the uncheckpointed portion of the log grows past it. Zero disables
	// the automatic trigger; callers can still force cleanup explicitly.
	CleanupThresholdBytes int64
	// PageChecksums, when non-nil, records a CRC32 for every page the WAL
	// applies to the base storage and verifies it on every subsequent base
	// read, surfacing Corruption independent of the log's own record CRC.
	// Off by default (spec §8's round-trip laws assume raw page bytes).
	PageChecksums *storage.PageChecksums
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = NewZlogLogger(nil)
	}
	return c
}

// WriteAheadLog sits atop a base storage (materialised page contents) and a
// log storage (committed-but-uncheckpointed edits), exposing Transaction
// objects with snapshot-isolated reads and first-committer-wins commits.
type WriteAheadLog struct {
	cfg Config

	base storage.Storage
	log  storage.Storage

	commitMu sync.Mutex // serialises commit and cleanup/checkpoint

	anchorMu sync.RWMutex
	anchor   anchor
	logTail  int64

	liveMu   sync.Mutex
	liveTx   map[uint64]*Transaction
	nextTxID uint64

	committedMu sync.RWMutex
	committed   []*logTransactionRecord // not yet checkpointed, ordered by seq

	cond   *sync.Cond
	closed bool
}

// Open constructs a WriteAheadLog over base and log, recovering from a torn
// or unapplied log tail per §4.6.5 before returning.
func Open(base, log storage.Storage, cfg Config) (*WriteAheadLog, error) {
	cfg = cfg.withDefaults()
	w := &WriteAheadLog{cfg: cfg, base: base, log: log, liveTx: map[uint64]*Transaction{}}
	w.cond = sync.NewCond(&w.commitMu)

	if log.Size() < anchorSize {
		if _, err := log.ExtendTo(anchorSize); err != nil {
			return nil, err
		}
		w.anchor = newAnchor()
		if err := w.writeRaw(log, 0, w.anchor.marshal()); err != nil {
			return nil, err
		}
		if err := log.Flush(); err != nil {
			return nil, err
		}
		w.logTail = anchorSize
		return w, nil
	}

	hdr, err := w.readRaw(log, 0, anchorSize)
	if err != nil {
		return nil, err
	}
	a, err := unmarshalAnchor(hdr)
	if err != nil {
		return nil, err
	}
	w.anchor = a

	if err := w.recover(); err != nil {
		return nil, err
	}
	return w, nil
}

// recover scans every valid record from the anchor's checkpoint offset
// forward, stops at the first bad CRC (the torn tail), applies every valid
// record to the base, then rewrites the anchor and truncates the log —
// making a crash with no prior checkpoint equivalent to a normal close.
func (w *WriteAheadLog) recover() error {
	const recordHeaderLen = 24
	offset := w.anchor.checkpointOffset
	var records []*logTransactionRecord
	size := w.log.Size()
	for offset+recordHeaderLen <= size {
		hdr, err := w.readRaw(w.log, offset, recordHeaderLen)
		if err != nil {
			return err
		}
		byteLen := binary.LittleEndian.Uint32(hdr[16:20])
		total := recordHeaderLen + int(byteLen) + 4
		if offset+int64(total) > size {
			w.cfg.Logger.Warn("wal recovery stopped at torn tail", "offset", offset)
			break
		}
		buf, err := w.readRaw(w.log, offset, total)
		if err != nil {
			return err
		}
		rec, consumed, err := unmarshalLogTransactionRecord(buf)
		if err != nil {
			w.cfg.Logger.Warn("wal recovery stopped at torn tail", "offset", offset)
			break
		}
		records = append(records, rec)
		offset += int64(consumed)
		if rec.seq > w.anchor.lastCommittedSeq {
			w.anchor.lastCommittedSeq = rec.seq
		}
	}

	for _, rec := range records {
		if err := w.applyRecord(rec); err != nil {
			return err
		}
	}
	if err := w.base.Flush(); err != nil {
		return err
	}

	w.anchor.checkpointOffset = anchorSize
	if _, err := w.log.Truncate(anchorSize); err != nil {
		return err
	}
	if err := w.writeRaw(w.log, 0, w.anchor.marshal()); err != nil {
		return err
	}
	if err := w.log.Flush(); err != nil {
		return err
	}
	w.logTail = anchorSize
	w.cfg.Logger.Info("wal recovery complete", "recordsApplied", len(records), "lastCommittedSeq", w.anchor.lastCommittedSeq)
	return nil
}

// applyRecord writes every page edit in rec onto the base storage.
func (w *WriteAheadLog) applyRecord(rec *logTransactionRecord) error {
	for _, loc := range rec.pageOrder {
		pe := rec.pages[loc]
		for i, e := range pe.edits {
			abs := loc + int64(e.offset())
			if err := w.writeRaw(w.base, abs, pe.content[i]); err != nil {
				return err
			}
		}
		if w.cfg.PageChecksums != nil {
			n := storage.PageSize
			if remain := w.base.Size() - loc; remain < int64(n) {
				n = int(remain)
			}
			buf, err := w.readRaw(w.base, loc, n)
			if err != nil {
				return err
			}
			w.cfg.PageChecksums.Record(loc, buf)
		}
	}
	return nil
}

// writeRaw writes data at off on s, spanning as many pages as needed.
func (w *WriteAheadLog) writeRaw(s storage.Storage, off int64, data []byte) error {
	pos := 0
	for pos < len(data) {
		cur := off + int64(pos)
		ep, err := s.AcquireEndpointAt(cur)
		if err != nil {
			return err
		}
		n := int(ep.Base() + ep.Size() - cur)
		if remain := len(data) - pos; n > remain {
			n = remain
		}
		werr := ep.WriteBytes(cur, data[pos:pos+n])
		s.ReleaseEndpoint(ep)
		if werr != nil {
			return werr
		}
		pos += n
	}
	return nil
}

// readRaw reads n bytes at off from s, spanning as many pages as needed.
func (w *WriteAheadLog) readRaw(s storage.Storage, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	pos := 0
	for pos < n {
		cur := off + int64(pos)
		ep, err := s.AcquireEndpointAt(cur)
		if err != nil {
			return nil, err
		}
		avail := int(ep.Base() + ep.Size() - cur)
		if remain := n - pos; avail > remain {
			avail = remain
		}
		rerr := ep.ReadBytesInto(cur, buf[pos:pos+avail])
		s.ReleaseEndpoint(ep)
		if rerr != nil {
			return nil, rerr
		}
		pos += avail
	}
	return buf, nil
}

// NewTransaction begins a transaction. A writable transaction buffers its
// own edits over a snapshot fixed at the currently committed sequence; a
// read-only transaction only ever reads that snapshot. The optional
// autocommit argument (default false, matching §4.6.1) controls what Close
// does to a still-Running transaction: true attempts a commit, false aborts.
func (w *WriteAheadLog) NewTransaction(writable bool, autocommit ...bool) (*Transaction, error) {
	if w.isClosed() {
		return nil, errs.New(errs.StorageClosed, "newTransaction", nil)
	}
	ac := false
	if len(autocommit) > 0 {
		ac = autocommit[0]
	}
	w.anchorMu.RLock()
	startMark := w.anchor.lastCommittedSeq
	w.anchorMu.RUnlock()

	w.liveMu.Lock()
	id := w.nextTxID
	w.nextTxID++
	tx := newTransaction(w, id, writable, startMark, ac)
	w.liveTx[id] = tx
	w.liveMu.Unlock()
	return tx, nil
}

func (w *WriteAheadLog) isClosed() bool {
	w.liveMu.Lock()
	defer w.liveMu.Unlock()
	return w.closed
}

func (w *WriteAheadLog) forgetTx(id uint64) {
	w.liveMu.Lock()
	delete(w.liveTx, id)
	w.liveMu.Unlock()
}

// minLiveStartMark returns the lowest startMark among live transactions, or
// the current lastCommittedSeq if none are live.
func (w *WriteAheadLog) minLiveStartMark() uint64 {
	w.liveMu.Lock()
	defer w.liveMu.Unlock()
	w.anchorMu.RLock()
	min := w.anchor.lastCommittedSeq
	w.anchorMu.RUnlock()
	for _, tx := range w.liveTx {
		if tx.startMark < min {
			min = tx.startMark
		}
	}
	return min
}

func (w *WriteAheadLog) hasLiveWritable() bool {
	w.liveMu.Lock()
	defer w.liveMu.Unlock()
	for _, tx := range w.liveTx {
		if tx.writable {
			return true
		}
	}
	return false
}

// applyOverlay replays every committed-but-uncheckpointed edit for location
// with seq <= mark onto page, in commit order, so the cumulative effect
// matches sequential application of the underlying transactions' commits.
func (w *WriteAheadLog) applyOverlay(location int64, mark uint64, page []byte) {
	w.committedMu.RLock()
	defer w.committedMu.RUnlock()
	for _, rec := range w.committed {
		if rec.seq > mark {
			continue
		}
		if pe, ok := rec.pages[location]; ok {
			pe.Apply(page)
		}
	}
}

// commit runs the protocol in §4.6.2 for tx, which must be Running and
// writable with a non-empty write-set (the no-op read-only and empty-write
// cases are handled by the caller).
func (w *WriteAheadLog) commit(tx *Transaction, rec *logTransactionRecord) (uint64, error) {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.committedMu.RLock()
	for _, other := range w.committed {
		if other.seq <= tx.startMark {
			continue
		}
		for _, loc := range rec.pageOrder {
			if _, hit := other.pages[loc]; hit {
				w.committedMu.RUnlock()
				w.cfg.Logger.Warn("commit conflict", "txID", tx.id, "page", loc, "conflictsWith", other.seq)
				return 0, errs.New(errs.Conflict, "commit", nil)
			}
		}
	}
	w.committedMu.RUnlock()

	w.anchorMu.Lock()
	w.anchor.lastCommittedSeq++
	seq := w.anchor.lastCommittedSeq
	w.anchorMu.Unlock()
	rec.seq = seq
	rec.timestamp = time.Now().UnixNano()

	data := rec.marshal(w.cfg.CoalesceOnSerialize)
	if err := w.writeRaw(w.log, w.logTail, data); err != nil {
		return 0, err
	}
	w.logTail += int64(len(data))
	if err := w.log.Flush(); err != nil {
		return 0, err
	}

	w.committedMu.Lock()
	w.committed = append(w.committed, rec)
	w.committedMu.Unlock()

	w.cond.Broadcast()
	w.cfg.Logger.Debug("transaction committed", "txID", tx.id, "seq", seq, "pages", len(rec.pageOrder))

	if w.cfg.CleanupThresholdBytes > 0 && w.logTail-anchorSize > w.cfg.CleanupThresholdBytes {
		if err := w.cleanupLocked(false); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// Cleanup applies the safe prefix of the log to the base and compacts the
// log file. When forced is false it only acts if the uncheckpointed log
// has grown past Config.CleanupThresholdBytes or no writable transaction is
// currently live; otherwise it is a no-op.
func (w *WriteAheadLog) Cleanup(forced bool) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	return w.cleanupLocked(forced)
}

func (w *WriteAheadLog) cleanupLocked(forced bool) error {
	if !forced {
		overThreshold := w.cfg.CleanupThresholdBytes > 0 && w.logTail-anchorSize > w.cfg.CleanupThresholdBytes
		if !overThreshold && w.hasLiveWritable() {
			return nil
		}
	}

	horizon := w.minLiveStartMark()

	w.committedMu.Lock()
	var safe, unsafe []*logTransactionRecord
	for _, rec := range w.committed {
		if rec.seq <= horizon {
			safe = append(safe, rec)
		} else {
			unsafe = append(unsafe, rec)
		}
	}
	w.committedMu.Unlock()

	if len(safe) == 0 {
		return nil
	}

	for _, rec := range safe {
		if err := w.applyRecord(rec); err != nil {
			return err
		}
	}
	if err := w.base.Flush(); err != nil {
		return err
	}

	if _, err := w.log.Truncate(anchorSize); err != nil {
		return err
	}
	offset := int64(anchorSize)
	for _, rec := range unsafe {
		data := rec.marshal(w.cfg.CoalesceOnSerialize)
		if err := w.writeRaw(w.log, offset, data); err != nil {
			return err
		}
		offset += int64(len(data))
	}

	w.anchorMu.Lock()
	w.anchor.checkpointOffset = anchorSize
	anchorBytes := w.anchor.marshal()
	w.anchorMu.Unlock()
	if err := w.writeRaw(w.log, 0, anchorBytes); err != nil {
		return err
	}
	if err := w.log.Flush(); err != nil {
		return err
	}
	w.logTail = offset

	w.committedMu.Lock()
	w.committed = unsafe
	w.committedMu.Unlock()

	w.cfg.Logger.Info("wal cleanup applied", "recordsApplied", len(safe), "recordsRemaining", len(unsafe), "horizon", horizon)
	return nil
}

// Close checkpoints everything committed (it drops every still-registered
// transaction from the live table first, so no snapshot pins the horizon and
// a normal close drains the log down to exactly the anchor) and closes both
// storages.
func (w *WriteAheadLog) Close() error {
	w.liveMu.Lock()
	if w.closed {
		w.liveMu.Unlock()
		return errs.New(errs.StorageClosed, "close", nil)
	}
	w.closed = true
	w.liveTx = map[uint64]*Transaction{}
	w.liveMu.Unlock()

	if err := w.Cleanup(true); err != nil {
		return err
	}
	if err := w.log.Close(); err != nil {
		return err
	}
	if err := w.base.Close(); err != nil {
		return err
	}
	return nil
}
