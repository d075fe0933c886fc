package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/bramblekv/pagewal/errs"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// anchorSize is the fixed size of the log's leading anchor. A freshly
// closed or recovered log is exactly this many bytes.
const anchorSize = 32

const (
	anchorMagic   = "PWALANC0"
	anchorVersion = uint32(1)
)

// anchor is the first 32 bytes of the log file, recording enough to resume
// recovery and checkpointing without rescanning from byte zero.
type anchor struct {
	checkpointOffset int64
	lastCommittedSeq uint64
}

func newAnchor() anchor {
	return anchor{checkpointOffset: anchorSize, lastCommittedSeq: 0}
}

func (a anchor) marshal() []byte {
	buf := make([]byte, anchorSize)
	copy(buf[0:8], anchorMagic)
	binary.LittleEndian.PutUint32(buf[8:12], anchorVersion)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(a.checkpointOffset))
	binary.LittleEndian.PutUint64(buf[20:28], a.lastCommittedSeq)
	crc := crc32.Checksum(buf[0:28], crcTable)
	binary.LittleEndian.PutUint32(buf[28:32], crc)
	return buf
}

func unmarshalAnchor(buf []byte) (anchor, error) {
	if len(buf) < anchorSize {
		return anchor{}, errs.New(errs.Corruption, "unmarshal anchor", nil)
	}
	if string(buf[0:8]) != anchorMagic {
		return anchor{}, errs.New(errs.Corruption, "unmarshal anchor", nil)
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	if version != anchorVersion {
		return anchor{}, errs.New(errs.Corruption, "unmarshal anchor", nil)
	}
	crc := binary.LittleEndian.Uint32(buf[28:32])
	if crc32.Checksum(buf[0:28], crcTable) != crc {
		return anchor{}, errs.New(errs.Corruption, "unmarshal anchor", nil)
	}
	return anchor{
		checkpointOffset: int64(binary.LittleEndian.Uint64(buf[12:20])),
		lastCommittedSeq: binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// logTransactionRecord is one committed transaction's durable log entry:
// every page it touched, as PageEdits blobs, framed by a seq/timestamp
// header and trailed by a CRC over the whole record.
type logTransactionRecord struct {
	seq       uint64
	timestamp int64
	pages     map[int64]*PageEdits // keyed by page location, insertion order not significant across pages
	pageOrder []int64
}

func newLogTransactionRecord(seq uint64, timestamp int64) *logTransactionRecord {
	return &logTransactionRecord{seq: seq, timestamp: timestamp, pages: map[int64]*PageEdits{}}
}

func (r *logTransactionRecord) putPage(location int64, pe *PageEdits) {
	if _, ok := r.pages[location]; !ok {
		r.pageOrder = append(r.pageOrder, location)
	}
	r.pages[location] = pe
}

// marshal serialises the record per:
//
//	u64 seq | u64 timestamp | u32 byteLen | u32 pageCount | pages... | u32 crc
func (r *logTransactionRecord) marshal(coalesce bool) []byte {
	var pagesBuf []byte
	for _, loc := range r.pageOrder {
		pagesBuf = append(pagesBuf, r.pages[loc].Marshal(loc, coalesce)...)
	}
	header := make([]byte, 24)
	binary.LittleEndian.PutUint64(header[0:8], r.seq)
	binary.LittleEndian.PutUint64(header[8:16], uint64(r.timestamp))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(pagesBuf)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(r.pageOrder)))

	body := append(header, pagesBuf...)
	crc := crc32.Checksum(body, crcTable)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)
	return append(body, crcBuf...)
}

// unmarshalLogTransactionRecord parses one record starting at buf[0],
// returning the record, the number of bytes consumed, and an error if the
// header is short or the CRC does not verify (the caller treats a CRC
// failure as the torn tail and stops scanning, not as a hard error for
// every other record already read).
func unmarshalLogTransactionRecord(buf []byte) (*logTransactionRecord, int, error) {
	if len(buf) < 24 {
		return nil, 0, errs.New(errs.Corruption, "unmarshal record", nil)
	}
	seq := binary.LittleEndian.Uint64(buf[0:8])
	timestamp := int64(binary.LittleEndian.Uint64(buf[8:16]))
	byteLen := binary.LittleEndian.Uint32(buf[16:20])
	pageCount := binary.LittleEndian.Uint32(buf[20:24])

	total := 24 + int(byteLen) + 4
	if len(buf) < total {
		return nil, 0, errs.New(errs.Corruption, "unmarshal record", nil)
	}
	body := buf[0 : 24+int(byteLen)]
	storedCRC := binary.LittleEndian.Uint32(buf[24+int(byteLen) : total])
	if crc32.Checksum(body, crcTable) != storedCRC {
		return nil, 0, errs.New(errs.Corruption, "unmarshal record", nil)
	}

	rec := newLogTransactionRecord(seq, timestamp)
	pos := 24
	for i := uint32(0); i < pageCount; i++ {
		loc, pe, consumed, err := UnmarshalPageEdits(buf[pos : 24+int(byteLen)])
		if err != nil {
			return nil, 0, err
		}
		rec.putPage(loc, pe)
		pos += consumed
	}
	if pos != 24+int(byteLen) {
		return nil, 0, errs.New(errs.Corruption, "unmarshal record", nil)
	}
	return rec, total, nil
}
