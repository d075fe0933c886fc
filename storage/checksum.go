package storage

import (
	"hash/crc32"
	"sync"

	"github.com/bramblekv/pagewal/errs"
)

var pageCRCTable = crc32.MakeTable(crc32.Castagnoli)

// PageChecksums is an optional, off-by-default per-page CRC32 guard a caller
// can keep alongside a base Storage for belt-and-braces corruption detection
// independent of the WAL's own record CRC (spec §4.6.3 only CRCs log
// records, not base pages). Grounded on the teacher's SetPageCRC/
// VerifyPageCRC pair, but kept out-of-band rather than embedded in the page
// bytes themselves, so turning it on never changes the on-disk page layout
// spec §6 describes.
type PageChecksums struct {
	mu   sync.Mutex
	sums map[int64]uint32
}

// WithPageChecksums returns an empty checksum guard. Record a page's sum
// after writing it and Verify before trusting bytes read back from it; an
// unrecorded location always verifies clean.
func WithPageChecksums() *PageChecksums {
	return &PageChecksums{sums: map[int64]uint32{}}
}

// Record stores content's checksum for location, overwriting any prior sum.
func (p *PageChecksums) Record(location int64, content []byte) {
	sum := crc32.Checksum(content, pageCRCTable)
	p.mu.Lock()
	p.sums[location] = sum
	p.mu.Unlock()
}

// Forget drops location's recorded checksum, e.g. when a page is truncated
// away so a future reuse of the offset isn't checked against stale content.
func (p *PageChecksums) Forget(location int64) {
	p.mu.Lock()
	delete(p.sums, location)
	p.mu.Unlock()
}

// Verify reports Corruption if location has a recorded checksum that does
// not match content; an unrecorded location is always clean.
func (p *PageChecksums) Verify(location int64, content []byte) error {
	p.mu.Lock()
	want, ok := p.sums[location]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if crc32.Checksum(content, pageCRCTable) != want {
		return errs.New(errs.Corruption, "verifyPageChecksum", nil)
	}
	return nil
}
