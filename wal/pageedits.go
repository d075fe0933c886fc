package wal

import (
	"encoding/binary"
	"sort"

	"github.com/bramblekv/pagewal/errs"
)

// edit packs one modified byte span of a page into a single 64-bit word:
// (offset << 32) | length, with offset, length in [0, storage.PageSize] and
// offset+length <= storage.PageSize.
type edit uint64

func packEdit(offset, length uint32) edit {
	return edit(uint64(offset)<<32 | uint64(length))
}

func (e edit) offset() uint32 { return uint32(e >> 32) }
func (e edit) length() uint32 { return uint32(e) }

// PageEdits records, in insertion order, the byte spans a transaction has
// modified within one page, plus the bytes written at each span. Later
// edits logically shadow earlier ones on overlap; nothing is mutated in
// place to keep replay order recoverable.
type PageEdits struct {
	edits   []edit
	content [][]byte // content[i] is the bytes written by edits[i]
}

// NewPageEdits returns an empty edit log for one page.
func NewPageEdits() *PageEdits {
	return &PageEdits{}
}

// Record appends an edit covering [offset, offset+len(data)) with data as
// its content. offset and offset+len(data) must fit within one page; the
// caller (TxAccess.WriteBytes) is responsible for that invariant.
func (p *PageEdits) Record(offset uint32, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.edits = append(p.edits, packEdit(offset, uint32(len(data))))
	p.content = append(p.content, buf)
}

// Len returns the number of recorded edits (before any coalescing).
func (p *PageEdits) Len() int { return len(p.edits) }

// Apply replays every edit in insertion order onto page, so the final byte
// at any offset equals the content of the last edit covering it.
func (p *PageEdits) Apply(page []byte) {
	for i, e := range p.edits {
		off := e.offset()
		copy(page[off:off+e.length()], p.content[i])
	}
}

// coalesced returns edits merged by run of overlapping/adjacent spans,
// preserving the order in which later bytes must win. It is an
// optimisation only: applying the coalesced result must byte-for-byte
// match sequential application of the original edits.
func (p *PageEdits) coalesced() ([]edit, [][]byte) {
	if len(p.edits) == 0 {
		return nil, nil
	}
	// Replay onto a scratch page-sized buffer tracking which bytes were
	// ever written, then emit maximal contiguous written runs in offset
	// order. This guarantees byte-identical replay regardless of how many
	// original edits overlapped a given span.
	var maxEnd uint32
	for _, e := range p.edits {
		if end := e.offset() + e.length(); end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd == 0 {
		return nil, nil
	}
	scratch := make([]byte, maxEnd)
	written := make([]bool, maxEnd)
	p.Apply(scratch)
	for _, e := range p.edits {
		for i := e.offset(); i < e.offset()+e.length(); i++ {
			written[i] = true
		}
	}

	var outEdits []edit
	var outContent [][]byte
	i := uint32(0)
	for i < maxEnd {
		if !written[i] {
			i++
			continue
		}
		start := i
		for i < maxEnd && written[i] {
			i++
		}
		outEdits = append(outEdits, packEdit(start, i-start))
		buf := make([]byte, i-start)
		copy(buf, scratch[start:i])
		outContent = append(outContent, buf)
	}
	return outEdits, outContent
}

// Marshal serialises this page's edits per the on-disk layout:
//
//	u64 page_location
//	u32 edit_count
//	repeat edit_count:
//	    u64 edit_header  (offset | length)
//	    u8[length] content
//
// Header fields are little-endian; content bytes are opaque and carried
// unchanged. coalesce controls whether adjacent/overlapping edits are
// merged before serialisation.
func (p *PageEdits) Marshal(pageLocation int64, coalesce bool) []byte {
	edits, content := p.edits, p.content
	if coalesce {
		edits, content = p.coalesced()
	}
	size := 8 + 4
	for i := range edits {
		size += 8 + len(content[i])
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pageLocation))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(edits)))
	pos := 12
	for i, e := range edits {
		binary.LittleEndian.PutUint64(buf[pos:pos+8], uint64(e))
		pos += 8
		copy(buf[pos:pos+len(content[i])], content[i])
		pos += len(content[i])
	}
	return buf
}

// UnmarshalPageEdits parses the layout Marshal produces, returning the page
// location, the reconstructed edits, and the number of bytes consumed.
func UnmarshalPageEdits(buf []byte) (pageLocation int64, edits *PageEdits, consumed int, err error) {
	if len(buf) < 12 {
		return 0, nil, 0, errs.New(errs.Corruption, "unmarshal page edits", nil)
	}
	pageLocation = int64(binary.LittleEndian.Uint64(buf[0:8]))
	count := binary.LittleEndian.Uint32(buf[8:12])
	pos := 12
	pe := NewPageEdits()
	for i := uint32(0); i < count; i++ {
		if pos+8 > len(buf) {
			return 0, nil, 0, errs.New(errs.Corruption, "unmarshal page edits", nil)
		}
		e := edit(binary.LittleEndian.Uint64(buf[pos : pos+8]))
		pos += 8
		length := int(e.length())
		if pos+length > len(buf) {
			return 0, nil, 0, errs.New(errs.Corruption, "unmarshal page edits", nil)
		}
		pe.edits = append(pe.edits, e)
		data := make([]byte, length)
		copy(data, buf[pos:pos+length])
		pe.content = append(pe.content, data)
		pos += length
	}
	return pageLocation, pe, pos, nil
}

// SortedOffsets returns the distinct offsets touched, ascending, useful for
// tests asserting coverage without caring about insertion order.
func (p *PageEdits) SortedOffsets() []uint32 {
	seen := map[uint32]struct{}{}
	for _, e := range p.edits {
		seen[e.offset()] = struct{}{}
	}
	out := make([]uint32, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
