package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bramblekv/pagewal/errs"
)

// DefaultSplitMaxSize bounds every member file of a SplitStorage. It must be
// a multiple of PageSize so no page spans two files.
const DefaultSplitMaxSize = 64 * 1024 * 1024

// SplitStorage presents a logically contiguous address space backed by a
// numbered sequence of files <dir>/<prefix><N><suffix>, each at most
// MaxSize bytes. Offset o lives in file o/MaxSize at sub-offset o%MaxSize.
type SplitStorage struct {
	stateGuard
	dir      string
	prefix   string
	suffix   string
	maxSize  int64
	writable bool
	files    []*os.File
	size     int64
}

// OpenSplitStorage enumerates existing <prefix>N<suffix> files under dir in
// numeric order and opens them as one split storage, writable and able to
// grow further when writable is true.
func OpenSplitStorage(dir, prefix, suffix string, maxSize int64, writable bool) (*SplitStorage, error) {
	if maxSize <= 0 {
		maxSize = DefaultSplitMaxSize
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errs.New(errs.IoFailure, "open split storage", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.New(errs.IoFailure, "open split storage", err)
		}
	}
	indices := []int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		n, err := strconv.Atoi(mid)
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	sort.Ints(indices)

	s := &SplitStorage{dir: dir, prefix: prefix, suffix: suffix, maxSize: maxSize, writable: writable}
	for i, n := range indices {
		if n != i {
			return nil, errs.New(errs.Corruption, "open split storage", fmt.Errorf("gap in split sequence at %d", i))
		}
		f, fi, err := s.openMember(n)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
		if i < len(indices)-1 && fi.Size() != maxSize {
			return nil, errs.New(errs.Corruption, "open split storage", fmt.Errorf("non-terminal member %d is short", n))
		}
		s.size += fi.Size()
	}
	return s, nil
}

func (s *SplitStorage) memberPath(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", s.prefix, n, s.suffix))
}

func (s *SplitStorage) openMember(n int) (*os.File, os.FileInfo, error) {
	flag := os.O_RDONLY
	if s.writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(s.memberPath(n), flag, 0644)
	if err != nil {
		return nil, nil, errs.New(errs.IoFailure, "open split member", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errs.New(errs.IoFailure, "stat split member", err)
	}
	return f, fi, nil
}

func (s *SplitStorage) IsWritable() bool { return s.writable }
func (s *SplitStorage) Size() int64      { return s.size }

func (s *SplitStorage) Flush() error {
	if s.closed() {
		return errs.New(errs.StorageClosed, "flush", nil)
	}
	for _, f := range s.files {
		if err := f.Sync(); err != nil {
			return errs.New(errs.IoFailure, "flush", err)
		}
	}
	return nil
}

func (s *SplitStorage) ensureMember(n int) (*os.File, error) {
	for len(s.files) <= n {
		f, _, err := s.openMember(len(s.files))
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
	}
	return s.files[n], nil
}

// span splits [off, off+len) into per-member (fileIdx, fileOff, n) chunks.
func (s *SplitStorage) span(off int64, length int, visit func(fileIdx int, fileOff int64, n int) error) error {
	pos := 0
	for pos < length {
		abs := off + int64(pos)
		idx := int(abs / s.maxSize)
		fileOff := abs % s.maxSize
		n := int(s.maxSize - fileOff)
		if remain := length - pos; n > remain {
			n = remain
		}
		if err := visit(idx, fileOff, n); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (s *SplitStorage) readAt(off int64, p []byte) error {
	if s.closed() {
		return errs.New(errs.StorageClosed, "read", nil)
	}
	if off < 0 || off+int64(len(p)) > s.size {
		return errs.New(errs.OutOfBounds, "read", nil)
	}
	consumed := 0
	return s.span(off, len(p), func(idx int, fileOff int64, n int) error {
		if idx >= len(s.files) {
			for i := 0; i < n; i++ {
				p[consumed+i] = 0
			}
		} else if _, err := s.files[idx].ReadAt(p[consumed:consumed+n], fileOff); err != nil {
			return errs.New(errs.IoFailure, "read", err)
		}
		consumed += n
		return nil
	})
}

func (s *SplitStorage) writeAt(off int64, p []byte) error {
	if !s.writable {
		return errs.New(errs.InvalidState, "write", nil)
	}
	if err := s.acquireBusy(); err != nil {
		return err
	}
	defer s.releaseBusy()
	if off < 0 {
		return errs.New(errs.OutOfBounds, "write", nil)
	}
	consumed := 0
	err := s.span(off, len(p), func(idx int, fileOff int64, n int) error {
		f, err := s.ensureMember(idx)
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(p[consumed:consumed+n], fileOff); err != nil {
			return errs.New(errs.IoFailure, "write", err)
		}
		consumed += n
		return nil
	})
	if err != nil {
		return err
	}
	if end := off + int64(len(p)); end > s.size {
		s.size = end
	}
	return nil
}

func (s *SplitStorage) AcquireEndpointAt(offset int64) (*Endpoint, error) {
	if s.closed() {
		return nil, errs.New(errs.StorageClosed, "acquireEndpointAt", nil)
	}
	if offset < 0 {
		return nil, errs.New(errs.OutOfBounds, "acquireEndpointAt", nil)
	}
	return newEndpoint(s, pageBase(offset), PageSize), nil
}

func (s *SplitStorage) ReleaseEndpoint(ep *Endpoint) error {
	if s.closed() {
		return errs.New(errs.StorageClosed, "releaseEndpoint", nil)
	}
	return nil
}

// truncateLocked performs the truncate body; callers must already hold Busy.
func (s *SplitStorage) truncateLocked(length int64) (bool, error) {
	if length < 0 {
		return false, errs.New(errs.OutOfBounds, "truncate", nil)
	}
	if length >= s.size {
		return false, nil
	}
	keepMembers := int((length + s.maxSize - 1) / s.maxSize)
	for i := keepMembers; i < len(s.files); i++ {
		s.files[i].Close()
		os.Remove(s.memberPath(i))
	}
	s.files = s.files[:min(keepMembers, len(s.files))]
	if keepMembers > 0 {
		last := s.files[keepMembers-1]
		lastLen := length - int64(keepMembers-1)*s.maxSize
		if err := last.Truncate(lastLen); err != nil {
			return false, errs.New(errs.IoFailure, "truncate", err)
		}
	}
	s.size = length
	return true, nil
}

func (s *SplitStorage) Truncate(length int64) (bool, error) {
	if err := s.acquireBusy(); err != nil {
		return false, err
	}
	defer s.releaseBusy()
	return s.truncateLocked(length)
}

func (s *SplitStorage) Cut(from, to int64) (bool, error) {
	if err := s.acquireBusy(); err != nil {
		return false, err
	}
	defer s.releaseBusy()
	if from < 0 || from > to {
		return false, errs.New(errs.OutOfBounds, "cut", nil)
	}
	if from == to {
		return false, nil
	}
	zeroTo := to
	shrinking := to >= s.size
	if shrinking {
		zeroTo = s.size
	}
	zeros := make([]byte, PageSize)
	err := s.span(from, int(zeroTo-from), func(idx int, fileOff int64, n int) error {
		if idx >= len(s.files) {
			return nil
		}
		for written := 0; written < n; {
			chunk := len(zeros)
			if remain := n - written; chunk > remain {
				chunk = remain
			}
			if _, err := s.files[idx].WriteAt(zeros[:chunk], fileOff+int64(written)); err != nil {
				return errs.New(errs.IoFailure, "cut", err)
			}
			written += chunk
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if shrinking && from < s.size {
		return s.truncateLocked(from)
	}
	return false, nil
}

func (s *SplitStorage) ExtendTo(length int64) (bool, error) {
	if err := s.acquireBusy(); err != nil {
		return false, err
	}
	defer s.releaseBusy()
	if length <= s.size {
		return false, nil
	}
	idx := int((length - 1) / s.maxSize)
	if _, err := s.ensureMember(idx); err != nil {
		return false, err
	}
	// Size every member up to length so a reopen sees the extended space.
	for i := 0; i <= idx; i++ {
		want := min(length-int64(i)*s.maxSize, s.maxSize)
		fi, err := s.files[i].Stat()
		if err != nil {
			return false, errs.New(errs.IoFailure, "extendTo", err)
		}
		if fi.Size() < want {
			if err := s.files[i].Truncate(want); err != nil {
				return false, errs.New(errs.IoFailure, "extendTo", err)
			}
		}
	}
	s.size = length
	return true, nil
}

func (s *SplitStorage) Close() error {
	if err := s.close(); err != nil {
		return err
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			return errs.New(errs.IoFailure, "close", err)
		}
	}
	return nil
}
