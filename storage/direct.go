package storage

import (
	"fmt"
	"os"

	"github.com/bramblekv/pagewal/errs"
)

// DirectFileStorage is backed by a seekable *os.File; endpoints issue
// ReadAt/WriteAt directly against the file descriptor and bypass any page
// cache.
type DirectFileStorage struct {
	stateGuard
	f        *os.File
	path     string
	size     int64
	writable bool
}

// OpenDirectFileStorage opens (creating if necessary) path for direct,
// uncached positioned I/O.
func OpenDirectFileStorage(path string, writable bool) (*DirectFileStorage, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errs.New(errs.IoFailure, "open direct storage", fmt.Errorf("open %s: %w", path, err))
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.New(errs.IoFailure, "open direct storage", fmt.Errorf("stat %s: %w", path, err))
	}
	return &DirectFileStorage{f: f, path: path, size: fi.Size(), writable: writable}, nil
}

func (d *DirectFileStorage) IsWritable() bool { return d.writable }
func (d *DirectFileStorage) Size() int64      { return d.size }

func (d *DirectFileStorage) Flush() error {
	if d.closed() {
		return errs.New(errs.StorageClosed, "flush", nil)
	}
	if err := d.f.Sync(); err != nil {
		return errs.New(errs.IoFailure, "flush", err)
	}
	return nil
}

func (d *DirectFileStorage) readAt(off int64, p []byte) error {
	if d.closed() {
		return errs.New(errs.StorageClosed, "read", nil)
	}
	if off < 0 || off+int64(len(p)) > d.size {
		return errs.New(errs.OutOfBounds, "read", nil)
	}
	if _, err := d.f.ReadAt(p, off); err != nil {
		return errs.New(errs.IoFailure, "read", err)
	}
	return nil
}

func (d *DirectFileStorage) writeAt(off int64, p []byte) error {
	if !d.writable {
		return errs.New(errs.InvalidState, "write", nil)
	}
	if err := d.acquireBusy(); err != nil {
		return err
	}
	defer d.releaseBusy()
	if off < 0 {
		return errs.New(errs.OutOfBounds, "write", nil)
	}
	if _, err := d.f.WriteAt(p, off); err != nil {
		return errs.New(errs.IoFailure, "write", err)
	}
	if end := off + int64(len(p)); end > d.size {
		d.size = end
	}
	return nil
}

func (d *DirectFileStorage) AcquireEndpointAt(offset int64) (*Endpoint, error) {
	if d.closed() {
		return nil, errs.New(errs.StorageClosed, "acquireEndpointAt", nil)
	}
	if offset < 0 {
		return nil, errs.New(errs.OutOfBounds, "acquireEndpointAt", nil)
	}
	return newEndpoint(d, pageBase(offset), PageSize), nil
}

func (d *DirectFileStorage) ReleaseEndpoint(ep *Endpoint) error {
	if d.closed() {
		return errs.New(errs.StorageClosed, "releaseEndpoint", nil)
	}
	return nil
}

func (d *DirectFileStorage) Truncate(length int64) (bool, error) {
	if err := d.acquireBusy(); err != nil {
		return false, err
	}
	defer d.releaseBusy()
	if length < 0 {
		return false, errs.New(errs.OutOfBounds, "truncate", nil)
	}
	if length >= d.size {
		return false, nil
	}
	if err := d.f.Truncate(length); err != nil {
		return false, errs.New(errs.IoFailure, "truncate", err)
	}
	d.size = length
	return true, nil
}

func (d *DirectFileStorage) Cut(from, to int64) (bool, error) {
	if err := d.acquireBusy(); err != nil {
		return false, err
	}
	defer d.releaseBusy()
	if from < 0 || from > to {
		return false, errs.New(errs.OutOfBounds, "cut", nil)
	}
	if from == to {
		return false, nil
	}
	zeroTo := to
	shrinking := to >= d.size
	if shrinking {
		zeroTo = d.size
	}
	zeros := make([]byte, PageSize)
	for off := from; off < zeroTo; {
		n := int64(len(zeros))
		if remain := zeroTo - off; n > remain {
			n = remain
		}
		if _, err := d.f.WriteAt(zeros[:n], off); err != nil {
			return false, errs.New(errs.IoFailure, "cut", err)
		}
		off += n
	}
	if shrinking && from < d.size {
		if err := d.f.Truncate(from); err != nil {
			return false, errs.New(errs.IoFailure, "cut", err)
		}
		d.size = from
		return true, nil
	}
	return false, nil
}

func (d *DirectFileStorage) ExtendTo(length int64) (bool, error) {
	if err := d.acquireBusy(); err != nil {
		return false, err
	}
	defer d.releaseBusy()
	if length <= d.size {
		return false, nil
	}
	if err := d.f.Truncate(length); err != nil {
		return false, errs.New(errs.IoFailure, "extendTo", err)
	}
	d.size = length
	return true, nil
}

func (d *DirectFileStorage) Close() error {
	if err := d.close(); err != nil {
		return err
	}
	if err := d.f.Close(); err != nil {
		return errs.New(errs.IoFailure, "close", err)
	}
	return nil
}

// Path returns the backing file's path.
func (d *DirectFileStorage) Path() string { return d.path }
