//go:build !unix

package storage

import (
	"errors"
	"io"
	"os"
)

// On non-unix platforms there is no true OS mapping: the file is read once
// with ReadAt into a plain slice, and munmap/msync are no-ops, so writes
// through MmapStorage stay in memory and never reach the file.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return data, nil
}

func munmapFile(data []byte) error {
	return nil
}

func msyncFile(data []byte, sync bool) error {
	return nil
}
