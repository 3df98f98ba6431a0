package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ErrCorrupt is returned by Iterate when a complete record fails its checksum.
var ErrCorrupt = errors.New("wal: corrupt record")

const headerSize = 4
const trailerSize = 4

// WAL represents an append-only record log.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64
}

// Open opens or creates a WAL file.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &WAL{
		f:    f,
		path: path,
		size: info.Size(),
	}, nil
}

// Append writes an entry to the WAL and syncs it to disk.
// Format: Len(4) | Data(N) | CRC(4)
func (w *WAL) Append(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, 0, headerSize+len(data)+trailerSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(data))

	n, err := w.f.Write(buf)
	w.size += int64(n)
	if err != nil {
		return err
	}
	return w.f.Sync()
}

// Iterate reads all entries from the WAL calling handler for each.
//
// A record cut short at the end of the file is the result of a crash during
// Append; the file is truncated to the last complete record and iteration
// ends without error. A complete record with a bad checksum returns ErrCorrupt.
func (w *WAL) Iterate(handler func(data []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var offset int64
	header := make([]byte, headerSize)
	trailer := make([]byte, trailerSize)
	for {
		if _, err := io.ReadFull(w.f, header); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return w.truncateLocked(offset)
			}
			return err
		}
		length := binary.BigEndian.Uint32(header)

		data := make([]byte, length)
		if _, err := io.ReadFull(w.f, data); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return w.truncateLocked(offset)
			}
			return err
		}

		if _, err := io.ReadFull(w.f, trailer); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return w.truncateLocked(offset)
			}
			return err
		}
		if crc32.ChecksumIEEE(data) != binary.BigEndian.Uint32(trailer) {
			return fmt.Errorf("%w at offset %d in %s", ErrCorrupt, offset, w.path)
		}

		if err := handler(data); err != nil {
			return err
		}
		offset += headerSize + int64(length) + trailerSize
	}

	_, err := w.f.Seek(0, io.SeekEnd)
	return err
}

func (w *WAL) truncateLocked(offset int64) error {
	if err := w.f.Truncate(offset); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	w.size = offset
	_, err := w.f.Seek(0, io.SeekEnd)
	return err
}

// Size returns the current file size in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the file path the WAL was opened with.
func (w *WAL) Path() string {
	return w.path
}

// RecordSize returns the on-disk size of a record carrying n data bytes.
func RecordSize(n int) int64 {
	return int64(headerSize + n + trailerSize)
}

func (w *WAL) Close() error {
	return w.f.Close()
}
