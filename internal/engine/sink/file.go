package sink

import (
	"io"
	"os"
)

// File is the subset of *os.File a sink needs.
type File interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// checkpoint is the state of a sink before a batch of writes.
type checkpoint struct {
	records uint64
	size    int64
}

// fileSink is an append-only log file that counts what it holds, so a
// failed batch can be cut back to the last good record.
type fileSink struct {
	path    string
	file    File
	fsync   bool
	records uint64
	size    int64
	closed  bool
}

func openFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &IoError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// write appends p and pushes it to the OS before returning. Bytes of a
// partial write are still accounted so rollback can remove them.
func (s *fileSink) write(p []byte) error {
	n, err := s.file.Write(p)
	s.size += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IoError{Op: "write", Path: s.path, Err: err}
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return &IoError{Op: "sync", Path: s.path, Err: err}
		}
	}
	return nil
}

// appendRecord writes one complete record.
func (s *fileSink) appendRecord(p []byte) error {
	if err := s.write(p); err != nil {
		return err
	}
	s.records++
	return nil
}

func (s *fileSink) mark() checkpoint {
	return checkpoint{records: s.records, size: s.size}
}

// rollback cuts the file back to c and leaves the write offset at its end.
func (s *fileSink) rollback(c checkpoint) error {
	if err := s.cut(c.size); err != nil {
		return err
	}
	s.records = c.records
	return nil
}

func (s *fileSink) cut(size int64) error {
	if err := s.file.Truncate(size); err != nil {
		return &IoError{Op: "truncate", Path: s.path, Err: err}
	}
	if _, err := s.file.Seek(size, io.SeekStart); err != nil {
		return &IoError{Op: "seek", Path: s.path, Err: err}
	}
	s.size = size
	return nil
}

func (s *fileSink) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return &IoError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}

// RecordsWritten returns the number of complete records in the file.
func (s *fileSink) RecordsWritten() uint64 {
	return s.records
}

// Path returns the file path of the sink.
func (s *fileSink) Path() string {
	return s.path
}
