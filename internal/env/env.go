// Package env implements the Env abstraction the storage core depends on
// (spec §6): a narrow filesystem contract the core never bypasses, so
// tests can swap in a fake and the core only ever assumes that a
// successful Sync durably persists everything written before it.
package env

import "io"

// SeqReader is a forward-only, sequential byte stream over a file. The WAL
// reader uses it to stream a segment's records in LSN order.
type SeqReader interface {
	io.Reader
	io.Closer
}

// RandEditor is a randomly-addressable, readable and writable file. The
// Pager uses it for the data file; the WAL uses it to read segments
// backward during recovery.
type RandEditor interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Resize(size int64) error
	Size() (int64, error)
	Close() error
}

// Sink is an append-only, sync-able output file. The WAL writer and the
// log subsystem both append-and-flush through a Sink.
type Sink interface {
	io.Writer
	io.Closer
	Sync() error
}

// Env is the full filesystem surface the core requires.
type Env interface {
	NewReader(path string) (SeqReader, error)
	NewEditor(path string) (RandEditor, error)
	NewLogFile(path string) (Sink, error)

	FileExists(path string) bool
	FileSize(path string) (int64, error)
	RemoveFile(path string) error
	RenameFile(oldPath, newPath string) error
	Children(dir string) ([]string, error)
}

// Mappable is an optional capability a RandEditor-producing Env may offer:
// a memory-mapped editor for files the caller will repeatedly
// read/write/grow in place (the data file). Callers that want the mmap
// fast path type-assert for this interface and fall back to NewEditor
// when it is absent — e.g. a test Env with no mmap support.
type Mappable interface {
	NewMappedEditor(path string) (RandEditor, error)
}
