// posix.go adapts the teacher's direct os.File usage (pkg/wal/wal.go,
// pkg/pager/pager.go) into an explicit Env implementation: plain file I/O
// for sequential readers, writers and log sinks, and the platform mmap
// editor (mmap_unix.go / mmap_windows.go) for the Mappable fast path.
package env

import (
	"os"
	"path/filepath"
)

// Posix is the default, platform Env. The zero value is ready to use.
type Posix struct{}

// New returns the default platform Env.
func New() Env { return Posix{} }

func (Posix) NewReader(path string) (SeqReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (Posix) NewEditor(path string) (RandEditor, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &fileEditor{f: f}, nil
}

func (Posix) NewMappedEditor(path string) (RandEditor, error) {
	return openMmapEditor(path)
}

func (Posix) NewLogFile(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (Posix) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (Posix) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (Posix) RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (Posix) RenameFile(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (Posix) Children(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names, nil
}

// fileEditor is a plain, unmapped RandEditor over *os.File.
type fileEditor struct {
	f *os.File
}

func (e *fileEditor) ReadAt(p []byte, off int64) (int, error)  { return e.f.ReadAt(p, off) }
func (e *fileEditor) WriteAt(p []byte, off int64) (int, error) { return e.f.WriteAt(p, off) }
func (e *fileEditor) Sync() error                              { return e.f.Sync() }
func (e *fileEditor) Resize(size int64) error                  { return e.f.Truncate(size) }
func (e *fileEditor) Close() error                              { return e.f.Close() }

func (e *fileEditor) Size() (int64, error) {
	info, err := e.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
