//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package env

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// mmapEditor is a memory-mapped RandEditor over a growable regular file,
// adapted from the teacher's MmapFile: ReadAt/WriteAt copy into and out of
// the mapped region instead of handing out aliased slices, so the Pager's
// Frame buffers stay independently owned (per the frame-registry design
// note in spec.md §9) while still getting mmap's cheap random access.
type mmapEditor struct {
	f    *os.File
	data []byte
	size int64
}

func openMmapEditor(path string) (RandEditor, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	m := &mmapEditor{f: f, size: info.Size()}
	if m.size > 0 {
		if err := m.mapLocked(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *mmapEditor) mapLocked() error {
	data, err := syscall.Mmap(int(m.f.Fd()), 0, int(m.size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *mmapEditor) unmapLocked() error {
	if m.data == nil {
		return nil
	}
	err := syscall.Munmap(m.data)
	m.data = nil
	return err
}

func (m *mmapEditor) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, os.ErrInvalid
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

func (m *mmapEditor) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, os.ErrInvalid
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

func (m *mmapEditor) Sync() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Resize grows or shrinks the file and remaps it. Mirrors the teacher's
// Grow: sync-before-unmap so MAP_SHARED writes aren't lost across remap.
func (m *mmapEditor) Resize(newSize int64) error {
	if newSize == m.size {
		return nil
	}

	if m.data != nil {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return err
		}
		if err := m.unmapLocked(); err != nil {
			return err
		}
	}

	if err := m.f.Truncate(newSize); err != nil {
		return err
	}
	m.size = newSize

	if newSize > 0 {
		return m.mapLocked()
	}
	return nil
}

func (m *mmapEditor) Size() (int64, error) { return m.size, nil }

func (m *mmapEditor) Close() error {
	var firstErr error
	if err := m.unmapLocked(); err != nil {
		firstErr = err
	}
	if err := m.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
