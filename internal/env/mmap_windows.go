//go:build windows

package env

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapEditor mirrors the unix implementation using Windows file mappings,
// adapted from the teacher's mmap_windows.go.
type mmapEditor struct {
	f         *os.File
	mapHandle windows.Handle
	data      []byte
	size      int64
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
	mapHandle, err := windows.CreateFileMapping(windows.Handle(m.f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(m.size>>32), uint32(m.size&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(m.size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	m.mapHandle = mapHandle
	m.data = unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(m.size))
	return nil
}

func (m *mmapEditor) unmapLocked() error {
	if m.data == nil {
		return nil
	}
	var firstErr error
	if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
		firstErr = err
	}
	if err := windows.CloseHandle(m.mapHandle); err != nil && firstErr == nil {
		firstErr = err
	}
	m.data = nil
	return firstErr
}

func (m *mmapEditor) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, os.ErrInvalid
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

func (m *mmapEditor) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, os.ErrInvalid
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

func (m *mmapEditor) Sync() error {
	if m.data == nil {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

func (m *mmapEditor) Resize(newSize int64) error {
	if newSize == m.size {
		return nil
	}
	if m.data != nil {
		if err := m.Sync(); err != nil {
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
