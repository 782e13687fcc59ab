package sim

import (
	"io"
	"os"
	"sync"
)

// Image is the backing store of an emulated card.
type Image interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the image size in bytes.
	Size() int64
}

// MemoryImage is an Image held in memory.
type MemoryImage struct {
	data  []byte
	mutex sync.RWMutex
}

// NewMemoryImage creates a zeroed in-memory image of size bytes.
func NewMemoryImage(size int64) *MemoryImage {
	return &MemoryImage{data: make([]byte, size)}
}

// Size returns the image size.
func (m *MemoryImage) Size() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return int64(len(m.data))
}

// ReadAt reads from the image.
func (m *MemoryImage) ReadAt(p []byte, off int64) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes to the image. Writes past the end are truncated.
func (m *MemoryImage) WriteAt(p []byte, off int64) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(m.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Bytes returns the image contents. The slice aliases the image.
func (m *MemoryImage) Bytes() []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.data
}

// FileImage is an Image backed by a file.
type FileImage struct {
	file     *os.File
	size     int64
	readOnly bool
	mutex    sync.RWMutex
}

// OpenFileImage opens an existing image file.
// If readOnly is true, the file is opened in read-only mode and writes from
// the host fail with a write-error data response.
func OpenFileImage(path string, readOnly bool) (*FileImage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileImage{
		file:     file,
		size:     stat.Size(),
		readOnly: readOnly,
	}, nil
}

// CreateFileImage creates (or truncates) an image file of size bytes.
func CreateFileImage(path string, size int64) (*FileImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, err
	}
	return &FileImage{file: file, size: size}, nil
}

// Size returns the image size.
func (f *FileImage) Size() int64 {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.size
}

// ReadAt reads from the file.
func (f *FileImage) ReadAt(p []byte, off int64) (int, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.file.ReadAt(p, off)
}

// WriteAt writes to the file.
func (f *FileImage) WriteAt(p []byte, off int64) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.readOnly {
		return 0, os.ErrPermission
	}
	if off+int64(len(p)) > f.size {
		return 0, io.ErrShortWrite
	}
	return f.file.WriteAt(p, off)
}

// Sync flushes file writes to disk.
func (f *FileImage) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileImage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}
