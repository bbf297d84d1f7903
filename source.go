package ustar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencontainers/go-digest"
)

// BytesSource is a ByteSource over an in-memory archive.
type BytesSource struct {
	data []byte
	id   func() string
}

// NewBytesSource returns a source reading from data. The slice is retained
// and must not be modified while the source is in use.
//
// SourceID is the sha256 digest of data, computed on first use.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{
		data: data,
		id: sync.OnceValue(func() string {
			return digest.FromBytes(data).String()
		}),
	}
}

// ReadAt implements io.ReaderAt.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the archive.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// SourceID returns the content digest of the archive.
func (s *BytesSource) SourceID() string {
	return s.id()
}

// Bytes returns the archive bytes.
func (s *BytesSource) Bytes() []byte {
	return s.data
}

// FileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so the size is cached at construction.
type FileSource struct {
	file *os.File
	size int64
	id   string
}

// NewFileSource creates a FileSource from an open file. The caller keeps
// ownership of f.
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive file: %w", err)
	}
	name := f.Name()
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	return &FileSource{
		file: f,
		size: info.Size(),
		id:   fmt.Sprintf("file:%s@%d:%d", name, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the file size observed when the source was created.
func (s *FileSource) Size() int64 {
	return s.size
}

// SourceID identifies the file by absolute path, size and modification time.
func (s *FileSource) SourceID() string {
	return s.id
}

// SeekerSource adapts an io.ReadSeeker, such as a handle shared with other
// code, to ByteSource.
//
// Reads are serialized, and the handle is positioned back at offset 0 after
// every read, whether it succeeded or not, so code sharing the handle always
// finds it at the start of the archive.
type SeekerSource struct {
	mu   sync.Mutex
	rs   io.ReadSeeker
	size int64
	id   string
}

// NewSeekerSource determines the size of rs and leaves it at offset 0.
// id is returned by SourceID and should identify the content.
func NewSeekerSource(rs io.ReadSeeker, id string) (*SeekerSource, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("determine archive size: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind archive: %w", err)
	}
	return &SeekerSource{rs: rs, size: size, id: id}, nil
}

// ReadAt implements io.ReaderAt.
func (s *SeekerSource) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if _, serr := s.rs.Seek(0, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("rewind archive: %w", serr)
		}
	}()

	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err = io.ReadFull(s.rs, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// Size returns the stream size observed when the source was created.
func (s *SeekerSource) Size() int64 {
	return s.size
}

// SourceID returns the identifier passed to NewSeekerSource.
func (s *SeekerSource) SourceID() string {
	return s.id
}

// File is an Archive backed by a local file.
// Close must be called to release file resources.
type File struct {
	*Archive
	file *os.File
}

// Close closes the underlying file. It is a no-op for archives that were
// decompressed into memory.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// OpenFile opens a local archive for random access.
//
// gzip and zstd compressed archives are detected from their leading bytes and
// decompressed into memory with default limits; the file is closed before
// OpenFile returns in that case.
func OpenFile(path string, opts ...Option) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	prefix, err := bufio.NewReader(f).Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}

	if c := DetectCompression(prefix); c != CompressionNone {
		defer f.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind archive %s: %w", path, err)
		}
		src, err := Decompress(f, c)
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", path, err)
		}
		a, err := New(src, opts...)
		if err != nil {
			return nil, err
		}
		return &File{Archive: a}, nil
	}

	src, err := NewFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := New(src, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Archive: a, file: f}, nil
}

// Interface compliance.
var (
	_ ByteSource = (*BytesSource)(nil)
	_ ByteSource = (*FileSource)(nil)
	_ ByteSource = (*SeekerSource)(nil)
)
