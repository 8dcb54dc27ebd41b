//go:build unix

package counters

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	fileMagic   = "CPOS"
	fileVersion = int32(1)

	// header field offsets
	headerOffsetMagic       = 0
	headerOffsetVersion     = 4
	headerOffsetMetaLength  = 8
	headerOffsetValueLength = 12
	headerOffsetPID         = 16
	headerOffsetStartTime   = 24
	HeaderLength            = 64
)

// File is a counters registry backed by a memory-mapped file so that other
// processes on the host can locate and read counters.
type File struct {
	f        *os.File
	data     []byte
	meta     []byte
	values   []byte
	writable bool
	path     string
}

// CreateFile creates (or truncates) path and maps it read-write with room for
// maxCounters counters. The file stays exclusively locked until Close, so a
// second writer gets ErrFileInUse instead of wiping a live registry.
func CreateFile(path string, maxCounters int) (*File, error) {
	if maxCounters <= 0 {
		return nil, fmt.Errorf("create counters file: max counters must be positive, got %d", maxCounters)
	}

	metaLen := maxCounters * MetaDataLength
	valuesLen := maxCounters * ValueLength
	size := HeaderLength + metaLen + valuesLen

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create counters file: %w", err)
	}
	// flock снимается ядром при закрытии или смерти процесса
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrFileInUse, path)
		}
		return nil, fmt.Errorf("lock counters file: %w", err)
	}
	// старый реестр обнуляется целиком, а не только по новому размеру
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate counters file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate counters file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap counters file: %w", err)
	}

	copy(data[headerOffsetMagic:], fileMagic)
	putInt64(data, headerOffsetPID, int64(os.Getpid()))
	putInt64(data, headerOffsetStartTime, time.Now().UnixMilli())
	putInt32(data, headerOffsetMetaLength, int32(metaLen))
	putInt32(data, headerOffsetValueLength, int32(valuesLen))
	// версия пишется последней: по ней читатель понимает, что заголовок готов
	storeInt32(data, headerOffsetVersion, fileVersion)

	return newFile(f, data, metaLen, valuesLen, true, path), nil
}

// OpenFile maps an existing counters file read-only.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open counters file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat counters file: %w", err)
	}
	if st.Size() < HeaderLength {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidFile, path, st.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap counters file: %w", err)
	}

	metaLen, valuesLen, err := validateHeader(data)
	if err != nil {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return newFile(f, data, metaLen, valuesLen, false, path), nil
}

func validateHeader(data []byte) (metaLen, valuesLen int, err error) {
	if string(data[headerOffsetMagic:headerOffsetMagic+len(fileMagic)]) != fileMagic {
		return 0, 0, fmt.Errorf("%w: bad magic", ErrInvalidFile)
	}
	if v := loadInt32(data, headerOffsetVersion); v != fileVersion {
		return 0, 0, fmt.Errorf("%w: version %d, want %d", ErrInvalidFile, v, fileVersion)
	}

	metaLen = int(getInt32(data, headerOffsetMetaLength))
	valuesLen = int(getInt32(data, headerOffsetValueLength))
	if metaLen < 0 || valuesLen < 0 || HeaderLength+metaLen+valuesLen > len(data) {
		return 0, 0, fmt.Errorf("%w: regions exceed file size", ErrInvalidFile)
	}
	return metaLen, valuesLen, nil
}

func newFile(f *os.File, data []byte, metaLen, valuesLen int, writable bool, path string) *File {
	return &File{
		f:        f,
		data:     data,
		meta:     data[HeaderLength : HeaderLength+metaLen],
		values:   data[HeaderLength+metaLen : HeaderLength+metaLen+valuesLen],
		writable: writable,
		path:     path,
	}
}

func (cf *File) Path() string {
	return cf.path
}

// PID returns the id of the process that created the file.
func (cf *File) PID() int64 {
	return getInt64(cf.data, headerOffsetPID)
}

// StartTime returns when the file was created.
func (cf *File) StartTime() time.Time {
	return time.UnixMilli(getInt64(cf.data, headerOffsetStartTime))
}

func (cf *File) Reader() *Reader {
	return NewReader(cf.meta, cf.values)
}

// Manager returns an allocator over the file. It fails for files opened with
// OpenFile.
func (cf *File) Manager(opts ...ManagerOption) (*Manager, error) {
	if !cf.writable {
		return nil, ErrReadOnly
	}
	return NewManager(cf.meta, cf.values, opts...), nil
}

// Close unmaps the file. Readers and counters obtained from it must not be
// used afterwards.
func (cf *File) Close() error {
	return errors.Join(unix.Munmap(cf.data), cf.f.Close())
}
