package openhash

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Mapper is the mapping provider used by the Open* constructors. The
// default maps files read-only with mmap; tests inject a failing Mapper
// through WithMapper to exercise mapping-failure paths without touching
// real system limits.
type Mapper interface {
	Map(f *os.File, length int) ([]byte, error)
	Unmap(data []byte) error
}

type unixMapper struct{}

func (unixMapper) Map(f *os.File, length int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_SHARED)
}

func (unixMapper) Unmap(data []byte) error {
	return unix.Munmap(data)
}

// defaultMapper is immutable; overrides are per-instance via WithMapper,
// never process-wide.
var defaultMapper Mapper = unixMapper{}

// mapping holds a mapped file region and its descriptor. Both are released
// together by close; a table holding a non-nil mapping is read only.
type mapping struct {
	data   []byte
	f      *os.File
	mapper Mapper
}

// openMapping opens path read-only and maps the whole file. On any failure
// every acquired resource is released before returning.
func openMapping(path string, mapper Mapper) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError(err, "opening %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError(err, "stat %s", path)
	}
	// Mapping a zero-length file fails with EINVAL; report short files as
	// an IO problem with the file, not a mapping failure.
	if fi.Size() < headerSize {
		f.Close()
		return nil, errors.Mark(
			errors.Newf("opening %s: file is %d bytes, need at least %d", path, fi.Size(), headerSize),
			ErrIO)
	}
	data, err := mapper.Map(f, int(fi.Size()))
	if err != nil {
		f.Close()
		return nil, mappingError(err, "mapping %s (%d bytes)", path, fi.Size())
	}
	return &mapping{data: data, f: f, mapper: mapper}, nil
}

func (m *mapping) close() error {
	err := m.mapper.Unmap(m.data)
	return errors.CombineErrors(err, m.f.Close())
}
