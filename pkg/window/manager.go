package window

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"

	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/pkg/metrics"
	"github.com/downfa11-org/go-archiver/util"
)

// Mode selects the mapping protection and the open/create behavior.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// ErrMissingSegment reports an expected segment data file that is absent on
// the read path. Files are never created during replay.
var ErrMissingSegment = errors.New("segment file not found")

// Manager owns the single live term-window mapping for one reader or writer.
// At any time it holds at most one open file descriptor and one mapped
// region, anchored at startOffset inside the current segment file. The
// handle is never aliased outside the owning reader/writer.
type Manager struct {
	dir             string
	instanceID      int32
	termLength      int32
	segmentFileSize int32
	mode            Mode

	fileIndex   int
	startOffset int32
	file        *os.File
	region      mmap.MMap
	closed      bool
}

func NewManager(dir string, instanceID, termLength, segmentFileSize int32, mode Mode) (*Manager, error) {
	if err := layout.ValidateSizes(termLength, segmentFileSize); err != nil {
		return nil, err
	}
	// mapping offsets are multiples of the term length, and mmap requires
	// page-aligned offsets
	if pageSize := os.Getpagesize(); int(termLength)%pageSize != 0 {
		return nil, fmt.Errorf("term window length %d must be a multiple of the page size %d",
			termLength, pageSize)
	}
	return &Manager{
		dir:             dir,
		instanceID:      instanceID,
		termLength:      termLength,
		segmentFileSize: segmentFileSize,
		mode:            mode,
	}, nil
}

// Open opens the segment file at the deterministic path for
// (instanceID, index). In write mode the file is created and pre-sized to
// the full segment file size so every term window inside it is mappable.
func (m *Manager) Open(index int) error {
	path := filepath.Join(m.dir, layout.SegmentFileName(m.instanceID, index))

	var f *os.File
	var err error
	if m.mode == ReadOnly {
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingSegment, path)
		}
	} else {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err == nil {
			if terr := f.Truncate(int64(m.segmentFileSize)); terr != nil {
				if cerr := f.Close(); cerr != nil {
					util.Error("close after failed truncate: %v", cerr)
				}
				return fmt.Errorf("failed to size segment file %s: %w", path, terr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	advise(f)
	m.file = f
	m.fileIndex = index
	return nil
}

// Map maps exactly one term window at offset in the current file. Any live
// mapping is unmapped first; two mappings must never alias the same handle.
func (m *Manager) Map(offset int32) error {
	m.unmap()

	prot := mmap.RDONLY
	if m.mode == ReadWrite {
		prot = mmap.RDWR
	}
	region, err := mmap.MapRegion(m.file, int(m.termLength), prot, 0, int64(offset))
	if err != nil {
		return fmt.Errorf("failed to map term window at offset %d of segment %d: %w",
			offset, m.fileIndex, err)
	}

	m.region = region
	m.startOffset = offset
	return nil
}

// Rotate advances to the next term window. Reaching the end of the segment
// file closes it and opens the next indexed file at offset 0; otherwise the
// window is remapped within the same file.
func (m *Manager) Rotate() error {
	next := m.startOffset + m.termLength
	if next == m.segmentFileSize {
		m.closeFile()
		if err := m.Open(m.fileIndex + 1); err != nil {
			return err
		}
		next = 0
	}
	metrics.WindowRotations.Inc()
	return m.Map(next)
}

// Buffer exposes the mapped term window. Valid until the next Map, Rotate or
// Close.
func (m *Manager) Buffer() []byte {
	return m.region
}

func (m *Manager) FileIndex() int {
	return m.fileIndex
}

func (m *Manager) StartOffset() int32 {
	return m.startOffset
}

func (m *Manager) TermLength() int32 {
	return m.termLength
}

// Flush syncs the mapped window to disk. Write mode only; a no-op without a
// live mapping.
func (m *Manager) Flush() error {
	if m.region == nil {
		return nil
	}
	if err := m.region.Flush(); err != nil {
		return fmt.Errorf("failed to sync term window of segment %d: %w", m.fileIndex, err)
	}
	return nil
}

func (m *Manager) unmap() {
	if m.region != nil {
		if err := m.region.Unmap(); err != nil {
			util.Error("unmap term window failed: %v", err)
		}
		m.region = nil
	}
}

func (m *Manager) closeFile() {
	m.unmap()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			util.Error("close segment file %d failed: %v", m.fileIndex, err)
		}
		m.file = nil
	}
}

// Close releases the mapping and the descriptor. Idempotent.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.closeFile()
	return nil
}
