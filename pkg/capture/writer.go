package capture

import (
	"fmt"

	"github.com/downfa11-org/go-archiver/pkg/catalog"
	"github.com/downfa11-org/go-archiver/pkg/metrics"
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/pkg/window"
)

// Writer is the write-side counterpart of the replay reader: it appends raw
// term bytes into a write-mapped term window, rotating windows and segment
// files as they fill. Exactly one writer exists per stream instance.
type Writer struct {
	instanceID      int32
	termLength      int32
	segmentFileSize int32

	win     *window.Manager
	desc    types.SegmentDescriptor
	stopped bool
	closed  bool
}

func NewWriter(cat *catalog.Catalog, segmentFileSize, instanceID, termLength, initialTermID int32) (*Writer, error) {
	win, err := window.NewManager(cat.Dir(), instanceID, termLength, segmentFileSize, window.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := win.Open(0); err != nil {
		return nil, err
	}
	if err := win.Map(0); err != nil {
		_ = win.Close()
		return nil, err
	}

	return &Writer{
		instanceID:      instanceID,
		termLength:      termLength,
		segmentFileSize: segmentFileSize,
		win:             win,
		desc: types.SegmentDescriptor{
			TermBufferLength: termLength,
			InitialTermID:    initialTermID,
			LastTermID:       initialTermID,
		},
	}, nil
}

// OnBlock lands a contiguous run of raw term bytes at (termID, termOffset).
// A single writer advances monotonically, so every block must start exactly
// at the current write extent and fit inside the current term window.
func (w *Writer) OnBlock(block []byte, termID, termOffset int32) error {
	if w.stopped {
		return fmt.Errorf("writer for instance %d is stopped", w.instanceID)
	}
	if termID != w.desc.LastTermID || termOffset != w.desc.LastTermOffset {
		return fmt.Errorf("non-contiguous block for instance %d: got term %d offset %d, expected term %d offset %d",
			w.instanceID, termID, termOffset, w.desc.LastTermID, w.desc.LastTermOffset)
	}
	end := termOffset + int32(len(block))
	if end > w.termLength {
		return fmt.Errorf("block for instance %d overruns term window: offset %d + %d bytes > %d",
			w.instanceID, termOffset, len(block), w.termLength)
	}

	copy(w.win.Buffer()[termOffset:], block)
	w.desc.LastTermOffset = end
	metrics.BytesCaptured.Add(float64(len(block)))

	if end == w.termLength {
		if err := w.win.Flush(); err != nil {
			return err
		}
		if err := w.win.Rotate(); err != nil {
			return err
		}
		w.desc.LastTermID++
		w.desc.LastTermOffset = 0
	}
	return nil
}

// Descriptor is the current write extent. The session reports it on progress
// and persists it on close.
func (w *Writer) Descriptor() types.SegmentDescriptor {
	return w.desc
}

func (w *Writer) InstanceID() int32 {
	return w.instanceID
}

// Stop syncs the current window and refuses further blocks. Safe to call
// more than once.
func (w *Writer) Stop() error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.win.Flush()
}

// Close releases the mapping and file descriptor. Idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.win.Close()
}
