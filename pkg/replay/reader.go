package replay

import (
	"errors"
	"fmt"

	"github.com/downfa11-org/go-archiver/pkg/catalog"
	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/pkg/metrics"
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/pkg/window"
)

// Action is the handler's verdict on a delivered fragment.
type Action int

const (
	// Continue accepts the fragment and keeps polling.
	Continue Action = iota
	// Abort rejects the fragment; the cursor rolls back and the fragment is
	// re-delivered on the next poll. A handler returning Abort must undo any
	// externally visible side effect it already produced, because the cursor
	// had advanced before it ran.
	Abort
)

// FragmentHandler receives one non-padding fragment: the mapped term window,
// the payload position and length within it, and a header view positioned on
// the frame. The buffer is only valid for the duration of the call.
type FragmentHandler func(buf []byte, offset, length int32, header *layout.FrameHeader) Action

// ErrCorruptFrame reports a malformed frame encountered during replay. The
// reader is unrecoverable once this is returned.
var ErrCorruptFrame = errors.New("corrupt frame")

// Reader replays a contiguous byte range of a captured stream instance as a
// sequence of non-padding fragments. Not re-entrant; one owner polls at a
// time.
type Reader struct {
	instanceID   int32
	termLength   int32
	replayLength int64

	win            *window.Manager
	header         layout.FrameHeader
	fragmentOffset int32
	transmitted    int64
	closed         bool
}

// NewReader replays the full captured extent recorded in the instance's
// persisted descriptor.
func NewReader(cat *catalog.Catalog, segmentFileSize, instanceID int32) (*Reader, error) {
	desc, err := cat.LoadDescriptor(instanceID)
	if err != nil {
		return nil, err
	}
	return newReader(cat, segmentFileSize, instanceID, desc,
		desc.InitialTermID, desc.InitialTermOffset, layout.FullLength(desc))
}

// NewRangeReader replays length bytes starting at (termID, termOffset). The
// range must lie within the captured extent and the starting offset must be
// the start of a frame.
func NewRangeReader(cat *catalog.Catalog, segmentFileSize, instanceID, termID, termOffset int32, length int64) (*Reader, error) {
	desc, err := cat.LoadDescriptor(instanceID)
	if err != nil {
		return nil, err
	}
	return newReader(cat, segmentFileSize, instanceID, desc, termID, termOffset, length)
}

func newReader(
	cat *catalog.Catalog,
	segmentFileSize, instanceID int32,
	desc types.SegmentDescriptor,
	fromTermID, fromTermOffset int32,
	replayLength int64,
) (*Reader, error) {
	// the first frame must start exactly at the replay offset; replaying
	// from an unaligned position would decode garbage as a header
	if fromTermOffset%layout.FrameAlignment != 0 {
		return nil, fmt.Errorf("replay offset %d is not frame aligned", fromTermOffset)
	}

	fileIndex := layout.FileIndex(desc.InitialTermID, fromTermID, desc.TermBufferLength, segmentFileSize)
	byteOffset := layout.ByteOffset(fromTermOffset, fromTermID, desc.InitialTermID,
		desc.TermBufferLength, segmentFileSize)
	termStartOffset := byteOffset - fromTermOffset

	win, err := window.NewManager(cat.Dir(), instanceID, desc.TermBufferLength,
		segmentFileSize, window.ReadOnly)
	if err != nil {
		return nil, err
	}
	if err := win.Open(fileIndex); err != nil {
		return nil, err
	}
	if err := win.Map(termStartOffset); err != nil {
		closeQuietly(win)
		return nil, err
	}

	return &Reader{
		instanceID:     instanceID,
		termLength:     desc.TermBufferLength,
		replayLength:   replayLength,
		win:            win,
		fragmentOffset: byteOffset & (desc.TermBufferLength - 1),
	}, nil
}

// ControlledPoll delivers at most fragmentLimit non-padding fragments to
// handler and returns the number delivered. Padding frames are consumed
// transparently. The cursor advances before each handler invocation so a
// faulting handler cannot stall forward progress; Abort rolls the advance
// back and ends the call.
func (r *Reader) ControlledPoll(handler FragmentHandler, fragmentLimit int) (int, error) {
	if r.IsDone() {
		return 0, nil
	}

	polled := 0
	buf := r.win.Buffer()

	// read to the end of the term window or the requested extent
	for r.fragmentOffset < r.termLength && !r.IsDone() && polled < fragmentLimit {
		frameOffset := r.fragmentOffset
		r.header.Wrap(buf, frameOffset)

		frameLength := r.header.FrameLength()
		if frameLength <= 0 {
			return polled, fmt.Errorf("%w: length %d at segment %d offset %d: %s",
				ErrCorruptFrame, frameLength, r.win.FileIndex(),
				r.win.StartOffset()+frameOffset, r.header.String())
		}

		alignedLength := layout.Align(frameLength, layout.FrameAlignment)
		r.transmitted += int64(alignedLength)
		r.fragmentOffset += alignedLength

		if r.header.FrameType() == layout.FrameTypePadding {
			continue
		}

		action := handler(buf, frameOffset+layout.HeaderLength,
			frameLength-layout.HeaderLength, &r.header)
		if action == Abort {
			r.transmitted -= int64(alignedLength)
			r.fragmentOffset -= alignedLength
			return polled, nil
		}

		// only data fragments count toward the limit
		polled++
		metrics.FragmentsReplayed.Inc()
	}

	if !r.IsDone() && r.fragmentOffset == r.termLength {
		r.fragmentOffset = 0
		if err := r.win.Rotate(); err != nil {
			return polled, err
		}
	}

	return polled, nil
}

// IsDone reports whether the requested extent has been fully consumed. Once
// true it stays true; no bytes are read past the replay length.
func (r *Reader) IsDone() bool {
	return r.transmitted >= r.replayLength
}

// Close unmaps and closes the current segment file. Idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.win.Close()
}

func closeQuietly(win *window.Manager) {
	_ = win.Close()
}
