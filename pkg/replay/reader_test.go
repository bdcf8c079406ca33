package replay_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/go-archiver/pkg/capture"
	"github.com/downfa11-org/go-archiver/pkg/catalog"
	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/pkg/replay"
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/pkg/window"
)

const (
	termLength  = int32(65536)
	segmentSize = int32(131072) // two term windows per file
)

var testKey = types.StreamKey{
	Source:    "192.168.1.20:40123",
	SessionID: 7,
	Channel:   "udp://localhost:40123",
	StreamID:  10,
}

// buildTerm lays the given payloads out as data frames from offset 0 and
// fills the remainder of the window with a single padding frame.
func buildTerm(termID int32, payloads [][]byte) []byte {
	block := make([]byte, termLength)
	offset := int32(0)
	for _, p := range payloads {
		frameLength := layout.HeaderLength + int32(len(p))
		layout.PutFrameHeader(block, offset, frameLength, layout.FrameTypeData,
			termID, offset, testKey.SessionID, testKey.StreamID)
		copy(block[offset+layout.HeaderLength:], p)
		offset += layout.Align(frameLength, layout.FrameAlignment)
	}
	if offset < termLength {
		layout.PutFrameHeader(block, offset, termLength-offset, layout.FrameTypePadding,
			termID, offset, testKey.SessionID, testKey.StreamID)
	}
	return block
}

// writeArchive captures the given raw term blocks for a fresh stream
// instance and persists the final descriptor, as a finished capture session
// would have.
func writeArchive(t *testing.T, dir string, blocks ...[]byte) (*catalog.Catalog, int32) {
	t.Helper()

	cat, err := catalog.NewCatalog(dir)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	id, err := cat.AddNewStreamInstance(testKey, termLength, 0)
	if err != nil {
		t.Fatalf("AddNewStreamInstance: %v", err)
	}
	w, err := capture.NewWriter(cat, segmentSize, id, termLength, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	termID := int32(0)
	for _, block := range blocks {
		if err := w.OnBlock(block, termID, 0); err != nil {
			t.Fatalf("OnBlock term %d: %v", termID, err)
		}
		if int32(len(block)) == termLength {
			termID++
		}
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := cat.UpdateMetadata(id, w.Descriptor()); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return cat, id
}

func collect(t *testing.T, r *replay.Reader, fragmentLimit int) [][]byte {
	t.Helper()
	var payloads [][]byte
	for polls := 0; !r.IsDone(); polls++ {
		if polls > 10000 {
			t.Fatal("replay did not complete")
		}
		// a poll that only consumed padding legitimately returns 0
		_, err := r.ControlledPoll(func(buf []byte, offset, length int32, _ *layout.FrameHeader) replay.Action {
			payloads = append(payloads, append([]byte(nil), buf[offset:offset+length]...))
			return replay.Continue
		}, fragmentLimit)
		if err != nil {
			t.Fatalf("ControlledPoll: %v", err)
		}
	}
	return payloads
}

// The concrete capture/replay scenario: two data frames of 100 and 140 bytes
// followed by a padding frame filling the window. A single bounded poll
// delivers exactly the two data fragments and silently consumes the padding.
func TestControlledPollDeliversDataAndSkipsPadding(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte{0xA5}, 100-layout.HeaderLength),
		bytes.Repeat([]byte{0x5A}, 140-layout.HeaderLength),
	}
	cat, id := writeArchive(t, t.TempDir(), buildTerm(0, payloads))

	r, err := replay.NewReader(cat, segmentSize, id)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	delivered := 0
	n, err := r.ControlledPoll(func(buf []byte, offset, length int32, header *layout.FrameHeader) replay.Action {
		if !bytes.Equal(buf[offset:offset+length], payloads[delivered]) {
			t.Errorf("fragment %d payload mismatch", delivered)
		}
		if header.FrameType() != layout.FrameTypeData {
			t.Errorf("fragment %d has type %d, want data", delivered, header.FrameType())
		}
		delivered++
		return replay.Continue
	}, 10)
	if err != nil {
		t.Fatalf("ControlledPoll: %v", err)
	}

	if n != 2 || delivered != 2 {
		t.Fatalf("delivered = %d/%d, want 2", n, delivered)
	}
	if !r.IsDone() {
		t.Fatal("reader should be done after consuming the full extent")
	}

	// a finished reader polls nothing
	n, err = r.ControlledPoll(func([]byte, int32, int32, *layout.FrameHeader) replay.Action {
		t.Fatal("handler invoked after done")
		return replay.Continue
	}, 10)
	if err != nil || n != 0 {
		t.Fatalf("poll after done = %d, %v, want 0, nil", n, err)
	}
}

// Replaying a range spanning several term windows and a segment file
// boundary yields the same fragment sequence whether polled with a large
// limit or one fragment at a time.
func TestRotationLimitEquivalence(t *testing.T) {
	terms := [][]byte{
		buildTerm(0, [][]byte{bytes.Repeat([]byte{1}, 500), bytes.Repeat([]byte{2}, 800)}),
		buildTerm(1, [][]byte{bytes.Repeat([]byte{3}, 1200)}),
		buildTerm(2, [][]byte{bytes.Repeat([]byte{4}, 64), bytes.Repeat([]byte{5}, 96)}),
	}

	dirA := t.TempDir()
	catA, idA := writeArchive(t, dirA, terms...)
	rA, err := replay.NewReader(catA, segmentSize, idA)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rA.Close()
	bigLimit := collect(t, rA, 100)

	dirB := t.TempDir()
	catB, idB := writeArchive(t, dirB, terms...)
	rB, err := replay.NewReader(catB, segmentSize, idB)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rB.Close()
	oneAtATime := collect(t, rB, 1)

	if len(bigLimit) != 5 {
		t.Fatalf("fragment count = %d, want 5", len(bigLimit))
	}
	if len(bigLimit) != len(oneAtATime) {
		t.Fatalf("limit equivalence broken: %d vs %d fragments", len(bigLimit), len(oneAtATime))
	}
	for i := range bigLimit {
		if !bytes.Equal(bigLimit[i], oneAtATime[i]) {
			t.Errorf("fragment %d differs between limits", i)
		}
	}
}

// An aborting handler observes no cursor progress: the same fragment is
// re-delivered identically on the next poll.
func TestAbortRollsBackCursor(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 100),
		bytes.Repeat([]byte{2}, 200),
		bytes.Repeat([]byte{3}, 300),
	}
	cat, id := writeArchive(t, t.TempDir(), buildTerm(0, payloads))

	r, err := replay.NewReader(cat, segmentSize, id)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var aborted []byte
	calls := 0
	n, err := r.ControlledPoll(func(buf []byte, offset, length int32, _ *layout.FrameHeader) replay.Action {
		calls++
		if calls == 2 {
			aborted = append([]byte(nil), buf[offset:offset+length]...)
			return replay.Abort
		}
		return replay.Continue
	}, 10)
	if err != nil {
		t.Fatalf("ControlledPoll: %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1 (aborted fragment excluded)", n)
	}
	if r.IsDone() {
		t.Fatal("reader must not be done after abort")
	}

	// next poll re-delivers the aborted fragment first
	var redelivered []byte
	_, err = r.ControlledPoll(func(buf []byte, offset, length int32, _ *layout.FrameHeader) replay.Action {
		if redelivered == nil {
			redelivered = append([]byte(nil), buf[offset:offset+length]...)
		}
		return replay.Continue
	}, 10)
	if err != nil {
		t.Fatalf("ControlledPoll after abort: %v", err)
	}
	if !bytes.Equal(aborted, redelivered) {
		t.Fatal("aborted fragment was not re-delivered identically")
	}
	if !bytes.Equal(redelivered, payloads[1]) {
		t.Fatal("re-delivered fragment does not match written payload")
	}
}

func TestRangeReplayFromSecondFrame(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 100-layout.HeaderLength),
		bytes.Repeat([]byte{2}, 140-layout.HeaderLength),
	}
	cat, id := writeArchive(t, t.TempDir(), buildTerm(0, payloads))

	// frame 1 occupies [0, 128); frame 2 starts at 128 and spans 160 bytes
	r, err := replay.NewRangeReader(cat, segmentSize, id, 0, 128, 160)
	if err != nil {
		t.Fatalf("NewRangeReader: %v", err)
	}
	defer r.Close()

	got := collect(t, r, 10)
	if len(got) != 1 {
		t.Fatalf("fragment count = %d, want 1", len(got))
	}
	if !bytes.Equal(got[0], payloads[1]) {
		t.Fatal("range replay returned wrong payload")
	}
}

func TestMisalignedReplayOffsetRejected(t *testing.T) {
	cat, id := writeArchive(t, t.TempDir(), buildTerm(0, [][]byte{bytes.Repeat([]byte{1}, 100)}))

	_, err := replay.NewRangeReader(cat, segmentSize, id, 0, 10, 100)
	if err == nil {
		t.Fatal("expected construction failure for misaligned offset")
	}
}

func TestCorruptFrameFailsPoll(t *testing.T) {
	// 64 zero bytes captured: the first frame header decodes length 0
	cat, id := writeArchive(t, t.TempDir(), make([]byte, 64))

	r, err := replay.NewReader(cat, segmentSize, id)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	_, err = r.ControlledPoll(func([]byte, int32, int32, *layout.FrameHeader) replay.Action {
		t.Fatal("handler invoked on corrupt data")
		return replay.Continue
	}, 10)
	if !errors.Is(err, replay.ErrCorruptFrame) {
		t.Fatalf("poll on corrupt data = %v, want ErrCorruptFrame", err)
	}
}

func TestMissingSegmentFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	cat, id := writeArchive(t, dir, buildTerm(0, [][]byte{bytes.Repeat([]byte{1}, 100)}))

	if err := os.Remove(filepath.Join(dir, layout.SegmentFileName(id, 0))); err != nil {
		t.Fatalf("remove segment: %v", err)
	}

	_, err := replay.NewReader(cat, segmentSize, id)
	if !errors.Is(err, window.ErrMissingSegment) {
		t.Fatalf("NewReader = %v, want ErrMissingSegment", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	cat, id := writeArchive(t, t.TempDir(), buildTerm(0, [][]byte{bytes.Repeat([]byte{1}, 100)}))

	r, err := replay.NewReader(cat, segmentSize, id)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
