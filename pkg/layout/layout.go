package layout

import (
	"fmt"

	"github.com/downfa11-org/go-archiver/pkg/types"
)

// Addressing math shared by the capture and replay paths. These functions
// must stay bit-identical on both sides: the reader reconstructs file
// positions from the same arithmetic the writer used to place them.

// Align rounds value up to the next multiple of alignment. Alignment must be
// a power of two.
func Align(value, alignment int32) int32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int32) bool {
	return v > 0 && v&(v-1) == 0
}

// TermsPerFile is the number of term windows held by one segment file.
func TermsPerFile(termLength, segmentFileSize int32) int32 {
	return segmentFileSize / termLength
}

// FileIndex maps a target term id to the index of the segment file holding
// it, relative to the stream's initial term id.
func FileIndex(initialTermID, termID, termLength, segmentFileSize int32) int {
	return int((termID - initialTermID) / TermsPerFile(termLength, segmentFileSize))
}

// ByteOffset maps a (termID, termOffset) position to its byte offset within
// the segment file returned by FileIndex.
func ByteOffset(termOffset, termID, initialTermID, termLength, segmentFileSize int32) int32 {
	windowInFile := (termID - initialTermID) % TermsPerFile(termLength, segmentFileSize)
	return windowInFile*termLength + termOffset
}

// FullLength is the committed byte length of a captured stream instance,
// derived solely from the descriptor extents.
func FullLength(d types.SegmentDescriptor) int64 {
	return int64(d.LastTermID-d.InitialTermID)*int64(d.TermBufferLength) +
		int64(d.LastTermOffset-d.InitialTermOffset)
}

// SegmentFileName is the deterministic data file name for
// (instanceID, segmentIndex).
func SegmentFileName(instanceID int32, index int) string {
	return fmt.Sprintf("%d_segment_%d.dat", instanceID, index)
}

// MetadataFileName is the deterministic metadata file name for a stream
// instance.
func MetadataFileName(instanceID int32) string {
	return fmt.Sprintf("%d.meta", instanceID)
}

// ValidateSizes checks the global layout invariants: the term window length
// is a power of two and the segment file size is a whole multiple of it.
func ValidateSizes(termLength, segmentFileSize int32) error {
	if !IsPowerOfTwo(termLength) {
		return fmt.Errorf("term window length must be a power of two, got %d", termLength)
	}
	if segmentFileSize < termLength || segmentFileSize%termLength != 0 {
		return fmt.Errorf("segment file size %d must be a whole multiple of term window length %d",
			segmentFileSize, termLength)
	}
	return nil
}
