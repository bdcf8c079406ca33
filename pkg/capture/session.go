package capture

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/downfa11-org/go-archiver/pkg/catalog"
	"github.com/downfa11-org/go-archiver/pkg/metrics"
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/util"
)

// ErrWriterInit reports a resource or I/O failure while constructing the
// write path at capture start. The session has already closed itself when
// this is returned.
var ErrWriterInit = errors.New("capture writer construction failed")

// ErrCaptureFault reports a failure while pulling inbound bytes. The session
// has already transitioned to closing when this is returned.
var ErrCaptureFault = errors.New("capture fault")

type State int

const (
	StateArchiving State = iota
	StateClosing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateArchiving:
		return "ARCHIVING"
	case StateClosing:
		return "CLOSING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Session archives one inbound stream into segment files. It is a steppable
// task: the external driver calls DoWork once per scheduling tick until
// IsDone, then Remove. States run ARCHIVING -> CLOSING -> DONE; DONE is
// terminal.
type Session struct {
	instanceID    int32
	correlationID string

	stream types.InboundStream
	cat    *catalog.Catalog
	proxy  types.ControlProxy
	writer *Writer

	segmentFileSize int32
	state           State
	closedOnce      bool
}

var _ types.Task = (*Session)(nil)

// NewSession registers the stream with the catalog, notifies the control
// plane and opens the write path. On writer failure the session closes
// itself (stop notification included) and the error is returned to the
// driver.
func NewSession(cat *catalog.Catalog, proxy types.ControlProxy, stream types.InboundStream, segmentFileSize int32) (*Session, error) {
	key := types.StreamKey{
		Source:    stream.SourceIdentity(),
		SessionID: stream.SessionID(),
		Channel:   stream.ChannelURI(),
		StreamID:  stream.StreamID(),
	}

	instanceID, err := cat.AddNewStreamInstance(key, stream.TermBufferLength(), stream.InitialTermID())
	if err != nil {
		return nil, err
	}

	s := &Session{
		instanceID:      instanceID,
		correlationID:   uuid.New().String(),
		stream:          stream,
		cat:             cat,
		proxy:           proxy,
		segmentFileSize: segmentFileSize,
		state:           StateArchiving,
	}

	proxy.Started(instanceID, key.Source, key.SessionID, key.Channel, key.StreamID)
	metrics.CaptureSessionsActive.Inc()
	util.Info("capture session %s started for instance %d (%s/%d %s/%d)",
		s.correlationID, instanceID, key.Source, key.SessionID, key.Channel, key.StreamID)

	writer, err := NewWriter(cat, segmentFileSize, instanceID, stream.TermBufferLength(), stream.InitialTermID())
	if err != nil {
		s.close()
		return nil, fmt.Errorf("%w: %v", ErrWriterInit, err)
	}
	s.writer = writer

	return s, nil
}

// DoWork performs one cooperative step. The returned count is 0 only when
// archiving produced nothing new; a capture fault is returned after the
// state transition to closing has been made.
func (s *Session) DoWork() (int, error) {
	workCount := 0
	var fault error

	if s.state == StateArchiving {
		n, err := s.archive()
		workCount += n
		fault = err
	}

	if s.state == StateClosing {
		workCount += s.close()
	}

	return workCount, fault
}

func (s *Session) archive() (int, error) {
	n, err := s.stream.RawPoll(s.writer.OnBlock, int(s.segmentFileSize))
	if err != nil {
		s.state = StateClosing
		metrics.CaptureFaults.Inc()
		return n, fmt.Errorf("%w: instance %d: %v", ErrCaptureFault, s.instanceID, err)
	}

	if n != 0 {
		d := s.writer.Descriptor()
		s.proxy.Progress(s.instanceID, d.InitialTermID, d.InitialTermOffset, d.LastTermID, d.LastTermOffset)
		metrics.ProgressNotifications.Inc()
	}

	if s.stream.IsClosed() {
		s.state = StateClosing
	}

	return n, nil
}

// close persists final extents and releases resources. Best-effort
// throughout: a secondary failure is logged, never allowed to mask the
// primary fault or leak the writer.
func (s *Session) close() int {
	if s.closedOnce {
		s.state = StateDone
		return 0
	}
	s.closedOnce = true

	if s.writer != nil {
		if err := s.writer.Stop(); err != nil {
			util.Error("stop writer for instance %d: %v", s.instanceID, err)
		}
		if err := s.cat.UpdateMetadata(s.instanceID, s.writer.Descriptor()); err != nil {
			util.Error("persist final descriptor for instance %d: %v", s.instanceID, err)
		}
		if err := s.writer.Close(); err != nil {
			util.Error("close writer for instance %d: %v", s.instanceID, err)
		}
	}

	s.proxy.Stopped(s.instanceID)
	metrics.CaptureSessionsActive.Dec()
	s.state = StateDone
	util.Info("capture session %s done for instance %d", s.correlationID, s.instanceID)
	return 1
}

// Abort requests an immediate transition to closing; the next DoWork tick
// performs the cleanup. Aborting a finished session is a no-op.
func (s *Session) Abort() {
	if s.state != StateDone {
		s.state = StateClosing
	}
}

func (s *Session) IsDone() bool {
	return s.state == StateDone
}

func (s *Session) InstanceID() int32 {
	return s.instanceID
}

func (s *Session) State() State {
	return s.state
}

// Remove deregisters the session; the driver calls this once IsDone.
func (s *Session) Remove(registry *Registry) {
	registry.Remove(s.instanceID)
}
