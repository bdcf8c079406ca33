package types

// StreamKey identifies one captured occurrence of a source/session/channel/stream
// combination. The catalog maps each key registration to a fresh instance id.
type StreamKey struct {
	Source    string
	SessionID int32
	Channel   string
	StreamID  int32
}

// SegmentDescriptor is the persisted progress record for a stream instance.
// It is written once at capture start, rewritten on capture stop and read-only
// during replay.
type SegmentDescriptor struct {
	TermBufferLength  int32
	InitialTermID     int32
	InitialTermOffset int32
	LastTermID        int32
	LastTermOffset    int32
}

// BlockHandler receives a contiguous run of raw term bytes pulled from an
// inbound stream. The block lands at (termID, termOffset) in the stream's
// logical byte space.
type BlockHandler func(block []byte, termID, termOffset int32) error

// InboundStream is the transport-side source of raw stream bytes. The
// transport layer is external; the capture path consumes it through this
// contract only.
type InboundStream interface {
	SourceIdentity() string
	SessionID() int32
	ChannelURI() string
	StreamID() int32
	TermBufferLength() int32
	InitialTermID() int32

	// RawPoll pulls at most maxBytes of available raw term bytes, handing
	// them to handler in write order. Returns the number of bytes consumed.
	RawPoll(handler BlockHandler, maxBytes int) (int, error)

	IsClosed() bool
}

// ControlProxy is the sink for capture lifecycle notifications.
type ControlProxy interface {
	Started(instanceID int32, source string, sessionID int32, channel string, streamID int32)
	Progress(instanceID, initialTermID, initialTermOffset, lastTermID, lastTermOffset int32)
	Stopped(instanceID int32)
}

// Task is a steppable unit of work driven once per scheduling tick by an
// external driver loop. DoWork is not re-entrant; one owner steps a task at
// a time.
type Task interface {
	DoWork() (int, error)
	Abort()
	IsDone() bool
}
