package proxy

import (
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/util"
)

// LogProxy is a control-plane sink that writes notifications to the process
// log. The wire-level control protocol is external; embedding processes
// supply their own types.ControlProxy and may Tee it with this one.
type LogProxy struct{}

func (LogProxy) Started(instanceID int32, source string, sessionID int32, channel string, streamID int32) {
	util.Info("archive started: instance=%d source=%s session=%d channel=%s stream=%d",
		instanceID, source, sessionID, channel, streamID)
}

func (LogProxy) Progress(instanceID, initialTermID, initialTermOffset, lastTermID, lastTermOffset int32) {
	util.Debug("archive progress: instance=%d initial=%d/%d last=%d/%d",
		instanceID, initialTermID, initialTermOffset, lastTermID, lastTermOffset)
}

func (LogProxy) Stopped(instanceID int32) {
	util.Info("archive stopped: instance=%d", instanceID)
}

type tee struct {
	sinks []types.ControlProxy
}

// Tee fans every notification out to all the given sinks in order.
func Tee(sinks ...types.ControlProxy) types.ControlProxy {
	return &tee{sinks: sinks}
}

func (t *tee) Started(instanceID int32, source string, sessionID int32, channel string, streamID int32) {
	for _, s := range t.sinks {
		s.Started(instanceID, source, sessionID, channel, streamID)
	}
}

func (t *tee) Progress(instanceID, initialTermID, initialTermOffset, lastTermID, lastTermOffset int32) {
	for _, s := range t.sinks {
		s.Progress(instanceID, initialTermID, initialTermOffset, lastTermID, lastTermOffset)
	}
}

func (t *tee) Stopped(instanceID int32) {
	for _, s := range t.sinks {
		s.Stopped(instanceID)
	}
}
