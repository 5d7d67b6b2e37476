package buildpipeline

import "time"

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
	// Done stops blocked sends once the consumer has gone away.
	Done <-chan struct{}
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	if s.Done == nil {
		s.Ch <- evt
		return
	}
	select {
	case s.Ch <- evt:
	case <-s.Done:
	}
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }

func emitStage(sink ProgressSink, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}
