package trace

import (
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Heartbeat emits build-scope heartbeat events at a fixed interval. A hung
// build keeps beating without ending spans; each beat records the time since
// start and the goroutine count, which grows when workers pile up on a lock.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat starts beating into tracer. It returns nil (a valid
// Heartbeat to Stop) when tracing is off or interval is not positive.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	go h.run(tracer, interval)
	return h
}

func (h *Heartbeat) run(tracer Tracer, interval time.Duration) {
	defer close(h.done)
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			tracer.Emit(&Event{
				Time:   now,
				Seq:    NextSeq(),
				Kind:   KindHeartbeat,
				Scope:  ScopeBuild,
				Name:   "heartbeat",
				Detail: "+" + now.Sub(start).Round(time.Millisecond).String(),
				Extra:  map[string]string{"goroutines": strconv.Itoa(runtime.NumGoroutine())},
			})
		case <-h.stop:
			return
		}
	}
}

// Stop ends the heartbeat and waits for the last beat. Safe to call more
// than once and on nil.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
