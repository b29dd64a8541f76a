package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const queueSize = 64

// Recorder stamps events and hands them to its sinks from a background
// goroutine, so a slow serial line never stalls the caller. Frame events are
// sampled through a token bucket; every other kind is always queued.
type Recorder struct {
	sinks   []Sink
	session string
	limiter *rate.Limiter
	now     func() time.Time
	queue   chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a recorder sampling frames at perSecond with the given
// burst. perSecond 0 disables frame events.
func NewRecorder(session string, perSecond float64, burst int, sinks ...Sink) *Recorder {
	return &Recorder{
		sinks:   sinks,
		session: session,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
		queue:   make(chan Event, queueSize),
	}
}

// Record queues ev and reports whether it was accepted. Frames over the
// sampling rate and events arriving while the queue is full are dropped.
func (r *Recorder) Record(ev Event) bool {
	if r == nil {
		return false
	}
	if ev.Kind == KindFrame && !r.limiter.Allow() {
		return false
	}
	ev.Seq = r.seq.Add(1)
	ev.Session = r.session
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	select {
	case r.queue <- ev:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued events until ctx is cancelled, then drains the queue and
// closes every sink.
func (r *Recorder) Run(ctx context.Context) {
	defer r.close()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		case ev := <-r.queue:
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev Event) {
	for _, s := range r.sinks {
		if err := s.Write(ev); err != nil {
			slog.Warn("telemetry: write failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		}
	}
}

func (r *Recorder) close() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			slog.Warn("telemetry: close failed", "err", err)
		}
	}
}
