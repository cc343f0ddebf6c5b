package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSourceClosed = errors.New("capture source is closed")

// PushSource is a CaptureSource fed externally: the ingest endpoint pushes
// each already-segmented payload as it arrives from the capturing client.
// Segment boundaries are therefore decided by the producer; chunkDuration is
// advisory here.
type PushSource struct {
	mu      sync.Mutex
	ch      chan Segment
	done    chan struct{}
	pushers sync.WaitGroup
	started bool
	closed  bool
	lastTS  time.Time
	audio   bool
	video   bool
}

func NewPushSource() *PushSource {
	return &PushSource{
		audio: true,
		video: true,
	}
}

func (p *PushSource) Start(ctx context.Context, chunkDuration time.Duration) (<-chan Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && !p.closed {
		return nil, ErrAlreadyRecording
	}
	p.ch = make(chan Segment, 8)
	p.done = make(chan struct{})
	p.started = true
	p.closed = false
	return p.ch, nil
}

// Push hands one segment to the pipeline. Blocks only while the pipeline is
// persisting a backlog of earlier segments; Stop releases any blocked push
// so a pipeline that halts mid-backlog never wedges its producers.
func (p *PushSource) Push(data []byte) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return ErrSourceClosed
	}

	// Capture timestamps derive storage paths, so they must be strictly
	// increasing even when two pushes land in the same millisecond.
	ts := time.Now()
	if !p.lastTS.IsZero() && ts.UnixMilli() <= p.lastTS.UnixMilli() {
		ts = p.lastTS.Add(time.Millisecond)
	}
	p.lastTS = ts

	ch, done := p.ch, p.done
	p.pushers.Add(1)
	p.mu.Unlock()
	defer p.pushers.Done()

	select {
	case ch <- Segment{Data: data, CapturedAt: ts}:
		return nil
	case <-done:
		return ErrSourceClosed
	}
}

// Stop releases blocked pushers first, then closes the segment channel once
// no sender can still touch it.
func (p *PushSource) Stop() {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ch, done := p.ch, p.done
	p.mu.Unlock()

	close(done)
	p.pushers.Wait()
	close(ch)
}

func (p *PushSource) SetAudioEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = enabled
}

func (p *PushSource) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.video = enabled
}
