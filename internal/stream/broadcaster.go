// Package stream carries the master bus out of the process: chunked MP3
// over HTTP, Opus over WebRTC and the local speakers. It also receives the
// browser microphone for overdubs.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the listener queue depth, about three seconds of 20ms blocks.
const DefaultBuffer = 150

// Broadcaster fans out master frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	buffer    int
}

// Listener receives interleaved 48kHz stereo frames from the broadcaster.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many frames were skipped because the listener was slow.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a broadcaster whose listeners queue up to buffer
// frames. Zero means DefaultBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		buffer:    buffer,
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice is safe.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish hands one frame to every listener without blocking.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			l.dropped.Add(1)
		}
	}
}

// Run publishes frames from source until it closes or ctx is cancelled.
// Slow listeners lose frames rather than stalling the render loop.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.Publish(frame)
		}
	}
}
