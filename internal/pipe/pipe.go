// Package pipe frames a live PCM chunk feed for network transport. A pipe is
// restartable: each Start opens a fresh output sequence, Stop ends it, and
// Dispose retires the pipe for good.
package pipe

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// frameBytes aggregates device chunks into larger network frames.
	frameBytes = 3200 // 100ms @ 16kHz mono s16

	flushInterval = 250 * time.Millisecond
)

var ErrDisposed = errors.New("streaming pipe already disposed")

// Pipe reads chunks from a source channel while running and emits aggregated
// frames on a per-run output channel.
type Pipe struct {
	source <-chan []byte
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	disposed bool
	out      chan []byte
	stopCh   chan struct{}
	done     chan struct{}
}

// New wraps a chunk source; the pipe stays idle until Start.
func New(source <-chan []byte, logger *slog.Logger) *Pipe {
	return &Pipe{source: source, logger: logger}
}

// Start begins a new output sequence. Starting an already-running pipe is a
// no-op; starting a disposed pipe is an error.
func (p *Pipe) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return ErrDisposed
	}
	if p.running {
		return nil
	}

	p.out = make(chan []byte, 32)
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	go p.run(p.source, p.out, p.stopCh, p.done)
	return nil
}

// Stop ends the current output sequence and releases the flush timer.
// Stopping an idle pipe is a no-op.
func (p *Pipe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	close(stopCh)
	<-done
}

// Dispose stops the pipe and rejects any further Start.
func (p *Pipe) Dispose() {
	p.Stop()

	p.mu.Lock()
	p.disposed = true
	p.mu.Unlock()
}

// Chunks returns the output sequence of the current run. The channel closes
// when the run ends; a later Start yields a new channel.
func (p *Pipe) Chunks() <-chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out
}

// run aggregates source chunks into frames until stopped or the source closes.
// The ticker flushes partial frames so quiet input still reaches the collector.
func (p *Pipe) run(source <-chan []byte, out chan []byte, stopCh chan struct{}, done chan struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pending []byte
	flush := func(min int) {
		for len(pending) >= min && len(pending) > 0 {
			size := frameBytes
			if len(pending) < size {
				size = len(pending)
			}
			frame := make([]byte, size)
			copy(frame, pending[:size])
			pending = pending[size:]

			select {
			case out <- frame:
			case <-stopCh:
				return
			}
		}
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			flush(1)
		case chunk, ok := <-source:
			if !ok {
				flush(1)
				return
			}
			if len(chunk) == 0 {
				continue
			}
			pending = append(pending, chunk...)
			flush(frameBytes)
		}
	}
}
