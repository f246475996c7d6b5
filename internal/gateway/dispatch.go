package gateway

import (
	"context"
	"errors"
	"sync"

	"firestige.xyz/anpx/internal/log"
)

// ErrQueueFull is returned by Enqueue when a connection's outbound queue is
// already at capacity. The caller treats this as backpressure and evicts
// the connection.
var ErrQueueFull = errors.New("gateway: outbound queue full")

// writer serialises writes to one WebSocket connection through a single
// consumer goroutine reading off a bounded channel, mirroring the
// partitioned-queue shape used elsewhere in this codebase for fan-out work,
// specialised here to exactly one partition per connection since writes on
// a socket must never interleave.
type writer struct {
	queue  chan []byte
	send   func([]byte) error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onSendError func(error)
}

func newWriter(queueDepth int, send func([]byte) error, onSendError func(error)) *writer {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &writer{
		queue:       make(chan []byte, queueDepth),
		send:        send,
		ctx:         ctx,
		cancel:      cancel,
		onSendError: onSendError,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) run() {
	defer w.wg.Done()
	logger := log.GetLogger()
	for {
		select {
		case <-w.ctx.Done():
			return
		case frame, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.send(frame); err != nil {
				logger.Warnf("gateway: outbound write failed: %v", err)
				// async: the eviction path calls Stop, which joins this
				// goroutine — invoking it inline would deadlock
				if w.onSendError != nil {
					go w.onSendError(err)
				}
				return
			}
		}
	}
}

// Enqueue submits a frame for serialised delivery. Non-blocking: if the
// queue is already full the connection is backed up beyond the configured
// threshold and the caller should evict it.
func (w *writer) Enqueue(frame []byte) error {
	select {
	case w.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the writer goroutine and waits for it to exit.
func (w *writer) Stop() {
	w.cancel()
	w.wg.Wait()
}
