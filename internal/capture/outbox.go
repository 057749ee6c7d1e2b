package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/uplink/pkg/provider/live"
)

// DefaultQueueCapacity bounds the outbound queue while no session is
// attached: 256 audio frames of 4096 samples hold about 65 s of speech.
const DefaultQueueCapacity = 256

// Sender delivers a chunk to the remote session.
type Sender interface {
	SendMedia(ctx context.Context, chunk live.MediaChunk) error
}

// Submitter accepts outbound chunks without blocking.
type Submitter interface {
	Submit(chunk live.MediaChunk)
}

// Kind returns "audio", "image" or "other" for a chunk's MIME type.
func Kind(chunk live.MediaChunk) string {
	switch {
	case strings.HasPrefix(chunk.MIMEType, "audio/"):
		return "audio"
	case strings.HasPrefix(chunk.MIMEType, "image/"):
		return "image"
	default:
		return "other"
	}
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

// WithDropHook is called for every chunk discarded because the queue was full.
func WithDropHook(fn func(chunk live.MediaChunk)) OutboxOption {
	return func(o *Outbox) { o.onDrop = fn }
}

// WithSendHook is called after every send attempt with its result.
func WithSendHook(fn func(chunk live.MediaChunk, err error)) OutboxOption {
	return func(o *Outbox) { o.onSend = fn }
}

// WithOutboxLogger sets the logger.
func WithOutboxLogger(l *slog.Logger) OutboxOption {
	return func(o *Outbox) { o.log = l }
}

// Outbox queues outbound chunks until a Sender is attached and then forwards
// them in submission order from a single goroutine.
//
// Chunks submitted before Attach are held in a bounded FIFO; when it is full
// the oldest chunk is dropped and counted. A capacity of zero never drops.
type Outbox struct {
	capacity int
	log      *slog.Logger
	onDrop   func(live.MediaChunk)
	onSend   func(live.MediaChunk, error)

	mu      sync.Mutex
	queue   []live.MediaChunk
	sender  Sender
	dropped uint64
	sent    uint64
	closed  bool
	wake    chan struct{}
}

var _ Submitter = (*Outbox)(nil)

// NewOutbox creates an unattached Outbox.
func NewOutbox(capacity int, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		capacity: max(capacity, 0),
		log:      slog.Default(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit enqueues chunk. It never blocks and is a no-op after Close.
func (o *Outbox) Submit(chunk live.MediaChunk) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	var dropped *live.MediaChunk
	if o.capacity > 0 && len(o.queue) >= o.capacity {
		d := o.queue[0]
		dropped = &d
		o.queue = o.queue[1:]
		o.dropped++
	}
	o.queue = append(o.queue, chunk)
	total := o.dropped
	o.mu.Unlock()

	if dropped != nil {
		// Log the first drop and then every 64th to keep slow connects quiet.
		if total == 1 || total%64 == 0 {
			o.log.Warn("capture: outbound queue full, dropping oldest chunk",
				"capacity", o.capacity, "dropped_total", total)
		}
		if o.onDrop != nil {
			o.onDrop(*dropped)
		}
	}
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Attach sets the destination and releases the queued backlog.
func (o *Outbox) Attach(s Sender) {
	o.mu.Lock()
	o.sender = s
	backlog := len(o.queue)
	o.mu.Unlock()
	if backlog > 0 {
		o.log.Debug("capture: flushing queued chunks", "count", backlog)
	}
	o.signal()
}

// Run forwards queued chunks until ctx ends or Close is called. Send errors
// are logged and counted but do not stop the loop.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
		for {
			o.mu.Lock()
			if o.closed {
				o.mu.Unlock()
				return
			}
			if o.sender == nil || len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			chunk := o.queue[0]
			o.queue[0] = live.MediaChunk{}
			o.queue = o.queue[1:]
			sender := o.sender
			o.mu.Unlock()

			err := sender.SendMedia(ctx, chunk)
			if err != nil && ctx.Err() == nil {
				o.log.Debug("capture: send failed", "kind", Kind(chunk), "err", err)
			}
			if err == nil {
				o.mu.Lock()
				o.sent++
				o.mu.Unlock()
			}
			if o.onSend != nil {
				o.onSend(chunk, err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Close stops Run and discards the queue.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.mu.Unlock()
	o.signal()
}

// Len returns the number of queued chunks.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Dropped returns the number of chunks discarded by overflow.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Sent returns the number of chunks delivered successfully.
func (o *Outbox) Sent() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}
