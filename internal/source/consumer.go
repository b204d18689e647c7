package source

import (
	"container/list"
	"sync"

	"github.com/docterling/rtmp-bridge-server/internal/media"
)

// Consumer is a per-subscriber queue of media packets, fed by a
// Source's publisher side and drained by one protocol-specific
// sender goroutine (RTMP player, RTP builder, TS muxer, ...).
//
// Fan-out never busy-polls: Dequeue blocks on a condition variable
// and is only woken once the queue has grown past MinWaitMessages (or
// been explicitly closed), the way a single condvar wakeup services a
// whole burst of enqueues instead of one wakeup per packet.
type Consumer struct {
	Source   *Source
	Handler  func(media.Packet)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	waiting  bool
	closed   bool

	// MinWaitMessages is the minimum queued message count before a
	// waiting Dequeue is woken; 0 wakes on every enqueue.
	MinWaitMessages int
}

// NewConsumer returns a Consumer attached to src, not yet subscribed.
func NewConsumer(src *Source, minWaitMessages int) *Consumer {
	c := &Consumer{
		Source:          src,
		queue:           list.New(),
		MinWaitMessages: minWaitMessages,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Enqueue appends a packet to the consumer's queue and wakes a
// blocked Dequeue iff the queue has grown past MinWaitMessages.
func (c *Consumer) Enqueue(p media.Packet) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.Release()
		return
	}
	c.queue.PushBack(p)
	shouldWake := c.waiting && c.queue.Len() > c.MinWaitMessages
	c.mu.Unlock()

	if shouldWake {
		c.cond.Signal()
	}
}

// Dequeue blocks until at least one packet is queued or the consumer
// is closed, then drains and returns every currently-queued packet.
func (c *Consumer) Dequeue() ([]media.Packet, bool) {
	c.mu.Lock()
	for c.queue.Len() == 0 && !c.closed {
		c.waiting = true
		c.cond.Wait()
		c.waiting = false
	}
	if c.queue.Len() == 0 && c.closed {
		c.mu.Unlock()
		return nil, false
	}

	out := make([]media.Packet, 0, c.queue.Len())
	for e := c.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(media.Packet))
	}
	c.queue.Init()
	c.mu.Unlock()

	return out, true
}

// Close unblocks any pending Dequeue and prevents further enqueues.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for e := c.queue.Front(); e != nil; e = e.Next() {
		e.Value.(media.Packet).Release()
	}
	c.queue.Init()
	c.mu.Unlock()
	c.cond.Broadcast()
}
