// Package queue implements the per-socket FIFO send queue shared by the
// server and client cores: frames enqueued while a socket is unattached
// (the owner is offline) wait in order; attaching a writer drains them
// one at a time, firing each entry's completion signal as its frame is
// written.
package queue

import (
	"io"
	"sync"

	"github.com/ianremillard/ipcfabric/internal/proto"
)

type entry struct {
	frame proto.Frame
	done  chan error
}

// Queue is a strict FIFO of pending frames with a single in-flight write
// at a time. It drains only while a writer is attached; Detach halts the
// drain (in-flight queue contents are preserved) until the next Attach.
type Queue struct {
	mu       sync.Mutex
	items    []*entry
	writer   io.Writer
	draining bool
}

// New returns an empty, unattached queue.
func New() *Queue {
	return &Queue{}
}

// Attach binds w as the queue's writer and (re)starts draining. Call this
// once a socket connects or reconnects.
func (q *Queue) Attach(w io.Writer) {
	q.mu.Lock()
	q.writer = w
	draining := q.draining
	q.mu.Unlock()

	if !draining {
		go q.drain()
	}
}

// Detach clears the writer. Queued entries survive; draining resumes on
// the next Attach.
func (q *Queue) Detach() {
	q.mu.Lock()
	q.writer = nil
	q.mu.Unlock()
}

// Enqueue appends f to the tail of the queue and returns a channel that
// receives the write's outcome (nil on success) exactly once. Enqueue
// never blocks and never refuses a frame, whether or not a writer is
// currently attached.
func (q *Queue) Enqueue(f proto.Frame) <-chan error {
	e := &entry{frame: f, done: make(chan error, 1)}

	q.mu.Lock()
	q.items = append(q.items, e)
	writer := q.writer
	draining := q.draining
	q.mu.Unlock()

	if writer != nil && !draining {
		go q.drain()
	}
	return e.done
}

// Len reports the number of entries not yet drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain writes the queue head-to-tail until it empties or the writer is
// detached / a write fails. A draining flag prevents concurrent drainers.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.writer == nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		w := q.writer
		q.mu.Unlock()

		_, err := w.Write(proto.Encode(head.frame))

		q.mu.Lock()
		if len(q.items) > 0 && q.items[0] == head {
			q.items = q.items[1:]
		}
		if err != nil {
			// Treat a write failure as the writer going away; the owner's
			// read loop will observe the same failure and re-Attach on
			// reconnect, which resumes this drain for whatever remains.
			q.writer = nil
		}
		q.mu.Unlock()

		head.done <- err
		close(head.done)

		if err != nil {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}
	}
}
