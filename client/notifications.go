package client

import (
	"sync"

	"github.com/arcrun/mcprt/jsonrpc"
)

// defaultNotificationQueueSize bounds how many notifications are
// retained while no listener is attached.
const defaultNotificationQueueSize = 256

// NotificationQueue buffers incoming notifications until a listener
// attaches, then replays the backlog before forwarding live arrivals
// (spec.md §4.8: "Queue notifications for later delivery if no
// listener is active; replay on listener attach."). Grounded on the
// teacher's Session.sseCh/Input split. The backlog keeps at most its
// capacity (oldest entries dropped first), and Attach's replay skips any
// backlog entry the attached channel cannot take without blocking.
type NotificationQueue struct {
	mu       sync.Mutex
	backlog  []jsonrpc.Message
	listener chan<- jsonrpc.Message
	capacity int
}

// NewNotificationQueue builds an empty queue with the given backlog
// capacity (0 uses defaultNotificationQueueSize).
func NewNotificationQueue(capacity int) *NotificationQueue {
	if capacity <= 0 {
		capacity = defaultNotificationQueueSize
	}
	return &NotificationQueue{capacity: capacity}
}

// Push delivers a notification to the active listener, or buffers it
// (dropping the oldest entry once at capacity) if none is attached.
func (q *NotificationQueue) Push(msg jsonrpc.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.listener != nil {
		select {
		case q.listener <- msg:
			return
		default:
			// Listener's channel is full; fall through to buffering so the
			// notification is not silently lost.
		}
	}

	q.backlog = append(q.backlog, msg)
	if len(q.backlog) > q.capacity {
		q.backlog = q.backlog[len(q.backlog)-q.capacity:]
	}
}

// Attach registers ch as the active listener and replays the backlog
// into it before returning. Only one listener may be attached at a
// time; attaching a new one replaces the prior one.
func (q *NotificationQueue) Attach(ch chan<- jsonrpc.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range q.backlog {
		select {
		case ch <- msg:
		default:
		}
	}
	q.backlog = nil
	q.listener = ch
}

// Detach removes the active listener, if any, reverting to buffering.
func (q *NotificationQueue) Detach(ch chan<- jsonrpc.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listener == ch {
		q.listener = nil
	}
}
