// Package permission implements the bridge's inversion-of-control permission
// queue: the agent blocks on an ACP requestPermission call, the supervisor
// parks it here, and an external HTTP caller later resolves it.
package permission

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/acp-go-sdk"
)

// globalRequestID is a process-wide monotonic counter; it has no semantics
// to the agent, only to observability and tests (spec §4.3/§9).
var globalRequestID atomic.Int64

func nextRequestID() int64 {
	return globalRequestID.Add(1)
}

// Pending is one parked permission request awaiting exactly one resolution.
type Pending struct {
	RequestID   int64
	ToolCallID  string
	Title       string
	Options     []acp.PermissionOption
	RequestedAt time.Time

	mu       sync.Mutex
	resolved bool
	resolve  func(acp.RequestPermissionOutcome)
}

func (p *Pending) resolveOnce(outcome acp.RequestPermissionOutcome) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	resolve := p.resolve
	p.mu.Unlock()
	resolve(outcome)
}

// Queue is a single agent's FIFO queue of pending permission requests.
type Queue struct {
	mu      sync.Mutex
	pending []*Pending
}

// NewQueue creates an empty per-agent permission queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue parks a new request at the tail of the queue and returns the
// Pending observability handle. resolve completes the in-flight ACP call.
func (q *Queue) Enqueue(toolCallID, title string, options []acp.PermissionOption, resolve func(acp.RequestPermissionOutcome)) *Pending {
	p := &Pending{
		RequestID:   nextRequestID(),
		ToolCallID:  toolCallID,
		Title:       title,
		Options:     options,
		RequestedAt: time.Now().UTC(),
		resolve:     resolve,
	}
	q.mu.Lock()
	q.pending = append(q.pending, p)
	q.mu.Unlock()
	return p
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot returns the queue contents without dequeuing.
func (q *Queue) Snapshot() []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Pending, len(q.pending))
	copy(out, q.pending)
	return out
}

// dequeueHead removes and returns the head of the queue, or nil if empty.
func (q *Queue) dequeueHead() *Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	return head
}

// Approve dequeues the head request and resolves it with a selected option.
// If optionID is non-empty and matches an advertised option, that option is
// used; otherwise the first option whose kind starts with "allow" is
// preferred, falling back to the first option overall. Returns false if the
// queue was empty (caller should respond 409, queue left unmodified).
func Approve(q *Queue, optionID string) (selectedOptionID string, ok bool) {
	return resolveHead(q, optionID, "allow")
}

// Deny dequeues the head request and resolves it with a selected option,
// preferring a "reject"-kind option over "allow".
func Deny(q *Queue, optionID string) (selectedOptionID string, ok bool) {
	return resolveHead(q, optionID, "reject")
}

func resolveHead(q *Queue, optionID, preferKindPrefix string) (string, bool) {
	p := q.dequeueHead()
	if p == nil {
		return "", false
	}

	var chosen *acp.PermissionOption
	if optionID != "" {
		for i := range p.Options {
			if string(p.Options[i].OptionId) == optionID {
				chosen = &p.Options[i]
				break
			}
		}
	}
	if chosen == nil {
		for i := range p.Options {
			if strings.HasPrefix(strings.ToLower(string(p.Options[i].Kind)), preferKindPrefix) {
				chosen = &p.Options[i]
				break
			}
		}
	}
	if chosen == nil && len(p.Options) > 0 {
		chosen = &p.Options[0]
	}
	if chosen == nil {
		p.resolveOnce(acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}})
		return "", true
	}

	p.resolveOnce(acp.RequestPermissionOutcome{
		Selected: &acp.RequestPermissionOutcomeSelected{OptionId: chosen.OptionId},
	})
	return string(chosen.OptionId), true
}

// CancelAll resolves every currently queued request with outcome cancelled,
// atomically draining the queue. Idempotent: calling it on an empty queue is
// a no-op.
func CancelAll(q *Queue) int {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, p := range drained {
		p.resolveOnce(acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}})
	}
	return len(drained)
}
