// Package transfer implements the handle-accounting state machine that
// sits in front of every backend.SEBackend transfer call (spec.md §4.5):
// CREATED -> IN_PROGRESS -> (DONE | FAILED), with End as the sole
// handle-release operation and per-node timeouts enforced via
// context.WithTimeout. Grounded on the teacher's job_processor.go /
// task_runner.go handle-lifecycle pattern, adapted from a B-tree
// transaction's commit/rollback pair to a backend transfer's
// monitor/end pair.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/epcced/digs/backend"
	"github.com/epcced/digs/node"
)

// State is the externally visible terminal/non-terminal state of a
// managed transfer. It latches once DONE or FAILED is observed: a
// subsequent backend Monitor call reporting IN_PROGRESS again (the
// RUNNING -> FINISHED -> RUNNING flap the original job status poller was
// prone to) is deliberately ignored once a terminal state has been seen,
// closing that Open Question in the direction of "trust the first
// terminal observation."
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateDone
	StateFailed
)

type managedTransfer struct {
	mu       sync.Mutex
	state    State
	backend  backend.SEBackend
	handle   backend.Handle
	latched  bool
	cancelFn context.CancelFunc
}

// Manager tracks every in-flight transfer so Monitor/End/Cancel can be
// called with only the transfer.Handle the caller was given, without
// threading the originating backend through every call site.
type Manager struct {
	mu      sync.Mutex
	xfers   map[Handle]*managedTransfer
	nextID  int64
}

// Handle identifies one transfer.Manager-owned transfer.
type Handle int64

// New creates an empty transfer Manager.
func New() *Manager {
	return &Manager{xfers: make(map[Handle]*managedTransfer)}
}

// kind selects which of Node.Timeouts bounds a given operation.
type kind int

const (
	kindCopy kind = iota
	kindFTP
	kindJob
)

func timeoutFor(n node.Node, k kind) time.Duration {
	switch k {
	case kindCopy:
		return n.Timeouts.Copy
	case kindFTP:
		return n.Timeouts.FTP
	default:
		return n.Timeouts.Job
	}
}

// StartPut begins a put transfer against be, bounding it by n's copy
// timeout. The returned Handle must have End called on it exactly once,
// on every path (success, failure, or timeout) — callers should defer End
// immediately after a successful Start* call.
func (m *Manager) StartPut(ctx context.Context, be backend.SEBackend, n node.Node, host, localPath, remotePath string) (Handle, error) {
	return m.start(ctx, be, n, kindCopy, func(bctx context.Context) (backend.Handle, error) {
		return be.StartPut(bctx, host, localPath, remotePath)
	})
}

// StartGet begins a get transfer, bounded by n's copy timeout.
func (m *Manager) StartGet(ctx context.Context, be backend.SEBackend, n node.Node, host, remotePath, localPath string) (Handle, error) {
	return m.start(ctx, be, n, kindCopy, func(bctx context.Context) (backend.Handle, error) {
		return be.StartGet(bctx, host, remotePath, localPath)
	})
}

// StartCopyToInbox begins an inbox staging transfer, bounded by n's copy
// timeout (the producer side of the inbox protocol, spec.md §4.6).
func (m *Manager) StartCopyToInbox(ctx context.Context, be backend.SEBackend, n node.Node, host, localPath, lfn string) (Handle, error) {
	return m.start(ctx, be, n, kindCopy, func(bctx context.Context) (backend.Handle, error) {
		return be.StartCopyToInbox(bctx, host, localPath, lfn)
	})
}

func (m *Manager) start(ctx context.Context, be backend.SEBackend, n node.Node, k kind, startFn func(context.Context) (backend.Handle, error)) (Handle, error) {
	bctx, cancel := context.WithTimeout(ctx, timeoutFor(n, k))
	bh, err := startFn(bctx)
	if err != nil {
		cancel()
		return 0, err
	}

	m.mu.Lock()
	m.nextID++
	id := Handle(m.nextID)
	m.xfers[id] = &managedTransfer{
		state:    StateInProgress,
		backend:  be,
		handle:   bh,
		cancelFn: cancel,
	}
	m.mu.Unlock()
	return id, nil
}

// Monitor polls the underlying backend for status. Per spec.md §4.5 this
// is meant to be called cheaply and often (the caller idles ~1ms between
// calls); Monitor does no sleeping itself.
func (m *Manager) Monitor(ctx context.Context, h Handle) (State, int, error) {
	m.mu.Lock()
	mt, ok := m.xfers[h]
	m.mu.Unlock()
	if !ok {
		return StateFailed, 0, fmt.Errorf("transfer: unknown handle %d", h)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.latched {
		return mt.state, 100, nil
	}

	status, pct, err := mt.backend.Monitor(ctx, mt.handle)
	if err != nil {
		return StateFailed, 0, err
	}

	switch status {
	case backend.StatusDone:
		mt.state, mt.latched = StateDone, true
	case backend.StatusFailed:
		mt.state, mt.latched = StateFailed, true
	default:
		mt.state = StateInProgress
	}
	return mt.state, pct, nil
}

// End releases the handle. It is the sole handle-release operation and
// must be invoked on every code path that created a handle — callers
// should defer it immediately after Start* succeeds.
func (m *Manager) End(ctx context.Context, h Handle) error {
	m.mu.Lock()
	mt, ok := m.xfers[h]
	delete(m.xfers, h)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	mt.cancelFn()
	return mt.backend.End(ctx, mt.handle)
}

// Cancel drives the transfer to FAILED at the next Monitor observation
// (cooperative cancellation, spec.md §4.5).
func (m *Manager) Cancel(ctx context.Context, h Handle) error {
	m.mu.Lock()
	mt, ok := m.xfers[h]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("transfer: unknown handle %d", h)
	}
	return mt.backend.Cancel(ctx, mt.handle)
}
