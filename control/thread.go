// thread.go provides the control thread's single-writer command queue: a
// single goroutine drains commands off a channel and runs the
// reconciliation tick on a ticker, so every catalogue mutation — whether
// triggered by an inbound command or by the tick itself — is serialized
// through one goroutine, grounded on the teacher's worker-loop-over-channel
// shape used for its job queue.
package control

import (
	"context"
	"log/slog"
	"time"
)

// Command is one parsed request from the command transport, already
// resolved to a closure over Deps so Thread does not need to know the wire
// protocol.
type Command struct {
	// Name identifies the command for logging only.
	Name string
	Run  func(ctx context.Context, d *Deps) error
	// Reply, if non-nil, receives the result of Run. Buffered with
	// capacity 1 by the submitter so the run loop's reply send never
	// blocks on a reply no one is waiting for.
	Reply chan<- error
}

// Thread owns Deps: commands and reconciliation ticks are both funneled
// through its run loop, so no two catalogue mutations ever race. The
// tick's ping fan-out updates node status from worker goroutines; the
// registry's own lock serializes those updates.
type Thread struct {
	deps     *Deps
	cfg      ReconcileConfig
	nodeList string
	interval time.Duration

	commands chan Command
	stop     chan struct{}
	done     chan struct{}
}

// NewThread constructs a Thread. cycleInterval is the reconciliation
// period (spec.md §4.7 default: 60s); queueDepth bounds how many commands
// may be buffered before Submit blocks.
func NewThread(deps *Deps, cfg ReconcileConfig, mainNodeListPath string, cycleInterval time.Duration, queueDepth int) *Thread {
	return &Thread{
		deps:     deps,
		cfg:      cfg,
		nodeList: mainNodeListPath,
		interval: cycleInterval,
		commands: make(chan Command, queueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit enqueues a command for execution by the run loop. It blocks if
// the queue is full, applying backpressure to the transport server rather
// than growing an unbounded backlog.
func (t *Thread) Submit(ctx context.Context, cmd Command) error {
	select {
	case t.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stop:
		return context.Canceled
	}
}

// Run drains commands and fires the reconciliation tick until ctx is
// cancelled or Stop is called. It is meant to be run in its own goroutine
// by the caller (cmd/digsd's main).
func (t *Thread) Run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case cmd := <-t.commands:
			t.execute(ctx, cmd)
		case <-ticker.C:
			slog.Debug("control: reconciliation tick starting")
			t.deps.Tick(ctx, t.cfg, t.nodeList)
			slog.Debug("control: reconciliation tick complete")
		}
	}
}

func (t *Thread) execute(ctx context.Context, cmd Command) {
	err := cmd.Run(ctx, t.deps)
	if err != nil {
		slog.Warn("control: command failed", "command", cmd.Name, "error", err)
	}
	if cmd.Reply != nil {
		cmd.Reply <- err
	}
}

// Stop signals Run to exit and waits for it to finish.
func (t *Thread) Stop() {
	close(t.stop)
	<-t.done
}
