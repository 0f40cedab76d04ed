// Package runner coordinates the two execution contexts every run needs:
// a loop runner that keeps the transport's event loop serviced so write
// completions are delivered, and a drain runner that executes queued
// commands against the device session. Either side's termination is
// observed promptly by the other through a shared cancellation flag, and
// accumulated cleanup actions execute exactly once after both stop.
package runner

import (
	"context"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LoopService is the loop-servicing primitive of a transport. RunLoop
// blocks until StopLoop asks it, cooperatively, to return.
type LoopService interface {
	RunLoop() error
	StopLoop()
}

type command struct {
	name string
	run  func(ctx context.Context) error
}

type cleanup struct {
	name string
	run  func()
}

// Runner owns the command queue, the cleanup queue and the shared
// cancellation flag.
type Runner struct {
	loop LoopService
	log  logrus.FieldLogger

	stop atomic.Bool

	mu       sync.Mutex
	queue    []command
	cleanups []cleanup

	cleanupOnce sync.Once
}

// New creates a runner around the given loop service.
func New(loop LoopService, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{loop: loop, log: logger}
}

// Abort exposes the shared cancellation flag so collaborators (the write
// tracker in particular) can observe external interruption mid-wait.
func (r *Runner) Abort() *atomic.Bool { return &r.stop }

// EnqueueCommand appends a command to the FIFO queue. Commands execute
// strictly in enqueue order, one at a time, on the drain context.
func (r *Runner) EnqueueCommand(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, command{name: name, run: fn})
}

// EnqueueCleanup appends a cleanup action. Cleanups run in enqueue order
// after both runners have stopped, regardless of why the run ended.
func (r *Runner) EnqueueCleanup(name string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, cleanup{name: name, run: fn})
}

func (r *Runner) dequeue() (command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return command{}, false
	}
	cmd := r.queue[0]
	r.queue = r.queue[1:]
	return cmd, true
}

// spawn starts a pprof-labeled goroutine so the two contexts are
// distinguishable in stack dumps.
func spawn(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	labels := pprof.Labels("runner", name)
	wg.Add(1)
	go pprof.Do(ctx, labels, func(ctx context.Context) {
		defer wg.Done()
		fn(ctx)
	})
}

// Run services the transport loop and drains the command queue until the
// queue empties, a command fails, or ctx is canceled. It returns the first
// command error; queued cleanup runs in all cases.
func (r *Runner) Run(ctx context.Context) error {
	defer r.runCleanups()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// External interruption: set the shared flag and ask the loop to
	// return. The drain runner notices the flag before its next command;
	// a blocked tracker wait notices it within one poll interval.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.stop.Store(true)
			r.loop.StopLoop()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	var wg sync.WaitGroup
	var cmdErr error

	spawn(ctx, "transport-loop", &wg, func(ctx context.Context) {
		if err := r.loop.RunLoop(); err != nil {
			r.log.WithError(err).Error("Transport loop failed")
		}
		// The loop ending for any reason ends the run.
		r.stop.Store(true)
	})

	spawn(ctx, "command-drain", &wg, func(ctx context.Context) {
		defer func() {
			r.stop.Store(true)
			r.loop.StopLoop()
		}()
		for {
			if r.stop.Load() || ctx.Err() != nil {
				return
			}
			cmd, ok := r.dequeue()
			if !ok {
				return
			}
			r.log.WithField("command", cmd.name).Debug("Executing command")
			if err := cmd.run(ctx); err != nil {
				r.log.WithFields(logrus.Fields{"command": cmd.name, "error": err}).Error("Command failed")
				cmdErr = err
				return
			}
		}
	})

	wg.Wait()
	return cmdErr
}

// runCleanups executes the cleanup queue exactly once, in enqueue order.
func (r *Runner) runCleanups() {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		cleanups := r.cleanups
		r.cleanups = nil
		r.mu.Unlock()

		for _, c := range cleanups {
			r.log.WithField("cleanup", c.name).Debug("Running cleanup")
			c.run()
		}
	})
}
