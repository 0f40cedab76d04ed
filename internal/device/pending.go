package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// trackerPollInterval is how often a blocked Wait rechecks its entry.
const trackerPollInterval = 50 * time.Millisecond

type writeOutcome int

const (
	outcomeUnknown writeOutcome = iota
	outcomeSuccess
	outcomeFailure
)

type pendingWrite struct {
	outcome writeOutcome
	err     error
}

// WriteTracker resolves asynchronous characteristic writes. Begin marks a
// write pending, the transport's completion callback resolves it from the
// loop context, and Wait blocks the drain context until resolution, timeout,
// external abort, or connection loss. Entries are keyed by characteristic
// uuid; the map is mutex-guarded because resolver and waiter run on
// different goroutines.
type WriteTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingWrite
	log     logrus.FieldLogger
}

// NewWriteTracker creates an empty tracker.
func NewWriteTracker(logger logrus.FieldLogger) *WriteTracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WriteTracker{
		pending: make(map[string]*pendingWrite),
		log:     logger,
	}
}

// Begin marks a write to uuid as pending with unknown outcome. It must be
// called before the write is issued so a fast completion cannot race past it.
func (t *WriteTracker) Begin(uuid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[uuid] = &pendingWrite{outcome: outcomeUnknown}
}

// Resolve records a write completion. It is called from the transport's
// loop context and never blocks. A completion for a uuid with no pending
// entry is logged and dropped.
func (t *WriteTracker) Resolve(uuid string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[uuid]
	if !ok {
		t.log.WithField("uuid", uuid).Debug("Write completion for untracked characteristic")
		return
	}
	if err != nil {
		entry.outcome = outcomeFailure
		entry.err = err
	} else {
		entry.outcome = outcomeSuccess
	}
}

func (t *WriteTracker) lookup(uuid string) (writeOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[uuid]
	if !ok {
		return outcomeUnknown, nil
	}
	return entry.outcome, entry.err
}

func (t *WriteTracker) drop(uuid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, uuid)
}

// Wait blocks until the pending write to uuid resolves. It polls at the
// tracker interval and returns:
//   - nil on confirmed success,
//   - the device-reported error (wrapped InvalidPin upstream) on failure,
//   - WriteTimeout once timeout elapses,
//   - WriteAborted as soon as abort is set,
//   - WriteDisconnected when connected() turns false.
func (t *WriteTracker) Wait(uuid string, timeout time.Duration, abort *atomic.Bool, connected func() bool) error {
	defer t.drop(uuid)

	deadline := time.Now().Add(timeout)
	for {
		outcome, err := t.lookup(uuid)
		switch outcome {
		case outcomeSuccess:
			return nil
		case outcomeFailure:
			if err == nil {
				err = fmt.Errorf("device rejected write to %s", uuid)
			}
			return err
		}

		if abort != nil && abort.Load() {
			return opError(WriteAborted, "write to %s aborted", uuid)
		}
		if connected != nil && !connected() {
			return opError(WriteDisconnected, "connection lost while writing %s", uuid)
		}
		if time.Now().After(deadline) {
			return opError(WriteTimeout, "no confirmation for %s within %v", uuid, timeout)
		}
		time.Sleep(trackerPollInterval)
	}
}
