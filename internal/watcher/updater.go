// Package watcher keeps the index live: filesystem change events are
// debounced through an explicit state machine and flushed into
// incremental reindex runs without dropping concurrent read queries.
package watcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/halvard/othala/internal/indexer"
)

// State of the updater machine. A change event moves Idle into Debouncing
// (restarting the debounce timer); timer expiry with no further events
// starts Reindexing; a burst landing mid-reindex queues a follow-up cycle
// instead of being dropped.
type State int32

const (
	StateIdle State = iota
	StateDebouncing
	StateReindexing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateReindexing:
		return "reindexing"
	default:
		return "unknown"
	}
}

// Reindex runs one incremental cycle for the given changes.
type Reindex func(ctx context.Context, changes []indexer.Change) error

// Updater is the live update state machine. A single internal loop owns
// all mutable state; events arrive through a channel.
type Updater struct {
	debounce time.Duration
	reindex  Reindex
	logger   *slog.Logger

	events chan indexer.Change
	state  atomic.Int32
}

// NewUpdater creates an Updater. debounce must be positive.
func NewUpdater(debounce time.Duration, reindex Reindex, logger *slog.Logger) *Updater {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Updater{
		debounce: debounce,
		reindex:  reindex,
		logger:   logger,
		events:   make(chan indexer.Change, 256),
	}
}

// Notify feeds one change event into the machine.
func (u *Updater) Notify(ch indexer.Change) {
	u.events <- ch
}

// State returns the current machine state.
func (u *Updater) State() State {
	return State(u.state.Load())
}

// Run processes events until ctx is cancelled. An in-flight reindex
// observes ctx and is abandoned on shutdown; its results are discarded by
// the store's transactional guarantees, never half-applied.
func (u *Updater) Run(ctx context.Context) error {
	pending := make(map[string]indexer.Op)
	queued := make(map[string]indexer.Op)
	doneCh := make(chan error, 1)

	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	startTimer := func() {
		stopTimer()
		timer = time.NewTimer(u.debounce)
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			u.state.Store(int32(StateIdle))
			u.logger.Info("live updater stopped")
			return nil

		case ch := <-u.events:
			if u.State() == StateReindexing {
				coalesce(queued, ch)
				continue
			}
			coalesce(pending, ch)
			if len(pending) > 0 {
				u.state.Store(int32(StateDebouncing))
				startTimer()
			} else {
				// Events cancelled each other out (create then delete).
				u.state.Store(int32(StateIdle))
				stopTimer()
			}

		case <-timerC:
			timer = nil
			timerC = nil
			batch := drain(pending)
			if len(batch) == 0 {
				u.state.Store(int32(StateIdle))
				continue
			}
			u.state.Store(int32(StateReindexing))
			go func() {
				doneCh <- u.reindex(ctx, batch)
			}()

		case err := <-doneCh:
			if err != nil && ctx.Err() == nil {
				u.logger.Error("incremental reindex failed", slog.String("error", err.Error()))
			}
			if len(queued) > 0 {
				// A burst arrived mid-reindex: run a follow-up cycle from
				// current filesystem state.
				for path, op := range queued {
					coalesce(pending, indexer.Change{Path: path, Op: op})
					delete(queued, path)
				}
				u.state.Store(int32(StateDebouncing))
				startTimer()
			} else {
				u.state.Store(int32(StateIdle))
			}
		}
	}
}

// coalesce merges a change into the pending set:
//
//	create + modify = create (file is still new)
//	create + delete = nothing (file never really existed)
//	modify + delete = delete
//	delete + create = modify (file was replaced)
func coalesce(pending map[string]indexer.Op, ch indexer.Change) {
	prev, ok := pending[ch.Path]
	if !ok {
		pending[ch.Path] = ch.Op
		return
	}
	switch prev {
	case indexer.OpCreate:
		switch ch.Op {
		case indexer.OpModify:
			pending[ch.Path] = indexer.OpCreate
		case indexer.OpDelete:
			delete(pending, ch.Path)
		default:
			pending[ch.Path] = ch.Op
		}
	case indexer.OpModify:
		pending[ch.Path] = ch.Op
	case indexer.OpDelete:
		if ch.Op == indexer.OpCreate {
			pending[ch.Path] = indexer.OpModify
		} else {
			pending[ch.Path] = ch.Op
		}
	}
}

func drain(pending map[string]indexer.Op) []indexer.Change {
	out := make([]indexer.Change, 0, len(pending))
	for path, op := range pending {
		out = append(out, indexer.Change{Path: path, Op: op})
		delete(pending, path)
	}
	return out
}
