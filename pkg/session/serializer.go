// Package session serializes every operation that depends on the ledger
// client's stateful "current acting party". The underlying session exposes a
// single acting party at a time, so all session-dependent work is funneled
// through one FIFO mailbox: task N+1 never begins switching the party until
// task N has settled, success or failure. Unrelated work runs freely outside.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/ledger"
)

// Task is one unit of session-dependent work, run on the worker goroutine
// with the session switched to the requested party.
type Task func(ctx context.Context) error

type job struct {
	ctx   context.Context
	party ledger.Party
	run   Task
	done  chan error
}

// Serializer is the per-client mailbox. One worker drains jobs in admission
// order.
type Serializer struct {
	mailbox chan job
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	current ledger.Party

	stop   chan struct{}
	stopMu sync.Once
}

func New(log *zap.SugaredLogger) *Serializer {
	return &Serializer{
		mailbox: make(chan job, 64),
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches the worker. Call once; Close drains nothing and simply stops
// accepting work.
func (s *Serializer) Start() {
	go s.loop()
}

// Close stops the worker after the in-flight job settles.
func (s *Serializer) Close() {
	s.stopMu.Do(func() { close(s.stop) })
}

// Party returns the acting party of the most recent job. Introspection only.
func (s *Serializer) Party() ledger.Party {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Do enqueues task under party's session context and blocks until the task
// settles or ctx is done. A task whose context expires while still queued is
// failed without running, keeping the queue moving.
func (s *Serializer) Do(ctx context.Context, party ledger.Party, task Task) error {
	j := job{ctx: ctx, party: party, run: task, done: make(chan error, 1)}

	select {
	case s.mailbox <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return context.Canceled
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The worker still runs (or skips) the job; the caller stops waiting.
		return ctx.Err()
	}
}

func (s *Serializer) loop() {
	for {
		select {
		case <-s.stop:
			return
		case j := <-s.mailbox:
			s.execute(j)
		}
	}
}

func (s *Serializer) execute(j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}

	s.mu.Lock()
	if s.current != j.party {
		s.log.Debugw("acting_party_switch", "from", s.current, "to", j.party)
		s.current = j.party
	}
	s.mu.Unlock()

	j.done <- j.run(j.ctx)
}
