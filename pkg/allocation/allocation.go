// Package allocation manages ledger-side fund locks. An allocation reserves a
// seller's or buyer's holdings under a contract the venue may later execute
// (moving the funds to the counterparty) or cancel (returning them). Each
// ledger contract is consumed exactly once; a partial execution archives the
// old contract and creates a remainder, so the in-memory allocation rotates
// its contract reference and stays locked.
package allocation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvault/cantor/pkg/ledger"
)

type State int

const (
	StateNone State = iota
	StateLocked
	StateExecuted
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "LOCKED"
	case StateExecuted:
		return "EXECUTED"
	case StateCancelled:
		return "CANCELLED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "NONE"
	}
}

// Terminal reports whether no further ledger action may target the
// allocation.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateCancelled || s == StateExpired
}

// Allocation is the venue's view of one fund lock. The immutable fields are
// set at creation; contract reference, remaining amount and state change
// under the mutex as executions land.
type Allocation struct {
	ID             string
	Sender         ledger.Party
	Executor       ledger.Party
	Instrument     string
	Amount         decimal.Decimal
	AllocateBefore time.Time
	SettleBefore   time.Time

	mu        sync.Mutex
	ref       ledger.ContractID
	remaining decimal.Decimal
	state     State
}

// Ref returns the current ledger contract backing the lock.
func (a *Allocation) Ref() ledger.ContractID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ref
}

func (a *Allocation) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Remaining returns the locked amount not yet transferred.
func (a *Allocation) Remaining() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

// Expired reports whether the settlement window has closed as of now. It does
// not change state; the manager flips to StateExpired when an operation
// observes this.
func (a *Allocation) Expired(now time.Time) bool {
	return !now.Before(a.SettleBefore)
}
