package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
	"github.com/finvault/cantor/pkg/session"
	"github.com/finvault/cantor/pkg/settle"
	"github.com/finvault/cantor/pkg/util"
)

// Gateway is the ledger surface the manager drives directly for create and
// cancel. Executions go through the settlement executor instead.
type Gateway interface {
	SubmitAndWait(ctx context.Context, req ledger.SubmitRequest) (*ledger.SubmitResult, error)
	ActiveContracts(ctx context.Context, party ledger.Party, tpl ledger.TemplateID) ([]ledger.ActiveContract, error)
}

// Settler runs the strategy walk for execution submissions.
type Settler interface {
	Settle(ctx context.Context, req settle.Request) (*settle.Result, error)
}

// Custody answers whether a party holds its own signing key.
type Custody interface {
	IsSelfCustodied(p ledger.Party) bool
}

// Signer is the interactive path for self-custodied senders.
type Signer interface {
	PrepareSignExecute(ctx context.Context, actors, signers []ledger.Party, commands []ledger.Command) (*ledger.SubmitResult, error)
}

// Templates carries the contract templates the manager operates on.
type Templates struct {
	Holding    ledger.TemplateID
	Allocation ledger.TemplateID
}

// Config is the static wiring of a manager.
type Config struct {
	Executor        ledger.Party
	Templates       Templates
	MinSettleWindow time.Duration
}

// Manager creates, executes and cancels allocations. All ledger submissions
// route through the party-context serializer so acting-party switches never
// interleave.
type Manager struct {
	gw      Gateway
	settler Settler
	ser     *session.Serializer
	custody Custody
	proto   Signer
	clock   util.Clock
	cfg     Config
	log     *zap.SugaredLogger
}

func NewManager(gw Gateway, settler Settler, ser *session.Serializer, custody Custody, proto Signer, clock util.Clock, cfg Config, log *zap.SugaredLogger) *Manager {
	return &Manager{
		gw:      gw,
		settler: settler,
		ser:     ser,
		custody: custody,
		proto:   proto,
		clock:   clock,
		cfg:     cfg,
		log:     log,
	}
}

// holdingPayload is the create argument of a holding contract.
type holdingPayload struct {
	Owner      ledger.Party `json:"owner"`
	Instrument string       `json:"instrument"`
	Amount     string       `json:"amount"`
	Locked     bool         `json:"locked"`
}

// Create locks amount of the sender's holdings under a new allocation
// contract. It fails with insufficient_funds when the sender's unlocked
// holdings in the instrument do not cover the amount, and rejects settlement
// windows shorter than the configured minimum before touching the ledger.
func (m *Manager) Create(ctx context.Context, sender ledger.Party, instrument string, amount decimal.Decimal, settleBefore time.Time) (*Allocation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("allocation amount must be positive, got %s", amount)
	}
	now := m.clock.Now()
	if settleBefore.Sub(now) < m.cfg.MinSettleWindow {
		return nil, fmt.Errorf("settlement window %s is below the %s minimum",
			settleBefore.Sub(now), m.cfg.MinSettleWindow)
	}

	holdings, err := m.coveringHoldings(ctx, sender, instrument, amount)
	if err != nil {
		return nil, err
	}

	allocateBefore := now.Add(settleBefore.Sub(now) / 2)
	cids := make([]string, len(holdings))
	for i, h := range holdings {
		cids[i] = string(h.ContractID)
	}
	cmd := ledger.NewCreate(m.cfg.Templates.Allocation, map[string]any{
		"sender":         string(sender),
		"executor":       string(m.cfg.Executor),
		"instrument":     instrument,
		"amount":         amount.String(),
		"holdingCids":    cids,
		"allocateBefore": allocateBefore.UTC().Format(time.RFC3339),
		"settleBefore":   settleBefore.UTC().Format(time.RFC3339),
	})

	res, err := m.submitAs(ctx, sender, []ledger.Command{cmd})
	if err != nil {
		return nil, fmt.Errorf("create allocation: %w", err)
	}
	ev, ok := res.FirstCreated(m.cfg.Templates.Allocation)
	if !ok {
		return nil, errs.New(errs.CodeUnknownLedger,
			errs.WithMessage("allocation create committed but no contract came back"))
	}

	a := &Allocation{
		ID:             uuid.NewString(),
		Sender:         sender,
		Executor:       m.cfg.Executor,
		Instrument:     instrument,
		Amount:         amount,
		AllocateBefore: allocateBefore,
		SettleBefore:   settleBefore,
		ref:            ev.ContractID,
		remaining:      amount,
		state:          StateLocked,
	}
	m.log.Infow("allocation_locked",
		"allocation_id", a.ID,
		"sender", sender,
		"instrument", instrument,
		"amount", amount.String(),
		"contract_id", ev.ContractID,
		"settle_before", settleBefore)
	return a, nil
}

// coveringHoldings queries the sender's active holdings and picks the
// smallest set covering the amount, largest first.
func (m *Manager) coveringHoldings(ctx context.Context, sender ledger.Party, instrument string, amount decimal.Decimal) ([]ledger.ActiveContract, error) {
	var acs []ledger.ActiveContract
	err := m.ser.Do(ctx, sender, func(ctx context.Context) error {
		var err error
		acs, err = m.gw.ActiveContracts(ctx, sender, m.cfg.Templates.Holding)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query holdings for %s: %w", sender, err)
	}

	type candidate struct {
		contract ledger.ActiveContract
		amount   decimal.Decimal
	}
	var candidates []candidate
	available := decimal.Zero
	for _, ac := range acs {
		var p holdingPayload
		if err := json.Unmarshal(ac.Payload, &p); err != nil {
			m.log.Warnw("holding_payload_undecodable", "contract_id", ac.ContractID, "err", err)
			continue
		}
		if p.Locked || p.Instrument != instrument || p.Owner != sender {
			continue
		}
		amt, err := decimal.NewFromString(p.Amount)
		if err != nil || amt.LessThanOrEqual(decimal.Zero) {
			continue
		}
		candidates = append(candidates, candidate{contract: ac, amount: amt})
		available = available.Add(amt)
	}
	if available.LessThan(amount) {
		return nil, errs.New(errs.CodeInsufficientFunds,
			errs.WithMessage(fmt.Sprintf("%s holds %s %s unlocked, needs %s",
				sender, available, instrument, amount)))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].amount.GreaterThan(candidates[j].amount)
	})
	var picked []ledger.ActiveContract
	covered := decimal.Zero
	for _, c := range candidates {
		picked = append(picked, c.contract)
		covered = covered.Add(c.amount)
		if covered.GreaterThanOrEqual(amount) {
			break
		}
	}
	return picked, nil
}

// Execute transfers amount from the allocation to the receiver. The
// allocation's mutex is held across the submission so a concurrent execute or
// cancel on the same allocation cannot interleave; exactly one wins.
//
// An expired allocation fails with stale before any network call and is never
// retried. A repeated call on an executed allocation is a no-op.
func (m *Manager) Execute(ctx context.Context, a *Allocation, receiver ledger.Party, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateExecuted:
		return nil
	case StateCancelled, StateExpired:
		return errs.New(errs.CodeStale,
			errs.WithMessage(fmt.Sprintf("allocation %s is %s", a.ID, a.state)))
	}
	if a.Expired(m.clock.Now()) {
		a.state = StateExpired
		m.log.Warnw("allocation_expired", "allocation_id", a.ID, "settle_before", a.SettleBefore)
		return errs.New(errs.CodeStale,
			errs.WithMessage(fmt.Sprintf("allocation %s expired at %s", a.ID, a.SettleBefore)))
	}
	if amount.GreaterThan(a.remaining) {
		return errs.New(errs.CodeInsufficientFunds,
			errs.WithMessage(fmt.Sprintf("allocation %s has %s remaining, execute wants %s",
				a.ID, a.remaining, amount)))
	}

	res, err := m.settler.Settle(ctx, settle.Request{
		Executor: m.cfg.Executor,
		Legs: []settle.Leg{{
			AllocationRef: a.ref,
			Sender:        a.Sender,
			Receiver:      receiver,
			Amount:        amount,
			Instrument:    a.Instrument,
		}},
	})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeStale {
			a.state = StateExpired
			m.log.Warnw("allocation_expired", "allocation_id", a.ID, "err", err)
		}
		return err
	}

	m.applyExecution(a, amount, res.Ledger)
	return nil
}

// ExecutePair settles two allocations against each other in one atomic
// submission: both legs commit or neither does. On a stale failure the
// affected allocations are flipped to expired so the caller can tell which
// side went bad by inspecting State afterwards.
func (m *Manager) ExecutePair(ctx context.Context, first, second *Allocation, firstAmount, secondAmount decimal.Decimal, firstReceiver, secondReceiver ledger.Party) error {
	a, b := first, second
	if a.ID > b.ID {
		a, b = b, a
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	now := m.clock.Now()
	for _, x := range []*Allocation{first, second} {
		if x.state.Terminal() {
			return errs.New(errs.CodeStale,
				errs.WithMessage(fmt.Sprintf("allocation %s is %s", x.ID, x.state)))
		}
		if x.Expired(now) {
			x.state = StateExpired
			m.log.Warnw("allocation_expired", "allocation_id", x.ID, "settle_before", x.SettleBefore)
			return errs.New(errs.CodeStale,
				errs.WithMessage(fmt.Sprintf("allocation %s expired at %s", x.ID, x.SettleBefore)))
		}
	}
	if firstAmount.GreaterThan(first.remaining) || secondAmount.GreaterThan(second.remaining) {
		return errs.New(errs.CodeInsufficientFunds,
			errs.WithMessage("execute amounts exceed locked remainders"))
	}

	res, err := m.settler.Settle(ctx, settle.Request{
		Executor: m.cfg.Executor,
		Legs: []settle.Leg{
			{AllocationRef: first.ref, Sender: first.Sender, Receiver: firstReceiver, Amount: firstAmount, Instrument: first.Instrument},
			{AllocationRef: second.ref, Sender: second.Sender, Receiver: secondReceiver, Amount: secondAmount, Instrument: second.Instrument},
		},
	})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeStale {
			m.markStaleLegs(err, now, first, second)
		}
		return err
	}

	m.applyExecution(first, firstAmount, res.Ledger)
	m.applyExecution(second, secondAmount, res.Ledger)
	return nil
}

// markStaleLegs decides which side of an atomic pair caused a stale failure.
// The error message usually names the archived contract; local expiry is the
// fallback, and if neither identifies a side both are marked so the caller
// re-locks rather than retrying a dead reference.
func (m *Manager) markStaleLegs(err error, now time.Time, allocs ...*Allocation) {
	msg := err.Error()
	var env *errs.E
	errors.As(err, &env)
	matched := false
	for _, a := range allocs {
		if strings.Contains(msg, string(a.ref)) || (env != nil && strings.Contains(env.RawCode+env.Message, string(a.ref))) {
			a.state = StateExpired
			matched = true
		}
	}
	if matched {
		return
	}
	for _, a := range allocs {
		if a.Expired(now) {
			a.state = StateExpired
			matched = true
		}
	}
	if !matched {
		for _, a := range allocs {
			a.state = StateExpired
		}
	}
	for _, a := range allocs {
		if a.state == StateExpired {
			m.log.Warnw("allocation_expired", "allocation_id", a.ID, "err", err)
		}
	}
}

// applyExecution rotates the contract reference after a partial execution or
// finishes the allocation after a full one. Callers hold a.mu.
func (m *Manager) applyExecution(a *Allocation, amount decimal.Decimal, res *ledger.SubmitResult) {
	a.remaining = a.remaining.Sub(amount)
	if a.remaining.GreaterThan(decimal.Zero) && res != nil {
		if ev, ok := remainderFor(res, m.cfg.Templates.Allocation, a); ok {
			a.ref = ev.ContractID
			m.log.Infow("allocation_rotated",
				"allocation_id", a.ID,
				"contract_id", ev.ContractID,
				"remaining", a.remaining.String())
			return
		}
		m.log.Warnw("allocation_remainder_missing", "allocation_id", a.ID)
	}
	a.state = StateExecuted
	a.remaining = decimal.Zero
	m.log.Infow("allocation_executed", "allocation_id", a.ID)
}

// remainderFor picks the remainder contract created for this allocation's
// sender out of a commit that may carry remainders for both legs.
func remainderFor(res *ledger.SubmitResult, tpl ledger.TemplateID, a *Allocation) (ledger.CreatedEvent, bool) {
	want := tpl.String()
	for _, ev := range res.Events {
		if ev.TemplateID != want {
			continue
		}
		var p struct {
			Sender     ledger.Party `json:"sender"`
			Instrument string       `json:"instrument"`
		}
		if err := json.Unmarshal(ev.CreateArgument, &p); err != nil {
			continue
		}
		if p.Sender == a.Sender && p.Instrument == a.Instrument {
			return ev, true
		}
	}
	return ledger.CreatedEvent{}, false
}

// Cancel releases the lock and returns the funds to the sender. Cancelling an
// already-terminal allocation is a no-op; a stale failure means the contract
// is already gone (expired or consumed), which cancel also treats as done.
func (m *Manager) Cancel(ctx context.Context, a *Allocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Terminal() {
		return nil
	}
	if a.Expired(m.clock.Now()) {
		a.state = StateExpired
		return nil
	}

	cmd := ledger.NewExercise(m.cfg.Templates.Allocation, a.ref, "Allocation_Cancel", map[string]any{})
	_, err := m.submitAs(ctx, a.Sender, []ledger.Command{cmd})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeStale {
			a.state = StateExpired
			m.log.Infow("allocation_cancel_already_gone", "allocation_id", a.ID)
			return nil
		}
		return fmt.Errorf("cancel allocation %s: %w", a.ID, err)
	}
	a.state = StateCancelled
	m.log.Infow("allocation_cancelled", "allocation_id", a.ID)
	return nil
}

// submitAs routes one submission through the authorization path the sender's
// custody requires: interactive with the sender co-signing when
// self-custodied, a plain operator submission otherwise.
func (m *Manager) submitAs(ctx context.Context, sender ledger.Party, cmds []ledger.Command) (*ledger.SubmitResult, error) {
	var res *ledger.SubmitResult
	err := m.ser.Do(ctx, sender, func(ctx context.Context) error {
		var err error
		if m.custody.IsSelfCustodied(sender) {
			res, err = m.proto.PrepareSignExecute(ctx,
				[]ledger.Party{sender, m.cfg.Executor},
				[]ledger.Party{sender},
				cmds)
		} else {
			res, err = m.gw.SubmitAndWait(ctx, ledger.SubmitRequest{
				Commands: cmds,
				ActAs:    []ledger.Party{sender, m.cfg.Executor},
			})
		}
		return err
	})
	return res, err
}
