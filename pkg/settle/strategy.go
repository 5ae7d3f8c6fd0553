package settle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/finvault/cantor/pkg/ledger"
	"github.com/finvault/cantor/pkg/session"
)

// Leg is one allocation transfer: the locked funds referenced by
// AllocationRef move from Sender to Receiver when the choice is exercised.
type Leg struct {
	AllocationRef ledger.ContractID
	Sender        ledger.Party
	Receiver      ledger.Party
	Amount        decimal.Decimal
	Instrument    string
}

// Request is one settlement call. A matched pair carries two legs (payment
// and delivery) compiled into a single submission so the swap is atomic; a
// lone execute carries one.
type Request struct {
	Executor ledger.Party
	Legs     []Leg
}

// Parties returns the executor plus every sender and receiver, deduplicated,
// executor first.
func (r Request) Parties() []ledger.Party {
	seen := map[ledger.Party]bool{r.Executor: true}
	out := []ledger.Party{r.Executor}
	add := func(p ledger.Party) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, leg := range r.Legs {
		add(leg.Sender)
		add(leg.Receiver)
	}
	return out
}

// Senders returns the deduplicated leg senders.
func (r Request) Senders() []ledger.Party {
	seen := map[ledger.Party]bool{}
	var out []ledger.Party
	for _, leg := range r.Legs {
		if leg.Sender != "" && !seen[leg.Sender] {
			seen[leg.Sender] = true
			out = append(out, leg.Sender)
		}
	}
	return out
}

// Commands compiles the request into exercise commands on the allocation
// template, one per leg.
func (r Request) Commands(tpl ledger.TemplateID) []ledger.Command {
	cmds := make([]ledger.Command, 0, len(r.Legs))
	for _, leg := range r.Legs {
		cmds = append(cmds, ledger.NewExercise(tpl, leg.AllocationRef, "Allocation_ExecuteTransfer", map[string]any{
			"receiver": string(leg.Receiver),
			"amount":   leg.Amount.String(),
		}))
	}
	return cmds
}

// Gateway is the submit surface strategies need.
type Gateway interface {
	SubmitAndWait(ctx context.Context, req ledger.SubmitRequest) (*ledger.SubmitResult, error)
}

// Custody answers whether a party holds its own signing key.
type Custody interface {
	IsSelfCustodied(p ledger.Party) bool
	AnySelfCustodied(parties ...ledger.Party) bool
}

// Signer is the interactive signing protocol surface.
type Signer interface {
	PrepareSignExecute(ctx context.Context, actors, signers []ledger.Party, commands []ledger.Command) (*ledger.SubmitResult, error)
}

// Strategy is one authorization approach. The executor walks an ordered list
// of these, skipping inapplicable ones, until an attempt succeeds or a
// terminal classification stops the walk.
type Strategy interface {
	Name() string
	Applicable(req Request) bool
	Attempt(ctx context.Context, req Request) (*ledger.SubmitResult, error)
}

// OperatorOnly submits non-interactively with only the executor acting,
// relying on the consuming choice carrying forward authorization from the
// contract's other signatories. Fastest path; first in the list whenever the
// executor's key is platform-custodied.
type OperatorOnly struct {
	GW      Gateway
	Ser     *session.Serializer
	Custody Custody
	TPL     ledger.TemplateID
}

func (s *OperatorOnly) Name() string { return "operator_non_interactive" }

func (s *OperatorOnly) Applicable(req Request) bool {
	return !s.Custody.IsSelfCustodied(req.Executor)
}

func (s *OperatorOnly) Attempt(ctx context.Context, req Request) (*ledger.SubmitResult, error) {
	var res *ledger.SubmitResult
	err := s.Ser.Do(ctx, req.Executor, func(ctx context.Context) error {
		var err error
		res, err = s.GW.SubmitAndWait(ctx, ledger.SubmitRequest{
			Commands: req.Commands(s.TPL),
			ActAs:    []ledger.Party{req.Executor},
		})
		return err
	})
	return res, err
}

// Interactive routes through the interactive signing protocol for requests
// involving self-custodied parties. Broadened=false uses the minimal actor
// set (executor plus leg senders); Broadened=true widens to every involved
// party when the minimal set is rejected for authorization reasons.
type Interactive struct {
	Proto     Signer
	Ser       *session.Serializer
	Custody   Custody
	TPL       ledger.TemplateID
	Broadened bool
}

func (s *Interactive) Name() string {
	if s.Broadened {
		return "interactive_broadened"
	}
	return "interactive_minimal"
}

func (s *Interactive) Applicable(req Request) bool {
	return s.Custody.AnySelfCustodied(req.Parties()...)
}

func (s *Interactive) Attempt(ctx context.Context, req Request) (*ledger.SubmitResult, error) {
	var actors []ledger.Party
	if s.Broadened {
		actors = req.Parties()
	} else {
		actors = append([]ledger.Party{req.Executor}, req.Senders()...)
	}

	var signers []ledger.Party
	for _, p := range actors {
		if s.Custody.IsSelfCustodied(p) {
			signers = append(signers, p)
		}
	}

	var res *ledger.SubmitResult
	err := s.Ser.Do(ctx, req.Executor, func(ctx context.Context) error {
		var err error
		res, err = s.Proto.PrepareSignExecute(ctx, actors, signers, req.Commands(s.TPL))
		return err
	})
	return res, err
}

// BroadenedNonInteractive is the last resort: every involved party in the
// acting set, submitted non-interactively. Self-custodied parties cannot take
// part in non-interactive submission on this class of ledger, so this is only
// applicable when none is involved.
type BroadenedNonInteractive struct {
	GW      Gateway
	Ser     *session.Serializer
	Custody Custody
	TPL     ledger.TemplateID
}

func (s *BroadenedNonInteractive) Name() string { return "broadened_non_interactive" }

func (s *BroadenedNonInteractive) Applicable(req Request) bool {
	return !s.Custody.AnySelfCustodied(req.Parties()...)
}

func (s *BroadenedNonInteractive) Attempt(ctx context.Context, req Request) (*ledger.SubmitResult, error) {
	var res *ledger.SubmitResult
	err := s.Ser.Do(ctx, req.Executor, func(ctx context.Context) error {
		var err error
		res, err = s.GW.SubmitAndWait(ctx, ledger.SubmitRequest{
			Commands: req.Commands(s.TPL),
			ActAs:    req.Parties(),
		})
		return err
	})
	return res, err
}

// DefaultStrategies assembles the standard ordered list: cheapest
// authorization first, broadest last.
func DefaultStrategies(gw Gateway, proto Signer, ser *session.Serializer, custody Custody, tpl ledger.TemplateID) []Strategy {
	return []Strategy{
		&OperatorOnly{GW: gw, Ser: ser, Custody: custody, TPL: tpl},
		&Interactive{Proto: proto, Ser: ser, Custody: custody, TPL: tpl},
		&Interactive{Proto: proto, Ser: ser, Custody: custody, TPL: tpl, Broadened: true},
		&BroadenedNonInteractive{GW: gw, Ser: ser, Custody: custody, TPL: tpl},
	}
}
