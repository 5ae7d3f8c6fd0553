// Package settle executes allocation transfers by walking an ordered list of
// authorization strategies and classifying each failure to decide: next
// strategy, retry later, or abort.
package settle

import (
	"context"

	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
)

// attempt is the ephemeral per-call record driving the strategy walk. Never
// persisted; it exists only for the duration of one Settle call.
type attempt struct {
	strategyIndex  int
	lastError      error
	classification errs.Code
}

// Result reports which strategy committed the settlement and what the ledger
// returned for it.
type Result struct {
	Strategy string
	Attempts int
	Ledger   *ledger.SubmitResult
}

// Executor walks the ordered strategy list.
type Executor struct {
	strategies []Strategy
	log        *zap.SugaredLogger
}

func NewExecutor(strategies []Strategy, log *zap.SugaredLogger) *Executor {
	return &Executor{strategies: strategies, log: log}
}

// Settle attempts the request against each applicable strategy in order.
//
//   - stale / signing_key_missing: terminal; stop immediately, no further
//     strategies.
//   - authorization_rejected: the next strategy may carry a sufficient actor
//     set, so continue.
//   - transient_synchronizer: surfaced retryable for the caller's next cycle;
//     not retried within this call.
//   - anything else: conservative stop.
//
// Exhausting the list surfaces the last error.
func (e *Executor) Settle(ctx context.Context, req Request) (*Result, error) {
	var last attempt
	tried := 0

	for i, st := range e.strategies {
		if !st.Applicable(req) {
			continue
		}
		tried++

		res, err := st.Attempt(ctx, req)
		if err == nil {
			e.log.Infow("settlement_committed",
				"strategy", st.Name(),
				"legs", len(req.Legs),
				"attempts", tried)
			return &Result{Strategy: st.Name(), Attempts: tried, Ledger: res}, nil
		}

		last = attempt{strategyIndex: i, lastError: err, classification: errs.CodeOf(err)}
		e.log.Warnw("settlement_attempt_failed",
			"strategy", st.Name(),
			"classification", last.classification,
			"err", err)

		switch last.classification {
		case errs.CodeAuthorizationRejected:
			continue
		default:
			// Terminal, retryable-by-caller, or unknown: stop here either way.
			return nil, last.lastError
		}
	}

	if last.lastError != nil {
		return nil, last.lastError
	}
	return nil, errs.New(errs.CodeUnknownLedger,
		errs.WithMessage("no applicable settlement strategy"))
}
