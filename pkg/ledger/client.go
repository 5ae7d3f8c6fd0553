package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
)

const (
	pathSubmitAndWait   = "/v2/commands/submit-and-wait"
	pathActiveContracts = "/v2/state/active-contracts"
	pathLedgerEnd       = "/v2/state/ledger-end"
	pathPrepare         = "/v2/interactive-submission/prepare"
	pathExecute         = "/v2/interactive-submission/execute"
)

// ClientConfig carries constructor inputs. The client is built once in the
// host process and injected; there is no lazy first-call initialization.
type ClientConfig struct {
	BaseURL     string
	Tokens      TokenSource
	HTTPTimeout time.Duration
}

// Client talks to the ledger command API. Safe for concurrent use; the
// acting-party session discipline is enforced by the session serializer, not
// here.
type Client struct {
	base   string
	httpc  *http.Client
	tokens TokenSource
	log    *zap.SugaredLogger

	ready atomic.Bool
}

func NewClient(cfg ClientConfig, log *zap.SugaredLogger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticTokenSource("")
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		httpc:  &http.Client{Timeout: timeout},
		tokens: tokens,
		log:    log,
	}
}

// Ready reports whether WaitReady has seen the ledger respond.
func (c *Client) Ready() bool { return c.ready.Load() }

// WaitReady polls the ledger-end endpoint under exponential backoff until the
// ledger answers or ctx expires, then flips the readiness flag.
func (c *Client) WaitReady(ctx context.Context) error {
	op := func() (int64, error) {
		offset, err := c.LedgerEnd(ctx)
		if err != nil {
			c.log.Warnw("ledger_not_ready", "err", err)
			return 0, err
		}
		return offset, nil
	}
	offset, err := backoff.Retry(ctx, op, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return fmt.Errorf("ledger readiness: %w", err)
	}
	c.ready.Store(true)
	c.log.Infow("ledger_ready", "ledger_end", offset)
	return nil
}

// SubmitAndWait submits a command batch and waits for the commit. The batch
// commits atomically: one ledger transaction carries every command.
func (c *Client) SubmitAndWait(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.CommandID == "" {
		req.CommandID = uuid.NewString()
	}
	var res SubmitResult
	if err := c.do(ctx, http.MethodPost, pathSubmitAndWait, req, &res); err != nil {
		return nil, err
	}
	c.log.Debugw("command_committed",
		"command_id", req.CommandID,
		"update_id", res.UpdateID,
		"act_as", req.ActAs)
	return &res, nil
}

// ActiveContracts queries the active contract set visible to party, filtered
// to one template.
func (c *Client) ActiveContracts(ctx context.Context, party Party, tpl TemplateID) ([]ActiveContract, error) {
	req := struct {
		Parties     []Party  `json:"parties"`
		TemplateIDs []string `json:"templateIds"`
	}{
		Parties:     []Party{party},
		TemplateIDs: []string{tpl.String()},
	}
	var res struct {
		Contracts []ActiveContract `json:"activeContracts"`
	}
	if err := c.do(ctx, http.MethodPost, pathActiveContracts, req, &res); err != nil {
		return nil, err
	}
	return res.Contracts, nil
}

// LedgerEnd returns the current ledger-end offset.
func (c *Client) LedgerEnd(ctx context.Context) (int64, error) {
	var res struct {
		Offset int64 `json:"offset"`
	}
	if err := c.do(ctx, http.MethodGet, pathLedgerEnd, nil, &res); err != nil {
		return 0, err
	}
	return res.Offset, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return errs.New(errs.CodeTransientSynchronizer,
			errs.WithMessage("bearer token acquisition failed"),
			errs.WithCause(err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.New(errs.CodeTransientSynchronizer,
			errs.WithMessage("ledger unreachable"),
			errs.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var le ledgerError
		if json.Unmarshal(raw, &le) != nil || (le.Code == "" && le.Cause == "") {
			le.Cause = string(raw)
		}
		e := errs.Classify(resp.StatusCode, le.Code, le.Cause, nil)
		c.log.Debugw("ledger_error",
			"path", path,
			"status", resp.StatusCode,
			"code", e.Code,
			"raw_code", le.Code)
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(errs.CodeUnknownLedger,
			errs.WithMessage("undecodable ledger response"),
			errs.WithCause(err))
	}
	return nil
}
