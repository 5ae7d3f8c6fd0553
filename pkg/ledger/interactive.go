package ledger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// PreparedTransaction is the output of the prepare phase: the serialized
// unsigned transaction plus the canonical hash external parties sign.
// Both fields are base64-encoded by the API.
type PreparedTransaction struct {
	Transaction string `json:"preparedTransaction"`
	Hash        string `json:"preparedTransactionHash"`
}

// PartySignature is one external party's signature over the prepared
// transaction hash. SignedBy carries the fingerprint of the registered key so
// the ledger can pick the right key to validate against.
type PartySignature struct {
	Party     Party  `json:"party"`
	Format    string `json:"format"`
	Signature string `json:"signature"`
	SignedBy  string `json:"signedBy"`
	Scheme    string `json:"signingAlgorithmSpec"`
}

// PrepareSubmission runs the prepare phase of interactive submission: the
// unsigned command batch goes up, an unsigned transaction and its hash come
// back. Nothing commits yet.
func (c *Client) PrepareSubmission(ctx context.Context, actAs []Party, commands []Command) (*PreparedTransaction, error) {
	req := struct {
		Commands  []Command `json:"commands"`
		CommandID string    `json:"commandId"`
		ActAs     []Party   `json:"actAs"`
	}{
		Commands:  commands,
		CommandID: uuid.NewString(),
		ActAs:     actAs,
	}
	var res PreparedTransaction
	if err := c.do(ctx, http.MethodPost, pathPrepare, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExecuteSubmission runs the execute phase: the prepared transaction plus the
// collected signatures. The ledger validates each signature against the
// party's registered key and commits if authorization is satisfied.
func (c *Client) ExecuteSubmission(ctx context.Context, prepared *PreparedTransaction, sigs []PartySignature) (*SubmitResult, error) {
	req := struct {
		PreparedTransaction string           `json:"preparedTransaction"`
		Signatures          []PartySignature `json:"partySignatures"`
		SubmissionID        string           `json:"submissionId"`
	}{
		PreparedTransaction: prepared.Transaction,
		Signatures:          sigs,
		SubmissionID:        uuid.NewString(),
	}
	var res SubmitResult
	if err := c.do(ctx, http.MethodPost, pathExecute, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
