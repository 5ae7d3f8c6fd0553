// Package signing implements the interactive submission protocol for
// self-custodied parties: prepare an unsigned transaction, sign its canonical
// hash with each required party's stored key, and submit the signed bundle.
package signing

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/keystore"
	"github.com/finvault/cantor/pkg/ledger"
)

// Ledger is the interactive submission surface of the gateway.
type Ledger interface {
	PrepareSubmission(ctx context.Context, actAs []ledger.Party, commands []ledger.Command) (*ledger.PreparedTransaction, error)
	ExecuteSubmission(ctx context.Context, prepared *ledger.PreparedTransaction, sigs []ledger.PartySignature) (*ledger.SubmitResult, error)
}

// KeyStore is the read-only key lookup surface this protocol needs.
type KeyStore interface {
	Has(party ledger.Party) bool
	Sign(party ledger.Party, hash []byte) (keystore.Signature, error)
}

// Protocol drives prepare → sign → execute. It never caches or logs raw key
// material; signing is delegated to the key store per call.
type Protocol struct {
	ledger Ledger
	keys   KeyStore
	log    *zap.SugaredLogger
}

func NewProtocol(l Ledger, keys KeyStore, log *zap.SugaredLogger) *Protocol {
	return &Protocol{ledger: l, keys: keys, log: log}
}

// PrepareSignExecute submits commands with the full actor set, collecting a
// signature from every party in signers. If any signer lacks a stored key the
// call fails with signing_key_missing before anything is submitted: no
// partial execution.
func (p *Protocol) PrepareSignExecute(ctx context.Context, actors, signers []ledger.Party, commands []ledger.Command) (*ledger.SubmitResult, error) {
	for _, signer := range signers {
		if !p.keys.Has(signer) {
			return nil, errs.New(errs.CodeSigningKeyMissing,
				errs.WithMessage(fmt.Sprintf("party %s must co-sign but has no stored key", signer)))
		}
	}

	prepared, err := p.ledger.PrepareSubmission(ctx, actors, commands)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	hash, err := base64.StdEncoding.DecodeString(prepared.Hash)
	if err != nil {
		return nil, errs.New(errs.CodeUnknownLedger,
			errs.WithMessage("undecodable prepared transaction hash"),
			errs.WithCause(err))
	}

	sigs := make([]ledger.PartySignature, 0, len(signers))
	for _, signer := range signers {
		sig, err := p.keys.Sign(signer, hash)
		if err != nil {
			return nil, fmt.Errorf("sign as %s: %w", signer, err)
		}
		sigs = append(sigs, ledger.PartySignature{
			Party:     signer,
			Format:    "SIGNATURE_FORMAT_RAW",
			Signature: base64.StdEncoding.EncodeToString(sig.Bytes),
			SignedBy:  sig.Fingerprint,
			Scheme:    algorithmSpec(sig.Scheme),
		})
	}

	res, err := p.ledger.ExecuteSubmission(ctx, prepared, sigs)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	p.log.Debugw("interactive_submission_committed",
		"actors", actors,
		"signers", len(sigs))
	return res, nil
}

func algorithmSpec(scheme keystore.Scheme) string {
	switch scheme {
	case keystore.SchemeSecp256k1:
		return "SIGNING_ALGORITHM_SPEC_EC_SECP256K1"
	default:
		return "SIGNING_ALGORITHM_SPEC_ED25519"
	}
}
