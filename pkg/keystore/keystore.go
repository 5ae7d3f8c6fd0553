// Package keystore holds private signing keys for self-custodied ("external")
// parties. Platform-custodied parties never appear here: their keys live with
// the ledger operator and their submissions go through the non-interactive
// path. Absence of a key for a party that must co-sign is terminal for any
// strategy requiring that signature.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/cockroachdb/pebble"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
)

// Scheme names a supported signature scheme.
type Scheme string

const (
	// SchemeEd25519 is the default scheme for externally registered keys.
	SchemeEd25519 Scheme = "ed25519"
	// SchemeSecp256k1 supports parties registered with EC keys
	// (65-byte [R || S || V] signatures over a 32-byte hash).
	SchemeSecp256k1 Scheme = "secp256k1"
)

// Key is one party's signing key. Material is the raw private key; it never
// leaves this package unsealed except through Sign.
type Key struct {
	Party       ledger.Party
	Scheme      Scheme
	Material    []byte
	Public      []byte
	Fingerprint string
}

// Signature is the output of Sign: the raw signature plus the fingerprint of
// the key that produced it, so the ledger can match it to the registered key.
type Signature struct {
	Bytes       []byte
	Fingerprint string
	Scheme      Scheme
}

// record is the sealed at-rest form.
type record struct {
	Party       ledger.Party `json:"party"`
	Scheme      Scheme       `json:"scheme"`
	Public      []byte       `json:"public"`
	Fingerprint string       `json:"fingerprint"`
	Sealed      []byte       `json:"sealed"` // nonce || box(material)
}

// Store is a pebble-backed key store. Key material is sealed at rest with
// NaCl secretbox under the configured 32-byte seal key.
type Store struct {
	db   *pebble.DB
	seal [32]byte
	log  *zap.SugaredLogger
}

// Open opens (or creates) the key database at path. sealKey must be exactly
// 32 bytes.
func Open(path string, sealKey []byte, log *zap.SugaredLogger) (*Store, error) {
	if len(sealKey) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(sealKey))
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	s := &Store{db: db, log: log}
	copy(s.seal[:], sealKey)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Has reports whether a signing key is stored for party. A party with a
// stored key is by definition self-custodied from this core's perspective.
func (s *Store) Has(party ledger.Party) bool {
	_, closer, err := s.db.Get(signingKeyKey(party))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// Get loads and unseals the key for party.
func (s *Store) Get(party ledger.Party) (*Key, error) {
	data, closer, err := s.db.Get(signingKeyKey(party))
	if err == pebble.ErrNotFound {
		return nil, errs.New(errs.CodeSigningKeyMissing,
			errs.WithMessage(fmt.Sprintf("no signing key stored for party %s", party)))
	}
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal signing key record: %w", err)
	}

	material, err := s.unseal(rec.Sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal key for %s: %w", party, err)
	}
	return &Key{
		Party:       rec.Party,
		Scheme:      rec.Scheme,
		Material:    material,
		Public:      rec.Public,
		Fingerprint: rec.Fingerprint,
	}, nil
}

// Put seals and persists key. Overwrites any previous key for the party.
func (s *Store) Put(key *Key) error {
	sealed, err := s.sealMaterial(key.Material)
	if err != nil {
		return err
	}
	rec := record{
		Party:       key.Party,
		Scheme:      key.Scheme,
		Public:      key.Public,
		Fingerprint: key.Fingerprint,
		Sealed:      sealed,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signing key record: %w", err)
	}
	if err := s.db.Set(signingKeyKey(key.Party), data, pebble.Sync); err != nil {
		return fmt.Errorf("persist signing key: %w", err)
	}
	s.log.Infow("signing_key_stored",
		"party", key.Party,
		"scheme", key.Scheme,
		"fingerprint", key.Fingerprint)
	return nil
}

// Generate creates, stores and returns a fresh key for party.
func (s *Store) Generate(party ledger.Party, scheme Scheme) (*Key, error) {
	var key *Key
	switch scheme {
	case SchemeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		key = &Key{
			Party:       party,
			Scheme:      SchemeEd25519,
			Material:    priv,
			Public:      pub,
			Fingerprint: Fingerprint(pub),
		}
	case SchemeSecp256k1:
		priv, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate secp256k1 key: %w", err)
		}
		pub := ethcrypto.FromECDSAPub(priv.Public().(*ecdsa.PublicKey))
		key = &Key{
			Party:       party,
			Scheme:      SchemeSecp256k1,
			Material:    ethcrypto.FromECDSA(priv),
			Public:      pub,
			Fingerprint: Fingerprint(pub),
		}
	default:
		return nil, fmt.Errorf("unsupported signing scheme %q", scheme)
	}

	if err := s.Put(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sign produces party's signature over hash. The unsealed material lives only
// for the duration of this call.
func (s *Store) Sign(party ledger.Party, hash []byte) (Signature, error) {
	key, err := s.Get(party)
	if err != nil {
		return Signature{}, err
	}

	switch key.Scheme {
	case SchemeEd25519:
		sig := ed25519.Sign(ed25519.PrivateKey(key.Material), hash)
		return Signature{Bytes: sig, Fingerprint: key.Fingerprint, Scheme: key.Scheme}, nil
	case SchemeSecp256k1:
		if len(hash) != 32 {
			return Signature{}, fmt.Errorf("secp256k1 requires a 32-byte hash, got %d", len(hash))
		}
		priv, err := ethcrypto.ToECDSA(key.Material)
		if err != nil {
			return Signature{}, fmt.Errorf("decode secp256k1 key: %w", err)
		}
		sig, err := ethcrypto.Sign(hash, priv)
		if err != nil {
			return Signature{}, fmt.Errorf("secp256k1 sign: %w", err)
		}
		return Signature{Bytes: sig, Fingerprint: key.Fingerprint, Scheme: key.Scheme}, nil
	default:
		return Signature{}, fmt.Errorf("unsupported signing scheme %q", key.Scheme)
	}
}

// Verify checks sig over hash against key's public material. Test and
// registration tooling helper; the ledger does its own verification.
func Verify(key *Key, hash []byte, sig []byte) bool {
	switch key.Scheme {
	case SchemeEd25519:
		return ed25519.Verify(ed25519.PublicKey(key.Public), hash, sig)
	case SchemeSecp256k1:
		if len(sig) < 64 {
			return false
		}
		// Drop the recovery byte; go-ethereum verifies over [R || S].
		return ethcrypto.VerifySignature(key.Public, hash, sig[:64])
	default:
		return false
	}
}

// Fingerprint derives the registered-key fingerprint: lowercase hex of the
// multihash-prefixed SHA-256 of the public key bytes.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return "1220" + hex.EncodeToString(sum[:])
}

func (s *Store) sealMaterial(material []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], material, &nonce, &s.seal), nil
}

func (s *Store) unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed material too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	material, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.seal)
	if !ok {
		return nil, fmt.Errorf("seal key mismatch")
	}
	return material, nil
}
