package keystore

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	seal := bytes.Repeat([]byte{7}, 32)
	s, err := Open(t.TempDir(), seal, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RejectsShortSealKey(t *testing.T) {
	if _, err := Open(t.TempDir(), []byte("short"), zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected error for short seal key")
	}
}

func TestGenerateSignVerify(t *testing.T) {
	s := testStore(t)
	hash := sha256.Sum256([]byte("prepared transaction"))

	for _, scheme := range []Scheme{SchemeEd25519, SchemeSecp256k1} {
		t.Run(string(scheme), func(t *testing.T) {
			party := "ext::" + string(scheme)
			key, err := s.Generate(ledger.Party(party), scheme)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if key.Fingerprint == "" || key.Fingerprint[:4] != "1220" {
				t.Errorf("fingerprint = %q", key.Fingerprint)
			}

			sig, err := s.Sign(ledger.Party(party), hash[:])
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if sig.Fingerprint != key.Fingerprint {
				t.Errorf("signature fingerprint = %q, want %q", sig.Fingerprint, key.Fingerprint)
			}
			if !Verify(key, hash[:], sig.Bytes) {
				t.Error("signature did not verify")
			}

			hash2 := sha256.Sum256([]byte("different payload"))
			if Verify(key, hash2[:], sig.Bytes) {
				t.Error("signature verified against wrong hash")
			}
		})
	}
}

func TestGetRoundTrip_SealedAtRest(t *testing.T) {
	s := testStore(t)
	key, err := s.Generate("ext::alice", SchemeEd25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	loaded, err := s.Get("ext::alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(loaded.Material, key.Material) {
		t.Error("material mismatch after unseal")
	}

	// Raw record on disk must not contain the plaintext material.
	raw, closer, err := s.db.Get(signingKeyKey("ext::alice"))
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	defer closer.Close()
	if bytes.Contains(raw, key.Material) {
		t.Error("plaintext key material found at rest")
	}
}

func TestMissingKeyIsTerminal(t *testing.T) {
	s := testStore(t)

	if s.Has("ext::ghost") {
		t.Error("Has reported a key that was never stored")
	}
	_, err := s.Get("ext::ghost")
	if errs.CodeOf(err) != errs.CodeSigningKeyMissing {
		t.Errorf("Get code = %v, want signing_key_missing", errs.CodeOf(err))
	}
	_, err = s.Sign("ext::ghost", make([]byte, 32))
	if errs.CodeOf(err) != errs.CodeSigningKeyMissing {
		t.Errorf("Sign code = %v, want signing_key_missing", errs.CodeOf(err))
	}
}

func TestWrongSealKeyFailsClosed(t *testing.T) {
	dir := t.TempDir()
	seal1 := bytes.Repeat([]byte{1}, 32)
	s1, err := Open(dir, seal1, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s1.Generate("ext::alice", SchemeEd25519); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s1.Close()

	seal2 := bytes.Repeat([]byte{2}, 32)
	s2, err := Open(dir, seal2, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get("ext::alice"); err == nil {
		t.Fatal("expected unseal failure under wrong seal key")
	}
}
