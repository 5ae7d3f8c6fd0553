package keystore

import (
	"fmt"

	"github.com/finvault/cantor/pkg/ledger"
)

// Pebble key schema. Signing keys live in their own database, never mixed
// with market data:
//
//   sk:<party> → sealed key record

const prefixSigningKey = "sk:"

// signingKeyKey returns the key for a party's signing key.
// Format: "sk:{party}"
func signingKeyKey(party ledger.Party) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSigningKey, party))
}
