package storage

import "fmt"

// Key schema for Pebble storage:
//
//   ord:<pair>:<orderID>              → Order
//   trade:<pair>:<timestamp>:<tradeID> → Trade
//
// Timestamps are zero-padded to 20 digits so trade keys sort
// lexicographically by time within a pair.
const (
	prefixOrder = "ord:"
	prefixTrade = "trade:"
)

func orderKey(pair, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, pair, orderID))
}

func orderPrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, pair))
}

func tradeKey(pair string, unixNano int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, pair, unixNano, tradeID))
}

func tradePrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, pair))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
