// Package filters holds the follow-on work the block syncer runs for every
// mined transaction, in the order given by Default.
package filters

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pushchain/txledger/txledger/syncer"
)

// Names of the filters, used in logs and metrics
const (
	NameTx       = "tx"
	NameGas      = "gas"
	NameAccount  = "account"
	NameCallback = "callback"
)

// Default returns the filters in evaluation order, skipping nil entries of
// disabled filters
func Default(tx *TxFilter, gas *GasFilter, account *AccountFilter, callback *CallbackFilter) []syncer.Filter {
	out := make([]syncer.Filter, 0, 4)
	if tx != nil {
		out = append(out, tx)
	}
	if gas != nil {
		out = append(out, gas)
	}
	if account != nil {
		out = append(out, account)
	}
	if callback != nil {
		out = append(out, callback)
	}
	return out
}

// seen remembers recently handled event keys
type seen struct {
	cache *expirable.LRU[string, struct{}]
}

func newSeen(size int, ttl time.Duration) *seen {
	if size <= 0 {
		size = 4096
	}
	return &seen{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// first records key and reports whether it was not seen before
func (s *seen) first(key string) bool {
	if s.cache.Contains(key) {
		return false
	}
	s.cache.Add(key, struct{}{})
	return true
}

// forget drops key so a later scan handles the event again
func (s *seen) forget(key string) {
	s.cache.Remove(key)
}

func eventKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}
