package execution

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type nonceLock struct {
	mu   sync.Mutex
	refs int
}

// nonceLocks holds one entry per account with a submission in flight.
// Entries are dropped when the last holder or waiter releases them, so
// the table never outgrows the number of concurrent submitters.
var nonceLocks = struct {
	sync.Mutex
	byKey map[string]*nonceLock
}{byKey: map[string]*nonceLock{}}

func nonceLockKey(chainID *big.Int, account common.Address) string {
	key := strings.ToLower(account.Hex())
	if chainID != nil {
		key = chainID.String() + ":" + key
	}
	return key
}

// acquireSignerNonceLock serializes submissions for one account on one chain
// so concurrent requests never read the same pending nonce.
func acquireSignerNonceLock(chainID *big.Int, account common.Address) func() {
	key := nonceLockKey(chainID, account)

	nonceLocks.Lock()
	lock, ok := nonceLocks.byKey[key]
	if !ok {
		lock = &nonceLock{}
		nonceLocks.byKey[key] = lock
	}
	lock.refs++
	nonceLocks.Unlock()

	lock.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			nonceLocks.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(nonceLocks.byKey, key)
			}
			nonceLocks.Unlock()
		})
	}
}
