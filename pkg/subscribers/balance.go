// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package subscribers

import (
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/mempool"
)

// LedgerEntry is one TxIoPair touching a watched address, surfaced to a
// client's wallet view.
type LedgerEntry struct {
	Key     mempool.TxIoKey
	Value   int64
	Spent   bool
	ScrAddr chainhash.ScrAddr
}

// Ledger derives the per-address view for addr from snap: every confirmed
// or mempool output touching addr that the mempool currently knows about,
// and whether it has been spent by a staged ZC.
func Ledger(snap *mempool.MempoolSnapshot, addr chainhash.ScrAddr) []LedgerEntry {
	keys := snap.TxioKeysForScrAddr(addr)
	out := make([]LedgerEntry, 0, len(keys))

	for _, k := range keys {
		pair, ok := snap.TxioByKey(k)
		if !ok {
			continue
		}

		out = append(out, LedgerEntry{
			Key:     k,
			Value:   pair.OutputValue,
			Spent:   pair.InputKey != nil,
			ScrAddr: pair.OutputScrAddr,
		})
	}

	return out
}

// Balance sums the unspent entries of Ledger(snap, addr) - the
// zero-confirmation-aware spendable total for that address.
func Balance(snap *mempool.MempoolSnapshot, addr chainhash.ScrAddr) int64 {
	var total int64

	for _, e := range Ledger(snap, addr) {
		if !e.Spent {
			total += e.Value
		}
	}

	return total
}
