// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool

import (
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/txo"
)

// SubscriberID identifies a registered client (C8) within the interest
// oracle and the notification fan-out. It is opaque to the mempool package.
type SubscriberID uint64

// AddrInterestOracle answers "who is watching this address" for the
// confirmed-chain-adjacent client registry (C8). It is the external
// collaborator named addr_is_watched in SPEC_FULL.md §6.
type AddrInterestOracle interface {
	InterestedSubscribers(scrAddr chainhash.ScrAddr) map[SubscriberID]struct{}
}

// FilteredTx is the result of running Filter over a ParsedTx: which
// subscribers care about which of its addresses. It rides along with the ZC
// in the snapshot so the notification pass is O(touched subscribers), not
// O(mempool).
type FilteredTx struct {
	PerScrAddr         map[chainhash.ScrAddr]map[SubscriberID]struct{}
	FlaggedSubscribers map[SubscriberID]struct{}
}

// Filter implements C3: it aggregates, over every input's resolved scrAddr
// and every output's scrAddr, the set of subscribers interested in the
// transaction.
func Filter(tx *txo.ParsedTx, oracle AddrInterestOracle) *FilteredTx {
	ft := &FilteredTx{
		PerScrAddr:         make(map[chainhash.ScrAddr]map[SubscriberID]struct{}),
		FlaggedSubscribers: make(map[SubscriberID]struct{}),
	}

	addScrAddr := func(addr chainhash.ScrAddr) {
		if addr == "" {
			return
		}

		if _, seen := ft.PerScrAddr[addr]; seen {
			return
		}

		subs := oracle.InterestedSubscribers(addr)
		if len(subs) == 0 {
			return
		}

		ft.PerScrAddr[addr] = subs

		for id := range subs {
			ft.FlaggedSubscribers[id] = struct{}{}
		}
	}

	for _, in := range tx.Ins {
		addScrAddr(in.ScrAddr)
	}

	for _, out := range tx.Outs {
		addScrAddr(out.ScrAddr)
	}

	return ft
}

// IsEmpty reports whether no subscriber cares about this transaction at
// all, letting callers skip the notification bookkeeping entirely.
func (ft *FilteredTx) IsEmpty() bool {
	return ft == nil || len(ft.FlaggedSubscribers) == 0
}
