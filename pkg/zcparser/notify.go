// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package zcparser

import (
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/mempool"
)

// NotificationKind distinguishes a ZC entering the snapshot from one
// leaving it (either promoted to confirmed or invalidated by RBF/reorg).
type NotificationKind uint8

// Notification kinds.
const (
	NotifyStaged NotificationKind = iota
	NotifyInvalidated
)

// Notification is what the parser hands to a subscriber's queue after a
// commit, per SPEC_FULL.md §4.5.
type Notification struct {
	Kind     NotificationKind
	Hash     chainhash.Hash
	ScrAddrs []chainhash.ScrAddr
	Sequence uint64
}

// Notifier fans a Notification out to one subscriber. Implemented by the
// subscribers package's registry; kept as a narrow interface here to avoid
// a zcparser<->subscribers import cycle (subscribers needs mempool.ZcKey
// lookups of its own and may, in turn, want to reference parser types).
type Notifier interface {
	Notify(sub mempool.SubscriberID, n Notification)
}

// fanOut enqueues one Notification per subscriber flagged in ft.
func fanOut(notifier Notifier, seq uint64, kind NotificationKind, hash chainhash.Hash, ft *mempool.FilteredTx) {
	if notifier == nil || ft.IsEmpty() {
		return
	}

	scrAddrs := make([]chainhash.ScrAddr, 0, len(ft.PerScrAddr))
	for addr := range ft.PerScrAddr {
		scrAddrs = append(scrAddrs, addr)
	}

	n := Notification{Kind: kind, Hash: hash, ScrAddrs: scrAddrs, Sequence: seq}

	for sub := range ft.FlaggedSubscribers {
		notifier.Notify(sub, n)
	}
}
