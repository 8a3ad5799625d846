// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool

import (
	"sort"
	"time"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	dbutils "github.com/dusk-network/zcwallet/pkg/database/utils"
	"github.com/dusk-network/zcwallet/pkg/txo"
)

// watcherEntry is one ParsedTx parked because Resolve left it
// ResolvedButInputsMissing, waiting on one or more still-absent parent
// outpoints.
type watcherEntry struct {
	key      ZcKey
	tx       *txo.ParsedTx
	ft       *FilteredTx
	req      broadcast.RequestID // zero value if this ZC came from the node, not a client
	missing  map[chainhash.OutPoint]struct{}
	arrival  time.Time
	deadline time.Time
}

// WatcherPool parks transactions whose parents haven't arrived yet and
// revives them as those outpoints get staged, per SPEC_FULL.md's B3
// boundary (eviction once the watch exceeds its timeout). It is owned by
// the same single-writer actor that owns the Builder; none of its methods
// are safe to call from multiple goroutines concurrently.
type WatcherPool struct {
	timeout time.Duration

	byKey     map[ZcKey]*watcherEntry
	byMissing map[chainhash.OutPoint]map[ZcKey]struct{}
}

// NewWatcherPool creates an empty pool with the given per-entry timeout.
func NewWatcherPool(timeout time.Duration) *WatcherPool {
	return &WatcherPool{
		timeout:   timeout,
		byKey:     make(map[ZcKey]*watcherEntry),
		byMissing: make(map[chainhash.OutPoint]map[ZcKey]struct{}),
	}
}

// missingOutpoints collects the PrevOuts of every input that Resolve could
// not fill in.
func missingOutpoints(tx *txo.ParsedTx) map[chainhash.OutPoint]struct{} {
	missing := make(map[chainhash.OutPoint]struct{})

	for _, in := range tx.Ins {
		if !in.Resolved() {
			missing[in.PrevOut] = struct{}{}
		}
	}

	return missing
}

// Park reserves key (already allocated via Builder.NextZcKey) for tx and
// registers it against every outpoint still missing. now is passed in
// rather than read from time.Now so callers control the clock in tests.
// req carries forward the originating broadcast request, if any, so a
// later revival or eviction can still be reported back to it.
func (w *WatcherPool) Park(key ZcKey, tx *txo.ParsedTx, ft *FilteredTx, req broadcast.RequestID, now time.Time) {
	missing := missingOutpoints(tx)

	entry := &watcherEntry{
		key:      key,
		tx:       tx,
		ft:       ft,
		req:      req,
		missing:  missing,
		arrival:  now,
		deadline: now.Add(w.timeout),
	}

	w.byKey[key] = entry

	for op := range missing {
		if w.byMissing[op] == nil {
			w.byMissing[op] = make(map[ZcKey]struct{})
		}

		w.byMissing[op][key] = struct{}{}
	}
}

// Len reports how many transactions are currently parked.
func (w *WatcherPool) Len() int { return len(w.byKey) }

// NotifyArrived marks op as now available (a ZC satisfying it was just
// staged) and returns every watcher entry that has no more missing
// outpoints, removing them from the pool. Callers re-run Resolve against
// those entries' ParsedTx before re-staging, since other outpoints may have
// resolved independently out from under the watcher bookkeeping.
func (w *WatcherPool) NotifyArrived(op chainhash.OutPoint) []*watcherEntry {
	waiting, ok := w.byMissing[op]
	if !ok {
		return nil
	}

	delete(w.byMissing, op)

	var ready []*watcherEntry

	for key := range waiting {
		entry, ok := w.byKey[key]
		if !ok {
			continue
		}

		delete(entry.missing, op)

		if len(entry.missing) == 0 {
			ready = append(ready, entry)
			w.remove(key)
		}
	}

	return ready
}

// Evict removes every entry whose deadline is at or before now, in arrival
// order, and returns them for the caller to surface as timeouts. Uses a
// binary search over a sorted-by-deadline view rather than a linear scan,
// mirroring the teacher's sorted-index sweep idiom.
func (w *WatcherPool) Evict(now time.Time) []*watcherEntry {
	if len(w.byKey) == 0 {
		return nil
	}

	entries := make([]*watcherEntry, 0, len(w.byKey))
	for _, e := range w.byKey {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].deadline.Before(entries[j].deadline) })

	cut, err := dbutils.Search(uint64(len(entries)), func(i uint64) (bool, error) {
		return entries[i].deadline.After(now), nil
	})
	if err != nil {
		// Search's only error path is the predicate's; ours never errors.
		panic(err)
	}

	expired := entries[:cut]

	for _, e := range expired {
		w.remove(e.key)
	}

	return expired
}

func (w *WatcherPool) remove(key ZcKey) {
	entry, ok := w.byKey[key]
	if !ok {
		return
	}

	for op := range entry.missing {
		set := w.byMissing[op]
		delete(set, key)

		if len(set) == 0 {
			delete(w.byMissing, op)
		}
	}

	delete(w.byKey, key)
}

// Tx exposes the parked ParsedTx for a revived/evicted entry.
func (e *watcherEntry) Tx() *txo.ParsedTx { return e.tx }

// Filtered exposes the parked FilteredTx for a revived/evicted entry.
func (e *watcherEntry) Filtered() *FilteredTx { return e.ft }

// Key exposes the pre-reserved ZcKey for a revived/evicted entry.
func (e *watcherEntry) Key() ZcKey { return e.key }

// Arrival exposes when the entry was first parked.
func (e *watcherEntry) Arrival() time.Time { return e.arrival }

// Req exposes the broadcast request this entry should be reported back to,
// empty if it was parked from node-originated intake.
func (e *watcherEntry) Req() broadcast.RequestID { return e.req }
