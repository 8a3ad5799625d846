// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package mempool implements the zero-confirmation engine: ParsedTx
// resolution's counterpart snapshot (C2 MempoolSnapshot), the interest
// filter (C3 Filter), the watcher pool for transactions with missing
// parents, and the replace-by-fee policy.
package mempool

import (
	"fmt"
	"sync/atomic"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/txo"
)

// TxIoPair describes the state of a single transaction output touched by the
// mempool: who created it (OutputKey), what it's worth, and - if it has been
// spent by a staged ZC - the input claiming it (InputKey is nil while the
// output is unspent).
type TxIoPair struct {
	OutputKey     TxIoKey
	OutputValue   int64
	OutputScrAddr chainhash.ScrAddr
	InputKey      *TxIoKey
}

// indexes is the mutable working set a Builder mutates directly during
// Stage/Drop and that gets frozen (by reference) into a MempoolSnapshot at
// Commit time.
type indexes struct {
	byKey          map[ZcKey]*txo.ParsedTx
	byHash         map[chainhash.Hash]ZcKey
	byScrAddr      map[chainhash.ScrAddr][]TxIoKey
	byOutpoint     map[chainhash.OutPoint]ZcKey
	txioPool       map[TxIoKey]*TxIoPair
	directChildren map[ZcKey]map[ZcKey]struct{}
	filtered       map[ZcKey]*FilteredTx
}

func newIndexes() *indexes {
	return &indexes{
		byKey:          make(map[ZcKey]*txo.ParsedTx),
		byHash:         make(map[chainhash.Hash]ZcKey),
		byScrAddr:      make(map[chainhash.ScrAddr][]TxIoKey),
		byOutpoint:     make(map[chainhash.OutPoint]ZcKey),
		txioPool:       make(map[TxIoKey]*TxIoPair),
		directChildren: make(map[ZcKey]map[ZcKey]struct{}),
		filtered:       make(map[ZcKey]*FilteredTx),
	}
}

// clone deep-copies idx so mutating the copy never retroactively changes a
// snapshot published from the original.
func (idx *indexes) clone() *indexes {
	out := newIndexes()

	for k, v := range idx.byKey {
		out.byKey[k] = v
	}

	for k, v := range idx.byHash {
		out.byHash[k] = v
	}

	for addr, keys := range idx.byScrAddr {
		cp := make([]TxIoKey, len(keys))
		copy(cp, keys)
		out.byScrAddr[addr] = cp
	}

	for k, v := range idx.byOutpoint {
		out.byOutpoint[k] = v
	}

	for k, v := range idx.txioPool {
		cp := *v
		out.txioPool[k] = &cp
	}

	for parent, children := range idx.directChildren {
		cp := make(map[ZcKey]struct{}, len(children))

		for c := range children {
			cp[c] = struct{}{}
		}

		out.directChildren[parent] = cp
	}

	for k, v := range idx.filtered {
		out.filtered[k] = v
	}

	return out
}

// MempoolSnapshot is the immutable, point-in-time view published by a
// Builder's Commit. Every read method is safe for concurrent use by any
// number of goroutines, since a published snapshot is never mutated.
type MempoolSnapshot struct {
	idx *indexes
	seq uint64
}

// Sequence returns the commit sequence number: monotonically increasing,
// starting at 1 for the first commit. 0 means "never committed" (the empty
// snapshot a fresh Builder starts with).
func (s *MempoolSnapshot) Sequence() uint64 { return s.seq }

// HasHash reports whether txHash is currently staged.
func (s *MempoolSnapshot) HasHash(txHash chainhash.Hash) bool {
	_, ok := s.idx.byHash[txHash]
	return ok
}

// KeyForHash returns the ZcKey assigned to txHash, if staged.
func (s *MempoolSnapshot) KeyForHash(txHash chainhash.Hash) (ZcKey, bool) {
	k, ok := s.idx.byHash[txHash]
	return k, ok
}

// TxByKey returns the ParsedTx staged under key.
func (s *MempoolSnapshot) TxByKey(key ZcKey) (*txo.ParsedTx, bool) {
	tx, ok := s.idx.byKey[key]
	return tx, ok
}

// FilteredByKey returns the Filter result computed when key was staged.
func (s *MempoolSnapshot) FilteredByKey(key ZcKey) (*FilteredTx, bool) {
	ft, ok := s.idx.filtered[key]
	return ft, ok
}

// TxioKeysForScrAddr returns every TxIoKey (confirmed or mempool) touching
// addr that the mempool currently knows about, in the order they were first
// observed.
func (s *MempoolSnapshot) TxioKeysForScrAddr(addr chainhash.ScrAddr) []TxIoKey {
	keys := s.idx.byScrAddr[addr]
	out := make([]TxIoKey, len(keys))
	copy(out, keys)

	return out
}

// TxioByKey returns the pair behind a TxIoKey.
func (s *MempoolSnapshot) TxioByKey(key TxIoKey) (*TxIoPair, bool) {
	pair, ok := s.idx.txioPool[key]
	return pair, ok
}

// IsOutputSpentByZc reports whether op is currently claimed by a staged ZC,
// and returns that ZC's key (I3).
func (s *MempoolSnapshot) IsOutputSpentByZc(op chainhash.OutPoint) (ZcKey, bool) {
	k, ok := s.idx.byOutpoint[op]
	return k, ok
}

// ResolveMempoolOutput implements txo.BuildingSnapshot: it lets ParsedTx
// resolution walk an input back to a still-unconfirmed parent output.
func (s *MempoolSnapshot) ResolveMempoolOutput(op chainhash.OutPoint) (int64, chainhash.ScrAddr, bool) {
	parentKey, ok := s.idx.byHash[op.Hash]
	if !ok {
		return 0, "", false
	}

	pair, ok := s.idx.txioPool[MempoolTxIoKey(parentKey, op.Index)]
	if !ok {
		return 0, "", false
	}

	return pair.OutputValue, pair.OutputScrAddr, true
}

// Children returns the reflexive-transitive closure of descendants of key:
// key itself plus every ZC that (directly or indirectly) spends one of its
// outputs. Computed on demand by BFS over directChildren (I5).
func (s *MempoolSnapshot) Children(key ZcKey) map[ZcKey]struct{} {
	return closureOf(s.idx, key)
}

func closureOf(idx *indexes, root ZcKey) map[ZcKey]struct{} {
	closure := map[ZcKey]struct{}{root: {}}
	queue := []ZcKey{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for child := range idx.directChildren[cur] {
			if _, seen := closure[child]; seen {
				continue
			}

			closure[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	return closure
}

// Builder is the single-writer working snapshot a ZcParser actor owns: the
// only goroutine that ever calls Stage/Drop/Commit. Reads of the previously
// published snapshot (via Current) are safe from any goroutine.
type Builder struct {
	idx *indexes

	topZcID uint32
	seq     uint64

	mergeThreshold int
	deltaCount     int
	mergeCount     int

	current atomic.Value // holds *MempoolSnapshot
}

// NewBuilder creates an empty Builder. mergeThreshold is POOL_MERGE_THRESHOLD
// from SPEC_FULL.md §4.2: the number of accumulated Stage/Drop deltas at
// which a Commit is counted as a merge in MergeCount. It is purely
// diagnostic and does not affect correctness - deep-copying on every Commit
// is what keeps published snapshots immutable regardless of batch size.
func NewBuilder(mergeThreshold int) *Builder {
	if mergeThreshold <= 0 {
		mergeThreshold = 1
	}

	b := &Builder{idx: newIndexes(), mergeThreshold: mergeThreshold}
	b.current.Store(&MempoolSnapshot{idx: newIndexes(), seq: 0})

	return b
}

// Current returns the most recently published snapshot. Safe for concurrent
// use by any number of reader goroutines.
func (b *Builder) Current() *MempoolSnapshot {
	return b.current.Load().(*MempoolSnapshot)
}

// Working exposes the Builder's live, not-yet-committed indexes through the
// same read surface as MempoolSnapshot. Single-writer callers (ZcParser) must
// use this rather than Current when resolving or conflict-checking a
// transaction against others staged earlier in the same uncommitted batch -
// Current lags until the next Commit, so a parent staged moments ago in the
// same batch would otherwise look unresolved to its own child.
func (b *Builder) Working() *MempoolSnapshot {
	return &MempoolSnapshot{idx: b.idx, seq: b.seq}
}

// NextZcKey allocates the next ZcKey without assigning it to anything; used
// by the watcher pool to reserve a key for a ResolvedButInputsMissing tx
// ahead of time, so that its eventual revival stages under the same key it
// was already referenced by (if it was ever referenced in a notification).
func (b *Builder) NextZcKey() ZcKey {
	b.topZcID++
	return NewZcKey(b.topZcID)
}

// MergeCount reports how many Commits found at least mergeThreshold
// Stage/Drop deltas accumulated since the previous such Commit, for
// operators/metrics; purely informational.
func (b *Builder) MergeCount() int { return b.mergeCount }

// Stage runs C2's staging algorithm for an already-Resolved ParsedTx,
// allocating a fresh ZcKey. See StageWithKey for the revival path that reuses
// a previously reserved key.
func (b *Builder) Stage(tx *txo.ParsedTx, ft *FilteredTx) (ZcKey, error) {
	return b.StageWithKey(b.NextZcKey(), tx, ft)
}

// StageWithKey runs C2's staging algorithm using an explicit key. Used
// directly by watcher-pool revival, where the key was already reserved (and
// possibly already surfaced to a caller) at intake time.
func (b *Builder) StageWithKey(key ZcKey, tx *txo.ParsedTx, ft *FilteredTx) (ZcKey, error) {
	if tx.State != txo.Resolved {
		return ZcKey{}, newStageError(CodeInputsMissing, "tx must be fully resolved before staging")
	}

	if _, already := b.idx.byHash[tx.Hash]; already {
		return ZcKey{}, newStageError(CodeAlreadyStaged, tx.Hash.String())
	}

	for _, in := range tx.Ins {
		if owner, claimed := b.idx.byOutpoint[in.PrevOut]; claimed {
			return ZcKey{}, newStageError(CodeOutpointConflict, fmt.Sprintf("outpoint already claimed by zc %d", owner.Counter()))
		}
	}

	b.idx.byKey[key] = tx
	b.idx.byHash[tx.Hash] = key

	if ft != nil {
		b.idx.filtered[key] = ft
	}

	for i, in := range tx.Ins {
		b.idx.byOutpoint[in.PrevOut] = key

		if in.DBKey != nil {
			confirmedKey := ConfirmedTxIoKey(in.DBKey)

			pair, exists := b.idx.txioPool[confirmedKey]
			if !exists {
				pair = &TxIoPair{OutputKey: confirmedKey, OutputValue: in.Value, OutputScrAddr: in.ScrAddr}
				b.idx.txioPool[confirmedKey] = pair
				b.appendScrAddrIndex(in.ScrAddr, confirmedKey)
			}

			spender := MempoolTxIoKey(key, uint32(i))
			pair.InputKey = &spender

			continue
		}

		parentKey, fromMempool := b.idx.byHash[in.PrevOut.Hash]
		if fromMempool {
			parentOutKey := MempoolTxIoKey(parentKey, in.PrevOut.Index)
			if pair, ok := b.idx.txioPool[parentOutKey]; ok {
				spender := MempoolTxIoKey(key, uint32(i))
				pair.InputKey = &spender
			}

			if b.idx.directChildren[parentKey] == nil {
				b.idx.directChildren[parentKey] = make(map[ZcKey]struct{})
			}

			b.idx.directChildren[parentKey][key] = struct{}{}
		}
	}

	for i, out := range tx.Outs {
		outKey := MempoolTxIoKey(key, uint32(i))
		b.idx.txioPool[outKey] = &TxIoPair{OutputKey: outKey, OutputValue: out.Value, OutputScrAddr: out.ScrAddr}
		b.appendScrAddrIndex(out.ScrAddr, outKey)
	}

	b.deltaCount++

	return key, nil
}

func (b *Builder) appendScrAddrIndex(addr chainhash.ScrAddr, key TxIoKey) {
	if addr == "" {
		return
	}

	b.idx.byScrAddr[addr] = append(b.idx.byScrAddr[addr], key)
}

// DroppedZc is one entry of a Drop's result: the ParsedTx removed and the
// FilteredTx it was staged with, captured before unstage tears down the
// index entry backing it.
type DroppedZc struct {
	Tx       *txo.ParsedTx
	Filtered *FilteredTx
}

// Drop removes key and every transitive descendant that spends one of its
// outputs (I5), freeing their claimed outpoints and TxIoPairs, and returns
// the full set removed (for notification fan-out), each paired with the
// FilteredTx it was staged under so a caller can still notify interested
// subscribers after the drop. topZcID is never decremented (I7): dropped
// keys are never reissued.
func (b *Builder) Drop(key ZcKey) map[ZcKey]DroppedZc {
	closure := closureOf(b.idx, key)

	removed := make(map[ZcKey]DroppedZc, len(closure))

	for k := range closure {
		if tx, ok := b.idx.byKey[k]; ok {
			removed[k] = DroppedZc{Tx: tx, Filtered: b.idx.filtered[k]}
		}
	}

	for k, d := range removed {
		b.unstage(k, d.Tx, closure)
	}

	b.deltaCount += len(removed)

	return removed
}

func (b *Builder) unstage(key ZcKey, tx *txo.ParsedTx, closure map[ZcKey]struct{}) {
	for i, in := range tx.Ins {
		if owner, ok := b.idx.byOutpoint[in.PrevOut]; ok && owner == key {
			delete(b.idx.byOutpoint, in.PrevOut)
		}

		if in.DBKey != nil {
			confirmedKey := ConfirmedTxIoKey(in.DBKey)
			if pair, ok := b.idx.txioPool[confirmedKey]; ok && pair.InputKey != nil {
				spender := MempoolTxIoKey(key, uint32(i))
				if *pair.InputKey == spender {
					delete(b.idx.txioPool, confirmedKey)
					b.removeScrAddrIndex(in.ScrAddr, confirmedKey)
				}
			}

			continue
		}

		parentKey, fromMempool := b.idx.byHash[in.PrevOut.Hash]
		if !fromMempool {
			continue
		}

		if _, parentAlsoDropped := closure[parentKey]; parentAlsoDropped {
			continue
		}

		parentOutKey := MempoolTxIoKey(parentKey, in.PrevOut.Index)
		if pair, ok := b.idx.txioPool[parentOutKey]; ok {
			pair.InputKey = nil
		}

		delete(b.idx.directChildren[parentKey], key)
	}

	for i, out := range tx.Outs {
		outKey := MempoolTxIoKey(key, uint32(i))
		delete(b.idx.txioPool, outKey)
		b.removeScrAddrIndex(out.ScrAddr, outKey)
	}

	delete(b.idx.directChildren, key)
	delete(b.idx.byKey, key)
	delete(b.idx.byHash, tx.Hash)
	delete(b.idx.filtered, key)
}

func (b *Builder) removeScrAddrIndex(addr chainhash.ScrAddr, key TxIoKey) {
	if addr == "" {
		return
	}

	keys := b.idx.byScrAddr[addr]

	for i, k := range keys {
		if k == key {
			b.idx.byScrAddr[addr] = append(keys[:i], keys[i+1:]...)
			break
		}
	}

	if len(b.idx.byScrAddr[addr]) == 0 {
		delete(b.idx.byScrAddr, addr)
	}
}

// Commit atomically publishes the current working set as the new snapshot
// (P7: readers see either the pre-commit or the post-commit view, never a
// partial one) and returns it, then deep-copies the indexes into a fresh
// working set so subsequent Stage/Drop calls never mutate what was just
// published.
func (b *Builder) Commit() *MempoolSnapshot {
	b.seq++

	published := &MempoolSnapshot{idx: b.idx, seq: b.seq}
	b.current.Store(published)

	b.idx = b.idx.clone()

	if b.deltaCount >= b.mergeThreshold {
		b.mergeCount++
		b.deltaCount = 0
	}

	return published
}
