// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package zcparser

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/mempool"
	"github.com/dusk-network/zcwallet/pkg/txo"
)

var logger = log.WithField("prefix", "zcparser")

// Parser is C5: the sole goroutine that mutates the published
// MempoolSnapshot pointer. Every other subsystem only ever reads
// Builder.Current() or sends events through Events().
type Parser struct {
	builder  *mempool.Builder
	watchers *mempool.WatcherPool
	utxo     txo.ConfirmedLookup
	oracle   mempool.AddrInterestOracle
	tracker  *broadcast.Tracker
	notifier Notifier

	events chan Event
	done   chan struct{}

	// batch accumulates staged/dropped keys since the last commit, so a
	// group of ZCs offered together is committed and fanned out exactly
	// once (§4.5 "batching and commit boundary").
	batch batchState
}

type batchState struct {
	staged  []stagedEntry
	dropped []droppedEntry
}

type stagedEntry struct {
	key mempool.ZcKey
	req broadcast.RequestID // zero value if this ZC came from the node, not a client
}

type droppedEntry struct {
	key mempool.ZcKey
	tx  *txo.ParsedTx
	ft  *mempool.FilteredTx
}

func (b *batchState) empty() bool { return len(b.staged) == 0 && len(b.dropped) == 0 }

func (b *batchState) reset() { b.staged = nil; b.dropped = nil }

// New creates a Parser. watcherTimeout and mergeThreshold configure the
// underlying WatcherPool and Builder respectively.
func New(utxo txo.ConfirmedLookup, oracle mempool.AddrInterestOracle, tracker *broadcast.Tracker, notifier Notifier, watcherTimeout time.Duration, mergeThreshold int) *Parser {
	return &Parser{
		builder:  mempool.NewBuilder(mergeThreshold),
		watchers: mempool.NewWatcherPool(watcherTimeout),
		utxo:     utxo,
		oracle:   oracle,
		tracker:  tracker,
		notifier: notifier,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
}

// Current returns the most recently committed snapshot. Safe from any
// goroutine.
func (p *Parser) Current() *mempool.MempoolSnapshot { return p.builder.Current() }

// Events returns the channel callers send Event values on. The channel is
// buffered; callers should treat a full channel as backpressure, not block
// indefinitely on a wedged parser.
func (p *Parser) Events() chan<- Event { return p.events }

// Done is closed once the parser has processed Shutdown and exited Run.
func (p *Parser) Done() <-chan struct{} { return p.done }

// Run is the single-writer event loop. It blocks until a Shutdown event is
// processed. Callers run it in its own goroutine.
func (p *Parser) Run() {
	defer close(p.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-p.events:
			if p.handle(ev) {
				p.commitIfNeeded()
				return
			}

			p.drainPending()
			p.commitIfNeeded()
		case now := <-ticker.C:
			p.sweepWatchers(now)
		}
	}
}

// drainPending consumes every event already queued without blocking, so a
// batch pushed together (e.g. a client multi-push) lands in one commit.
func (p *Parser) drainPending() {
	for {
		select {
		case ev := <-p.events:
			if p.handle(ev) {
				p.commitIfNeeded()
				return
			}
		default:
			return
		}
	}
}

// handle applies one event and returns true if it was Shutdown.
func (p *Parser) handle(ev Event) bool {
	switch e := ev.(type) {
	case NewZcFromNode:
		p.intake(e.Raw, broadcast.RequestID(""))
	case NewZcFromClient:
		p.intake(e.Raw, e.RequestID)
	case NewBlock:
		p.handleNewBlock(e)
	case NodeGetDataMiss:
		logger.WithField("hash", e.Hash.String()).Debug("node getdata miss")
	case Shutdown:
		return true
	}

	return false
}

// intake runs the parse -> resolve -> filter -> stage pipeline for one raw
// transaction, per §4.5 events 1/2.
func (p *Parser) intake(raw []byte, req broadcast.RequestID) {
	tx, err := txo.Parse(raw)
	if err != nil {
		logger.WithError(err).Warn("malformed transaction bytes")
		return
	}

	if tx.State == txo.Invalid {
		logger.WithField("hash", tx.Hash.String()).Warn("rejected malformed transaction")
		return
	}

	if req != "" && p.tracker != nil && p.builder.Current().HasHash(tx.Hash) {
		p.tracker.AlreadyInMempool(req, tx.Hash)
		return
	}

	txo.Resolve(tx, p.utxo, p.builder.Working())

	ft := mempool.Filter(tx, p.oracle)

	switch tx.State {
	case txo.ResolvedButInputsMissing:
		key := p.builder.NextZcKey()
		p.watchers.Park(key, tx, ft, req, time.Now())

		logger.WithField("hash", tx.Hash.String()).Debug("parked: missing parent outpoint")

		return
	case txo.Resolved:
		p.stageOrReplace(tx, ft, req)
	default:
		logger.WithField("hash", tx.Hash.String()).Warn("resolution left tx invalid")
	}
}

// stageOrReplace stages tx, consulting the RBF policy on an outpoint
// conflict for client-submitted transactions (§4.5 event 2).
func (p *Parser) stageOrReplace(tx *txo.ParsedTx, ft *mempool.FilteredTx, req broadcast.RequestID) {
	key, err := p.builder.Stage(tx, ft)
	if err == nil {
		p.afterStage(key, tx, req)
		p.reviveWatchers(tx)

		return
	}

	stageErr, ok := err.(*mempool.StageError)
	if !ok || stageErr.Code != mempool.CodeOutpointConflict {
		logger.WithError(err).WithField("hash", tx.Hash.String()).Debug("stage failed")
		p.reject(req, tx.Hash, broadcast.ErrVerifyRejected.Error())

		return
	}

	if req == "" {
		// Node-originated conflicts are not subject to RBF restaging; only
		// an explicit client broadcast request triggers replacement.
		logger.WithField("hash", tx.Hash.String()).Debug("node tx conflicts with staged outpoint, dropped")
		return
	}

	incumbentKey, conflict := p.findConflict(tx)
	if !conflict {
		p.reject(req, tx.Hash, broadcast.ErrVerifyRejected.Error())
		return
	}

	incumbent, _ := p.builder.Working().TxByKey(incumbentKey)
	if incumbent == nil || mempool.EvaluateRBF(incumbent, tx) != mempool.RBFAccepted {
		p.reject(req, tx.Hash, broadcast.ErrVerifyRejected.Error())
		return
	}

	dropped := p.builder.Drop(incumbentKey)
	for k, d := range dropped {
		p.batch.dropped = append(p.batch.dropped, droppedEntry{key: k, tx: d.Tx, ft: d.Filtered})
	}

	key, err = p.builder.Stage(tx, ft)
	if err != nil {
		logger.WithError(err).WithField("hash", tx.Hash.String()).Error("restage after rbf drop failed")
		p.reject(req, tx.Hash, broadcast.ErrBroadcast.Error())

		return
	}

	p.afterStage(key, tx, req)
	p.reviveWatchers(tx)
}

func (p *Parser) afterStage(key mempool.ZcKey, tx *txo.ParsedTx, req broadcast.RequestID) {
	p.batch.staged = append(p.batch.staged, stagedEntry{key: key, req: req})
}

// reject records a terminal failure for hash under every request tracking
// it (the tracker's RejectedByNode is hash-scoped). It is a no-op for
// node-originated intake (req == "") or when no tracker is wired.
func (p *Parser) reject(req broadcast.RequestID, hash chainhash.Hash, code string) {
	if req == "" || p.tracker == nil {
		return
	}

	p.tracker.RejectedByNode(hash, code)
}

// findConflict locates the currently-staged ZC that owns one of tx's
// claimed outpoints.
func (p *Parser) findConflict(tx *txo.ParsedTx) (mempool.ZcKey, bool) {
	for _, in := range tx.Ins {
		if owner, ok := p.builder.Working().IsOutputSpentByZc(in.PrevOut); ok {
			return owner, true
		}
	}

	return mempool.ZcKey{}, false
}

// reviveWatchers re-resolves and restages every parked tx newly unblocked
// by the outpoints tx just staged.
func (p *Parser) reviveWatchers(tx *txo.ParsedTx) {
	for i := range tx.Outs {
		op := chainhash.OutPoint{Hash: tx.Hash, Index: uint32(i)}

		for _, entry := range p.watchers.NotifyArrived(op) {
			parked := entry.Tx()
			txo.Resolve(parked, p.utxo, p.builder.Working())

			if parked.State != txo.Resolved {
				// Still missing something else; park it again under its
				// already-reserved key.
				p.watchers.Park(entry.Key(), parked, entry.Filtered(), entry.Req(), entry.Arrival())
				continue
			}

			if _, err := p.builder.StageWithKey(entry.Key(), parked, entry.Filtered()); err == nil {
				p.afterStage(entry.Key(), parked, entry.Req())
				p.reviveWatchers(parked)
			}
		}
	}
}

// handleNewBlock implements §4.5 event 3: promote every confirmed txid out
// of the mempool, and on reorg re-feed orphaned transactions as fresh
// intake.
func (p *Parser) handleNewBlock(e NewBlock) {
	if !verifyBlockTxids(e.Txids, e.TxRoot) {
		logger.Error("block txids do not match claimed merkle root, refusing to promote")
		return
	}

	for _, h := range e.Txids {
		key, ok := p.builder.Current().KeyForHash(h)
		if !ok {
			continue
		}

		dropped := p.builder.Drop(key)
		for k, d := range dropped {
			p.batch.dropped = append(p.batch.dropped, droppedEntry{key: k, tx: d.Tx, ft: d.Filtered})
		}
	}

	for _, raw := range e.ReorgOrphanedRaw {
		p.intake(raw, "")
	}
}

// sweepWatchers evicts entries that have exceeded their watcher timeout
// (B3), surfacing them as client-visible failures via the broadcast
// tracker when they originated from a client request. Node-originated
// watches are simply dropped; there is nobody to notify.
func (p *Parser) sweepWatchers(now time.Time) {
	for _, entry := range p.watchers.Evict(now) {
		logger.WithField("hash", entry.Tx().Hash.String()).Debug("watcher entry evicted on timeout")

		if entry.Req() != "" && p.tracker != nil {
			p.tracker.Timeout(entry.Req(), entry.Tx().Hash)
		}
	}
}

// commitIfNeeded publishes the accumulated batch as a single commit and
// fans out notifications, if anything staged or dropped since the last
// commit.
func (p *Parser) commitIfNeeded() {
	if p.batch.empty() {
		return
	}

	snap := p.builder.Commit()
	seq := snap.Sequence()

	for _, s := range p.batch.staged {
		tx, _ := snap.TxByKey(s.key)
		ft, _ := snap.FilteredByKey(s.key)

		if tx != nil && p.tracker != nil && s.req != "" {
			p.tracker.SeenInSnapshot(tx.Hash)
		}

		if tx != nil {
			fanOut(p.notifier, seq, NotifyStaged, tx.Hash, ft)
		}
	}

	for _, d := range p.batch.dropped {
		fanOut(p.notifier, seq, NotifyInvalidated, d.tx.Hash, d.ft)
	}

	p.batch.reset()
}
