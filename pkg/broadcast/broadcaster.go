// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package broadcast

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

var logger = log.WithField("prefix", "broadcast")

// AckOrReject is the synchronous outcome NodeTransport.Submit reports for
// the P2P path's immediate handshake (node accepted the raw bytes for
// further processing) and for every RPC submission.
type AckOrReject struct {
	Accepted bool
	Code     string // populated when !Accepted
}

// NodeTransport is the narrow port NodeBroadcaster speaks to a Bitcoin node
// through, per SPEC_FULL.md §6 ("node ↔ service"). P2P delivers
// accept/reject asynchronously via inv/reject messages (observed through
// OnInv/OnReject below); RPC is synchronous.
type NodeTransport interface {
	SubmitP2P(ctx context.Context, raw []byte) error
	SubmitRPC(ctx context.Context, raw []byte) (AckOrReject, error)
}

// Errors surfaced to callers, per SPEC_FULL.md §6.
var (
	ErrAlreadyInMempool = errors.New("ZcBroadcast_AlreadyInMempool")
	ErrAlreadyInChain   = errors.New("ZcBroadcast_AlreadyInChain")
	ErrVerifyRejected   = errors.New("ZcBroadcast_VerifyRejected")
	ErrBroadcast        = errors.New("ZcBroadcast_Error")
)

// MempoolPresence lets the broadcaster consult the current snapshot before
// submitting, to synthesize AlreadyInMempool/AlreadyInChain per §4.4.
type MempoolPresence interface {
	HasHash(h chainhash.Hash) bool
	IsConfirmed(h chainhash.Hash) bool
}

// Broadcaster implements NodeBroadcaster (C6): submission to the P2P node
// with an RPC fallback, timeout handling, and the test-facing skip/stall
// hooks.
type Broadcaster struct {
	transport NodeTransport
	tracker   *Tracker
	presence  MempoolPresence

	invTimeout    time.Duration
	rejectTimeout time.Duration
	rpcOnly       bool

	skipNext  int
	stallNext time.Duration
}

// NewBroadcaster wires a Broadcaster over transport, recording outcomes in
// tracker and consulting presence for already-known hashes.
func NewBroadcaster(transport NodeTransport, tracker *Tracker, presence MempoolPresence, invTimeout, rejectTimeout time.Duration, rpcOnly bool) *Broadcaster {
	return &Broadcaster{
		transport:     transport,
		tracker:       tracker,
		presence:      presence,
		invTimeout:    invTimeout,
		rejectTimeout: rejectTimeout,
		rpcOnly:       rpcOnly,
	}
}

// SkipNext instructs the broadcaster to treat the next n P2P submissions as
// silently dropped by the node (forcing the RPC fallback path), for tests.
func (b *Broadcaster) SkipNext(n int) { b.skipNext = n }

// StallNext instructs the broadcaster to sleep d before issuing the next
// P2P submission, for tests exercising the timeout path.
func (b *Broadcaster) StallNext(d time.Duration) { b.stallNext = d }

// SubmitBatch issues req's transactions in order (§4.6 bulk submission):
// Ti's failure never blocks Tj's submission. Each raw/hash pair is
// independent; callers are expected to have already resolved dependency
// ordering (a child depending on a rejected parent will itself fail
// downstream at stage time, not here).
func (b *Broadcaster) SubmitBatch(ctx context.Context, req RequestID, items []Item) {
	hashes := make([]chainhash.Hash, len(items))
	for i, it := range items {
		hashes[i] = it.Hash
	}

	b.tracker.Submit(req, hashes)

	for _, it := range items {
		b.submitOne(ctx, req, it)
	}
}

// Item is one (hash, raw bytes) pair submitted as part of a batch.
type Item struct {
	Hash chainhash.Hash
	Raw  []byte
}

func (b *Broadcaster) submitOne(ctx context.Context, req RequestID, it Item) {
	log := logger.WithField("hash", it.Hash.String()).WithField("request", string(req))

	if b.presence != nil {
		if b.presence.IsConfirmed(it.Hash) {
			b.tracker.AlreadyInChain(req, it.Hash)
			log.Debug("already confirmed at submit time")

			return
		}

		if b.presence.HasHash(it.Hash) {
			b.tracker.AlreadyInMempool(req, it.Hash)
			log.Debug("already in mempool at submit time")

			return
		}
	}

	if b.rpcOnly {
		b.submitRPC(ctx, req, it, log)
		return
	}

	if b.skipNext > 0 {
		b.skipNext--

		log.Debug("skip hook armed, simulating node silence")

		b.submitRPC(ctx, req, it, log)

		return
	}

	if b.stallNext > 0 {
		d := b.stallNext
		b.stallNext = 0

		select {
		case <-time.After(d):
		case <-ctx.Done():
			b.tracker.Timeout(req, it.Hash)
			return
		}
	}

	if err := b.transport.SubmitP2P(ctx, it.Raw); err != nil {
		log.WithError(err).Debug("p2p submit failed, falling back to rpc")
		b.submitRPC(ctx, req, it, log)

		return
	}

	b.tracker.AcceptedByNode(it.Hash)

	// Wait out the inv/reject window; if neither arrives, fall back.
	// Production callers also feed OnInv/OnReject directly from the p2p
	// message loop, which will overwrite Submitted before this fires.
	go b.awaitNodeResponse(ctx, req, it, log)
}

func (b *Broadcaster) awaitNodeResponse(ctx context.Context, req RequestID, it Item, log *log.Entry) {
	timer := time.NewTimer(b.invTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		state, _, _ := b.tracker.State(req, it.Hash)
		if state == AcceptedByNode {
			log.Debug("no inv/reject within timeout, falling back to rpc")
			b.submitRPC(ctx, req, it, log)
		}
	case <-ctx.Done():
		b.tracker.Timeout(req, it.Hash)
	}
}

func (b *Broadcaster) submitRPC(ctx context.Context, req RequestID, it Item, log *log.Entry) {
	rpcCtx, cancel := context.WithTimeout(ctx, b.rejectTimeout)
	defer cancel()

	result, err := b.transport.SubmitRPC(rpcCtx, it.Raw)
	if err != nil {
		log.WithError(err).Error("rpc submit failed")
		b.tracker.RejectedByNode(it.Hash, ErrBroadcast.Error())

		return
	}

	if !result.Accepted {
		log.WithField("code", result.Code).Debug("rpc rejected")
		b.tracker.RejectedByNode(it.Hash, result.Code)

		return
	}

	b.tracker.AcceptedByNode(it.Hash)
}

// OnInv feeds an asynchronous P2P inv-for-hash observation into the
// tracker, called by the node message loop outside of SubmitBatch.
func (b *Broadcaster) OnInv(h chainhash.Hash) { b.tracker.AcceptedByNode(h) }

// OnReject feeds an asynchronous P2P reject observation into the tracker.
func (b *Broadcaster) OnReject(h chainhash.Hash, code string) { b.tracker.RejectedByNode(h, code) }

// OnGetDataMiss records that the node did not have h after it was
// advertised; per §4.5 event 4, this is bookkeeping only and does not by
// itself change h's tracked state (a later inv or reject still governs).
func (b *Broadcaster) OnGetDataMiss(h chainhash.Hash) {
	logger.WithField("hash", h.String()).Debug("node reported getdata miss")
}
