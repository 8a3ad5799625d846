// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package broadcast implements BroadcastTracker (C4) and NodeBroadcaster
// (C6): correlating a client-issued broadcast request to per-hash P2P/RPC
// outcomes, and the submission path itself.
package broadcast

import (
	"sync"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

// HashState is where a single tx-hash sits within a request's lifecycle.
type HashState uint8

// Hash states, per SPEC_FULL.md §4.4.
const (
	Submitted HashState = iota
	AcceptedByNode
	SeenInSnapshot
	RejectedByNode
	AlreadyInMempool
	AlreadyInChain
	Timeout
)

// String implements fmt.Stringer.
func (s HashState) String() string {
	switch s {
	case Submitted:
		return "Submitted"
	case AcceptedByNode:
		return "AcceptedByNode"
	case SeenInSnapshot:
		return "SeenInSnapshot"
	case RejectedByNode:
		return "RejectedByNode"
	case AlreadyInMempool:
		return "AlreadyInMempool"
	case AlreadyInChain:
		return "AlreadyInChain"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s ends the hash's lifecycle within its request.
func (s HashState) Terminal() bool {
	switch s {
	case SeenInSnapshot, RejectedByNode, AlreadyInMempool, AlreadyInChain, Timeout:
		return true
	default:
		return false
	}
}

// RequestID is an opaque, caller-chosen identifier for one broadcast
// request. The tracker never manufactures one; cmd/zcwalletd substitutes a
// random one when a client's broadcast request carries an empty ID.
type RequestID string

// hashEntry is one (request, hash) pair's tracked state. Because multiple
// overlapping requests may reference the same hash (§4.4), state lives per
// (RequestID, hash), never per hash alone.
type hashEntry struct {
	state HashState
	code  string // set when state == RejectedByNode
}

// Tracker is C4: an independently-locked map from (RequestID, hash) to
// HashState, safe for concurrent use from the NodeBroadcaster's submission
// goroutines and the ZcParser's commit-notification path alike.
type Tracker struct {
	mu       sync.Mutex
	byReq    map[RequestID]map[chainhash.Hash]*hashEntry
	hashReqs map[chainhash.Hash]map[RequestID]struct{} // reverse index for commit fan-in
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byReq:    make(map[RequestID]map[chainhash.Hash]*hashEntry),
		hashReqs: make(map[chainhash.Hash]map[RequestID]struct{}),
	}
}

// Submit registers hashes as Submitted under req, creating req if new.
func (t *Tracker) Submit(req RequestID, hashes []chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, ok := t.byReq[req]
	if !ok {
		entries = make(map[chainhash.Hash]*hashEntry)
		t.byReq[req] = entries
	}

	for _, h := range hashes {
		entries[h] = &hashEntry{state: Submitted}

		if t.hashReqs[h] == nil {
			t.hashReqs[h] = make(map[RequestID]struct{})
		}

		t.hashReqs[h][req] = struct{}{}
	}
}

// transition sets hash's state under every request currently tracking it,
// unless that request's entry for hash is already terminal - a terminal
// state is never overwritten (e.g. a late reject after SeenInSnapshot is
// dropped).
func (t *Tracker) transition(h chainhash.Hash, state HashState, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for req := range t.hashReqs[h] {
		entries := t.byReq[req]
		if entries == nil {
			continue
		}

		e, ok := entries[h]
		if !ok || e.state.Terminal() {
			continue
		}

		e.state = state
		e.code = code
	}
}

// AcceptedByNode marks h accepted by the node's P2P inv or RPC submit ack.
func (t *Tracker) AcceptedByNode(h chainhash.Hash) { t.transition(h, AcceptedByNode, "") }

// RejectedByNode marks h terminally rejected, carrying the node's reject
// code.
func (t *Tracker) RejectedByNode(h chainhash.Hash, code string) {
	t.transition(h, RejectedByNode, code)
}

// SeenInSnapshot marks h as having reached the success terminal: it landed
// in a committed MempoolSnapshot.
func (t *Tracker) SeenInSnapshot(h chainhash.Hash) { t.transition(h, SeenInSnapshot, "") }

// AlreadyInMempool synthesizes the terminal state for a hash that was
// already staged at submit time, for one specific request only - other
// requests referencing the same hash are untouched, since they may have
// submitted before it entered the mempool and are still legitimately
// waiting on their own outcome.
func (t *Tracker) AlreadyInMempool(req RequestID, h chainhash.Hash) {
	t.setForRequest(req, h, AlreadyInMempool, "")
}

// AlreadyInChain synthesizes the terminal state for a hash already
// confirmed at submit time, scoped to req only.
func (t *Tracker) AlreadyInChain(req RequestID, h chainhash.Hash) {
	t.setForRequest(req, h, AlreadyInChain, "")
}

// Timeout marks h as having timed out under req specifically (other
// requests may still be waiting on a slower path, e.g. RPC fallback).
func (t *Tracker) Timeout(req RequestID, h chainhash.Hash) {
	t.setForRequest(req, h, Timeout, "")
}

func (t *Tracker) setForRequest(req RequestID, h chainhash.Hash, state HashState, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.byReq[req]
	if entries == nil {
		return
	}

	e, ok := entries[h]
	if !ok || e.state.Terminal() {
		return
	}

	e.state = state
	e.code = code
}

// State returns the current state (and reject code, if any) for hash under
// req.
func (t *Tracker) State(req RequestID, h chainhash.Hash) (HashState, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.byReq[req]
	if entries == nil {
		return 0, "", false
	}

	e, ok := entries[h]
	if !ok {
		return 0, "", false
	}

	return e.state, e.code, true
}

// Done reports whether every hash under req has reached a terminal state.
func (t *Tracker) Done(req RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.byReq[req]
	if entries == nil {
		return true
	}

	for _, e := range entries {
		if !e.state.Terminal() {
			return false
		}
	}

	return true
}

// Forget releases req's bookkeeping once the caller has consumed its final
// outcomes. It does not touch other requests that may still reference the
// same hashes.
func (t *Tracker) Forget(req RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, ok := t.byReq[req]
	if !ok {
		return
	}

	for h := range entries {
		if reqs := t.hashReqs[h]; reqs != nil {
			delete(reqs, req)

			if len(reqs) == 0 {
				delete(t.hashReqs, h)
			}
		}
	}

	delete(t.byReq, req)
}
