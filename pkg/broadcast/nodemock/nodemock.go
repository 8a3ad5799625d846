// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package nodemock provides a test double for a Bitcoin node's P2P/RPC
// surface, exposing the behavior-simulation hooks named in SPEC_FULL.md §6:
// checkSigs, skipZc, stallNextZc, presentZcHash and pushZC. Production code
// never imports this package.
package nodemock

import (
	"context"
	"sync"
	"time"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/txo"
)

// Node is a single-process stand-in for a Bitcoin node, driven entirely by
// its hook methods; SubmitP2P/SubmitRPC never talk to a real network.
type Node struct {
	mu sync.Mutex

	checkSigs bool
	skip      int
	stall     time.Duration
	present   map[chainhash.Hash]struct{}

	// pushed collects txs injected via PushZC for a test to drain and feed
	// into a ZcParser as NewZcFromNode events.
	pushed []*txo.ParsedTx

	onSubmit func(raw []byte)
}

// New creates a Node with signature checking enabled and no armed hooks.
func New() *Node {
	return &Node{checkSigs: true, present: make(map[chainhash.Hash]struct{})}
}

// CheckSigs toggles whether SubmitRPC pretends to validate signatures; when
// false, every submission is accepted regardless of content.
func (n *Node) CheckSigs(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.checkSigs = enabled
}

// SkipZc arms the node to silently drop the next count P2P submissions, as
// if they vanished into the network.
func (n *Node) SkipZc(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.skip = count
}

// StallNextZc arms the node to delay its next response by d.
func (n *Node) StallNextZc(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stall = d
}

// PresentZcHash marks h as already known to the node, so HasHash reports it
// and a subsequent submission is recorded as AlreadyInMempool without a
// round trip.
func (n *Node) PresentZcHash(h chainhash.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.present[h] = struct{}{}
}

// PushZC queues txs as if the node had relayed them unprompted; a test
// drains them with Drain and feeds them into the system under test as
// node-originated announcements.
func (n *Node) PushZC(txs ...*txo.ParsedTx) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pushed = append(n.pushed, txs...)
}

// Drain returns and clears every tx queued via PushZC.
func (n *Node) Drain() []*txo.ParsedTx {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := n.pushed
	n.pushed = nil

	return out
}

// OnSubmit registers a callback invoked with every raw submission this node
// observes, letting a test assert on what was sent.
func (n *Node) OnSubmit(fn func(raw []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onSubmit = fn
}

func (n *Node) maybeStall(ctx context.Context) error {
	n.mu.Lock()
	d := n.stall
	n.stall = 0
	n.mu.Unlock()

	if d == 0 {
		return nil
	}

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitP2P implements broadcast.NodeTransport.
func (n *Node) SubmitP2P(ctx context.Context, raw []byte) error {
	if err := n.maybeStall(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	skip := n.skip > 0
	if skip {
		n.skip--
	}

	if fn := n.onSubmit; fn != nil {
		fn(raw)
	}
	n.mu.Unlock()

	if skip {
		return errNodeSilent
	}

	return nil
}

// SubmitRPC implements broadcast.NodeTransport.
func (n *Node) SubmitRPC(ctx context.Context, raw []byte) (broadcast.AckOrReject, error) {
	if err := n.maybeStall(ctx); err != nil {
		return broadcast.AckOrReject{}, err
	}

	n.mu.Lock()
	checkSigs := n.checkSigs
	if fn := n.onSubmit; fn != nil {
		fn(raw)
	}
	n.mu.Unlock()

	if checkSigs && len(raw) == 0 {
		return broadcast.AckOrReject{Accepted: false, Code: "bad-txns-empty"}, nil
	}

	return broadcast.AckOrReject{Accepted: true}, nil
}

// HasHash implements broadcast.MempoolPresence for tests that want
// PresentZcHash to also satisfy the already-known-at-submit-time path.
func (n *Node) HasHash(h chainhash.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.present[h]

	return ok
}

// IsConfirmed always reports false: this mock has no notion of a confirmed
// chain, only mempool presence.
func (n *Node) IsConfirmed(chainhash.Hash) bool { return false }

type nodeSilentError struct{}

func (nodeSilentError) Error() string { return "nodemock: submission dropped by skip hook" }

var errNodeSilent = nodeSilentError{}
