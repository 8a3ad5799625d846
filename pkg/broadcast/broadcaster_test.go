// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/broadcast/nodemock"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, tr *broadcast.Tracker, req broadcast.RequestID, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tr.Done(req) {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("request %s did not reach a terminal state within %s", req, timeout)
}

// waitState polls until h reaches want under req. AcceptedByNode is not a
// Terminal() state (the success terminal is SeenInSnapshot, set once a
// ZcParser commit actually lands the tx), so tests asserting on it can't use
// waitDone.
func waitState(t *testing.T, tr *broadcast.Tracker, req broadcast.RequestID, h chainhash.Hash, want broadcast.HashState, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if state, _, ok := tr.State(req, h); ok && state == want {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("request %s hash %s never reached state %s", req, h, want)
}

func TestBroadcasterP2PAcceptedThenAwaitTimesOutToRPC(t *testing.T) {
	node := nodemock.New()
	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, 10*time.Millisecond, time.Second, false)

	req := broadcast.RequestID("req-1")
	h := hashN(1)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: []byte("tx-bytes")}})

	// the node never sends inv/reject so the broadcaster's own timeout
	// falls back to RPC, which accepts.
	waitState(t, tr, req, h, broadcast.AcceptedByNode, time.Second)
}

func TestBroadcasterP2PFollowedByExplicitInv(t *testing.T) {
	node := nodemock.New()
	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, false)

	req := broadcast.RequestID("req-2")
	h := hashN(2)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: []byte("tx-bytes")}})
	b.OnInv(h)

	state, _, ok := tr.State(req, h)
	require.True(t, ok)
	assert.Equal(t, broadcast.AcceptedByNode, state)
}

func TestBroadcasterSkipHookFallsBackToRPC(t *testing.T) {
	node := nodemock.New()
	node.SkipZc(1)

	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, false)

	req := broadcast.RequestID("req-3")
	h := hashN(3)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: []byte("tx-bytes")}})
	waitState(t, tr, req, h, broadcast.AcceptedByNode, time.Second)
}

func TestBroadcasterRPCOnlyRejectsEmptyPayload(t *testing.T) {
	node := nodemock.New()
	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, true)

	req := broadcast.RequestID("req-4")
	h := hashN(4)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: nil}})
	waitDone(t, tr, req, time.Second)

	state, code, ok := tr.State(req, h)
	require.True(t, ok)
	assert.Equal(t, broadcast.RejectedByNode, state)
	assert.Equal(t, "bad-txns-empty", code)
}

func TestBroadcasterAlreadyInMempoolShortCircuits(t *testing.T) {
	node := nodemock.New()
	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, false)

	h := hashN(5)
	node.PresentZcHash(h)

	req := broadcast.RequestID("req-5")
	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: []byte("tx")}})

	state, _, ok := tr.State(req, h)
	require.True(t, ok)
	assert.Equal(t, broadcast.AlreadyInMempool, state)
	assert.True(t, tr.Done(req))
}

func TestBroadcasterBatchIsPerItemIndependent(t *testing.T) {
	node := nodemock.New()
	node.SkipZc(1) // only the first item's P2P attempt is swallowed

	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, false)

	req := broadcast.RequestID("req-6")
	h1, h2 := hashN(6), hashN(7)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{
		{Hash: h1, Raw: []byte("tx-1")},
		{Hash: h2, Raw: []byte("tx-2")},
	})

	waitState(t, tr, req, h1, broadcast.AcceptedByNode, time.Second)
	waitState(t, tr, req, h2, broadcast.AcceptedByNode, time.Second)
}

func TestBroadcasterStallPastContextDeadlineTimesOut(t *testing.T) {
	node := nodemock.New()

	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, false)
	b.StallNext(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := broadcast.RequestID("req-7")
	h := hashN(8)

	b.SubmitBatch(ctx, req, []broadcast.Item{{Hash: h, Raw: []byte("tx")}})

	waitDone(t, tr, req, time.Second)

	state, _, ok := tr.State(req, h)
	require.True(t, ok)
	assert.Equal(t, broadcast.Timeout, state)
}

func TestBroadcasterOnSubmitObservesRawBytes(t *testing.T) {
	node := nodemock.New()

	var seen []byte
	node.OnSubmit(func(raw []byte) { seen = raw })

	tr := broadcast.NewTracker()
	b := broadcast.NewBroadcaster(node, tr, node, time.Second, time.Second, true)

	req := broadcast.RequestID("req-8")
	h := hashN(9)

	b.SubmitBatch(context.Background(), req, []broadcast.Item{{Hash: h, Raw: []byte("raw-payload")}})

	assert.Equal(t, []byte("raw-payload"), seen)
}

func TestNodeMockDrainOnFreshNodeIsEmpty(t *testing.T) {
	node := nodemock.New()
	assert.Empty(t, node.Drain())
}
