// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package zcparser

import (
	"sync"
	"testing"
	"time"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
	"github.com/dusk-network/zcwallet/pkg/mempool"
	"github.com/dusk-network/zcwallet/pkg/txo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type utxoEntry struct {
	value   int64
	scrAddr chainhash.ScrAddr
	dbKey   []byte
}

type fakeUTXO map[chainhash.OutPoint]utxoEntry

func (f fakeUTXO) LookupUTXO(op chainhash.OutPoint) (int64, chainhash.ScrAddr, []byte, bool) {
	e, ok := f[op]
	if !ok {
		return 0, "", nil, false
	}

	return e.value, e.scrAddr, e.dbKey, true
}

// staticOracle reports the same fixed set of subscribers for every
// scrAddr it's seeded with.
type staticOracle map[chainhash.ScrAddr]map[mempool.SubscriberID]struct{}

func (o staticOracle) InterestedSubscribers(addr chainhash.ScrAddr) map[mempool.SubscriberID]struct{} {
	return o[addr]
}

// collector records every Notification handed to it, safe for concurrent
// use since the parser's Run goroutine is the only writer.
type collector struct {
	mu    sync.Mutex
	calls []Notification
	subs  []mempool.SubscriberID
}

func (c *collector) Notify(sub mempool.SubscriberID, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = append(c.subs, sub)
	c.calls = append(c.calls, n)
}

func (c *collector) snapshot() ([]mempool.SubscriberID, []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]mempool.SubscriberID(nil), c.subs...), append([]Notification(nil), c.calls...)
}

func fundingOutpoint(n byte) chainhash.OutPoint {
	var h chainhash.Hash
	h[0] = n

	return chainhash.OutPoint{Hash: h, Index: 0}
}

func runAndShutdown(t *testing.T, p *Parser, do func()) {
	t.Helper()

	go p.Run()
	do()
	p.Events() <- Shutdown{}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}
}

func TestParserStagesClientTxAndNotifiesWatchingSubscriber(t *testing.T) {
	funding := fundingOutpoint(1)
	utxo := fakeUTXO{funding: {value: 5000, scrAddr: "source", dbKey: []byte("k1")}}
	oracle := staticOracle{"dest": {7: {}}}
	tracker := broadcast.NewTracker()
	notifier := &collector{}

	p := New(utxo, oracle, tracker, notifier, time.Hour, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "dest", Value: 4900}}, 0)

	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	req := broadcast.RequestID("req-1")
	tracker.Submit(req, []chainhash.Hash{parsed.Hash})

	runAndShutdown(t, p, func() {
		p.Events() <- NewZcFromClient{Raw: raw, RequestID: req}
	})

	assert.True(t, p.Current().HasHash(parsed.Hash))

	subs, notes := notifier.snapshot()
	require.Len(t, notes, 1)
	assert.Equal(t, mempool.SubscriberID(7), subs[0])
	assert.Equal(t, NotifyStaged, notes[0].Kind)
	assert.Equal(t, parsed.Hash, notes[0].Hash)
	assert.Equal(t, uint64(1), notes[0].Sequence)

	state, _, ok := tracker.State(req, parsed.Hash)
	require.True(t, ok)
	assert.Equal(t, broadcast.SeenInSnapshot, state)
}

func TestParserClientTxAlreadyInMempoolShortCircuits(t *testing.T) {
	funding := fundingOutpoint(2)
	utxo := fakeUTXO{funding: {value: 1000, scrAddr: "a", dbKey: []byte("k")}}
	tracker := broadcast.NewTracker()

	p := New(utxo, staticOracle{}, tracker, nil, time.Hour, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 900}}, 0)
	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	req1 := broadcast.RequestID("first")
	req2 := broadcast.RequestID("second")
	tracker.Submit(req1, []chainhash.Hash{parsed.Hash})
	tracker.Submit(req2, []chainhash.Hash{parsed.Hash})

	go p.Run()
	p.Events() <- NewZcFromClient{Raw: raw, RequestID: req1}

	require.Eventually(t, func() bool { return p.Current().HasHash(parsed.Hash) }, time.Second, time.Millisecond)

	// a second request for the same raw tx, submitted only once the first
	// has actually been committed, must short-circuit rather than re-stage.
	p.Events() <- NewZcFromClient{Raw: raw, RequestID: req2}
	p.Events() <- Shutdown{}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}

	state, _, ok := tracker.State(req2, parsed.Hash)
	require.True(t, ok)
	assert.Equal(t, broadcast.AlreadyInMempool, state)
}

// TestParserParksThenRevivesOnParentArrival exercises the
// ResolvedButInputsMissing watcher path: a child referencing a parent not
// yet in the mempool parks, then gets revived and staged once the parent
// lands, within the same batch so both fan out in one commit.
func TestParserParksThenRevivesOnParentArrival(t *testing.T) {
	grandparentFunding := fundingOutpoint(3)
	utxo := fakeUTXO{grandparentFunding: {value: 5000, scrAddr: "g", dbKey: []byte("k")}}

	p := New(utxo, staticOracle{}, broadcast.NewTracker(), nil, time.Hour, 10)

	parentRaw := txo.Build([]txo.BuildInput{{PrevOut: grandparentFunding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "p-out", Value: 4900}}, 0)
	parentParsed, err := txo.Parse(parentRaw)
	require.NoError(t, err)

	childRaw := txo.Build([]txo.BuildInput{{PrevOut: chainhash.OutPoint{Hash: parentParsed.Hash, Index: 0}, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "c-out", Value: 4800}}, 0)
	childParsed, err := txo.Parse(childRaw)
	require.NoError(t, err)

	runAndShutdown(t, p, func() {
		// child arrives first: its parent isn't staged yet, so it parks.
		p.Events() <- NewZcFromNode{Raw: childRaw}
		p.Events() <- NewZcFromNode{Raw: parentRaw}
	})

	assert.True(t, p.Current().HasHash(parentParsed.Hash))
	assert.True(t, p.Current().HasHash(childParsed.Hash))

	childKey, ok := p.Current().KeyForHash(childParsed.Hash)
	require.True(t, ok)

	parentKey, ok := p.Current().KeyForHash(parentParsed.Hash)
	require.True(t, ok)

	closure := p.Current().Children(parentKey)
	assert.Contains(t, closure, childKey)
}

func TestParserRBFReplacesIncumbentOnConflict(t *testing.T) {
	funding := fundingOutpoint(4)
	utxo := fakeUTXO{funding: {value: 10000, scrAddr: "a", dbKey: []byte("k")}}
	tracker := broadcast.NewTracker()

	p := New(utxo, staticOracle{}, tracker, nil, time.Hour, 10)

	lowFeeRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 9900}}, 0) // fee 100, RBF opt-in (seq 0)
	lowFeeTx, err := txo.Parse(lowFeeRaw)
	require.NoError(t, err)

	highFeeRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0}},
		[]txo.BuildOutput{{ScrAddr: "c", Value: 9000}}, 0) // fee 1000, clears relay floor
	highFeeTx, err := txo.Parse(highFeeRaw)
	require.NoError(t, err)

	replaceReq := broadcast.RequestID("replace")
	tracker.Submit(replaceReq, []chainhash.Hash{highFeeTx.Hash})

	runAndShutdown(t, p, func() {
		p.Events() <- NewZcFromNode{Raw: lowFeeRaw}
		p.Events() <- NewZcFromClient{Raw: highFeeRaw, RequestID: replaceReq}
	})

	assert.False(t, p.Current().HasHash(lowFeeTx.Hash))
	assert.True(t, p.Current().HasHash(highFeeTx.Hash))

	state, _, ok := tracker.State(replaceReq, highFeeTx.Hash)
	require.True(t, ok)
	assert.Equal(t, broadcast.SeenInSnapshot, state)
}

func TestParserRBFReplacementNotifiesInvalidatedForIncumbent(t *testing.T) {
	funding := fundingOutpoint(9)
	utxo := fakeUTXO{funding: {value: 10000, scrAddr: "a", dbKey: []byte("k")}}
	oracle := staticOracle{"incumbent-out": {11: {}}}
	tracker := broadcast.NewTracker()
	notifier := &collector{}

	p := New(utxo, oracle, tracker, notifier, time.Hour, 10)

	lowFeeRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0}},
		[]txo.BuildOutput{{ScrAddr: "incumbent-out", Value: 9900}}, 0) // fee 100, RBF opt-in
	lowFeeTx, err := txo.Parse(lowFeeRaw)
	require.NoError(t, err)

	highFeeRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0}},
		[]txo.BuildOutput{{ScrAddr: "c", Value: 9000}}, 0) // fee 1000, clears relay floor
	highFeeTx, err := txo.Parse(highFeeRaw)
	require.NoError(t, err)

	replaceReq := broadcast.RequestID("replace-notify")
	tracker.Submit(replaceReq, []chainhash.Hash{highFeeTx.Hash})

	runAndShutdown(t, p, func() {
		p.Events() <- NewZcFromNode{Raw: lowFeeRaw}
		p.Events() <- NewZcFromClient{Raw: highFeeRaw, RequestID: replaceReq}
	})

	assert.False(t, p.Current().HasHash(lowFeeTx.Hash))
	assert.True(t, p.Current().HasHash(highFeeTx.Hash))

	subs, notes := notifier.snapshot()

	var sawInvalidated bool

	for i, n := range notes {
		if n.Kind == NotifyInvalidated {
			sawInvalidated = true
			assert.Equal(t, lowFeeTx.Hash, n.Hash)
			assert.Equal(t, mempool.SubscriberID(11), subs[i])
		}
	}

	assert.True(t, sawInvalidated, "expected an invalidated_zc notification for the RBF-dropped incumbent")
}

func TestParserRBFRejectsWithoutOptIn(t *testing.T) {
	funding := fundingOutpoint(5)
	utxo := fakeUTXO{funding: {value: 10000, scrAddr: "a", dbKey: []byte("k")}}
	tracker := broadcast.NewTracker()

	p := New(utxo, staticOracle{}, tracker, nil, time.Hour, 10)

	incumbentRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 9900}}, 0) // no RBF signal
	incumbentTx, err := txo.Parse(incumbentRaw)
	require.NoError(t, err)

	candidateRaw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "c", Value: 5000}}, 0)
	candidateTx, err := txo.Parse(candidateRaw)
	require.NoError(t, err)

	req := broadcast.RequestID("rejected-replace")
	tracker.Submit(req, []chainhash.Hash{candidateTx.Hash})

	runAndShutdown(t, p, func() {
		p.Events() <- NewZcFromNode{Raw: incumbentRaw}
		p.Events() <- NewZcFromClient{Raw: candidateRaw, RequestID: req}
	})

	assert.True(t, p.Current().HasHash(incumbentTx.Hash))
	assert.False(t, p.Current().HasHash(candidateTx.Hash))

	state, code, ok := tracker.State(req, candidateTx.Hash)
	require.True(t, ok)
	assert.Equal(t, broadcast.RejectedByNode, state)
	assert.Equal(t, broadcast.ErrVerifyRejected.Error(), code)
}

func TestParserNewBlockPromotesAndDropsFromMempool(t *testing.T) {
	funding := fundingOutpoint(6)
	utxo := fakeUTXO{funding: {value: 1000, scrAddr: "a", dbKey: []byte("k")}}

	p := New(utxo, staticOracle{}, broadcast.NewTracker(), nil, time.Hour, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 900}}, 0)
	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	go p.Run()
	p.Events() <- NewZcFromNode{Raw: raw}

	require.Eventually(t, func() bool { return p.Current().HasHash(parsed.Hash) }, time.Second, time.Millisecond)

	txids := []chainhash.Hash{parsed.Hash}
	root := merkleRootOf(t, txids)

	p.Events() <- NewBlock{Txids: txids, TxRoot: root}
	p.Events() <- Shutdown{}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}

	assert.False(t, p.Current().HasHash(parsed.Hash))
}

func TestParserNewBlockPromotionNotifiesInvalidatedSubscriber(t *testing.T) {
	funding := fundingOutpoint(10)
	utxo := fakeUTXO{funding: {value: 1000, scrAddr: "a", dbKey: []byte("k")}}
	oracle := staticOracle{"confirmed-out": {21: {}}}
	notifier := &collector{}

	p := New(utxo, oracle, broadcast.NewTracker(), notifier, time.Hour, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "confirmed-out", Value: 900}}, 0)
	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	go p.Run()
	p.Events() <- NewZcFromNode{Raw: raw}

	require.Eventually(t, func() bool { return p.Current().HasHash(parsed.Hash) }, time.Second, time.Millisecond)

	txids := []chainhash.Hash{parsed.Hash}
	root := merkleRootOf(t, txids)

	p.Events() <- NewBlock{Txids: txids, TxRoot: root}
	p.Events() <- Shutdown{}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}

	assert.False(t, p.Current().HasHash(parsed.Hash))

	subs, notes := notifier.snapshot()

	var sawInvalidated bool

	for i, n := range notes {
		if n.Kind == NotifyInvalidated {
			sawInvalidated = true
			assert.Equal(t, parsed.Hash, n.Hash)
			assert.Equal(t, mempool.SubscriberID(21), subs[i])
		}
	}

	assert.True(t, sawInvalidated, "expected an invalidated_zc notification for the block-promoted tx")
}

func TestParserNewBlockRefusesTamperedMerkleRoot(t *testing.T) {
	funding := fundingOutpoint(7)
	utxo := fakeUTXO{funding: {value: 1000, scrAddr: "a", dbKey: []byte("k")}}

	p := New(utxo, staticOracle{}, broadcast.NewTracker(), nil, time.Hour, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: funding, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 900}}, 0)
	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	go p.Run()
	p.Events() <- NewZcFromNode{Raw: raw}

	require.Eventually(t, func() bool { return p.Current().HasHash(parsed.Hash) }, time.Second, time.Millisecond)

	txids := []chainhash.Hash{parsed.Hash}
	badRoot := merkleRootOf(t, txids)
	badRoot[0] ^= 0xFF

	p.Events() <- NewBlock{Txids: txids, TxRoot: badRoot}
	p.Events() <- Shutdown{}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}

	// refused promotion: the tx must still be staged.
	assert.True(t, p.Current().HasHash(parsed.Hash))
}

func TestParserSweepWatchersReportsTimeoutToTracker(t *testing.T) {
	missing := fundingOutpoint(8)
	utxo := fakeUTXO{} // never resolves, so the tx parks forever
	tracker := broadcast.NewTracker()

	p := New(utxo, staticOracle{}, tracker, nil, time.Millisecond, 10)

	raw := txo.Build([]txo.BuildInput{{PrevOut: missing, Sequence: 0xffffffff}},
		[]txo.BuildOutput{{ScrAddr: "b", Value: 1}}, 0)
	parsed, err := txo.Parse(raw)
	require.NoError(t, err)

	req := broadcast.RequestID("parked-req")
	tracker.Submit(req, []chainhash.Hash{parsed.Hash})

	go p.Run()
	p.Events() <- NewZcFromClient{Raw: raw, RequestID: req}

	// the parser's watcher sweep runs off a fixed one-second ticker; give
	// it enough real time to fire at least once past the millisecond
	// watcher timeout configured above.
	time.Sleep(1100 * time.Millisecond)

	p.Events() <- Shutdown{}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("parser did not shut down")
	}

	state, _, ok := tracker.State(req, parsed.Hash)
	require.True(t, ok)
	assert.Equal(t, broadcast.Timeout, state)
}
