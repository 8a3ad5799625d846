// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package zcparser implements ZcParser (C5): the single-writer event-loop
// actor that owns the published MempoolSnapshot pointer.
package zcparser

import (
	"time"

	"github.com/dusk-network/zcwallet/pkg/broadcast"
	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

// Event is one input to the parser's event loop.
type Event interface{ isEvent() }

// NewZcFromNode is a transaction the node relayed unprompted.
type NewZcFromNode struct {
	Raw           []byte
	NodeTimestamp time.Time
}

func (NewZcFromNode) isEvent() {}

// NewZcFromClient is a transaction a wallet client asked to broadcast.
type NewZcFromClient struct {
	Raw       []byte
	RequestID broadcast.RequestID
}

func (NewZcFromClient) isEvent() {}

// NewBlock reports a newly accepted block. ReorgOrphanedRaw carries the raw
// bytes of every transaction that was in a now-orphaned block (nil outside
// a reorg); the parser re-feeds them as NewZcFromNode candidates.
type NewBlock struct {
	Txids            []chainhash.Hash
	TxRoot           chainhash.Hash
	ReorgOrphanedRaw [][]byte
	NodeTimestamp    time.Time
}

func (NewBlock) isEvent() {}

// NodeGetDataMiss reports that the node didn't have a tx we'd advertised.
type NodeGetDataMiss struct {
	Hash chainhash.Hash
}

func (NodeGetDataMiss) isEvent() {}

// Shutdown asks the parser to drop subscribers and release its snapshot.
type Shutdown struct{}

func (Shutdown) isEvent() {}
