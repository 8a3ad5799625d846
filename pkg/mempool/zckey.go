// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool

import "encoding/binary"

// zcKeyPrefix is the fixed 2-byte marker every ZcKey starts with, per
// SPEC_FULL.md §3.
var zcKeyPrefix = [2]byte{0xFF, 0xFF}

// ZcKey is the 6-byte opaque identifier a MempoolSnapshot assigns to a ZC at
// staging time: 0xFFFF followed by a monotonic big-endian 32-bit counter.
type ZcKey [6]byte

// NewZcKey builds the ZcKey for a given counter value.
func NewZcKey(counter uint32) ZcKey {
	var k ZcKey

	copy(k[0:2], zcKeyPrefix[:])
	binary.BigEndian.PutUint32(k[2:6], counter)

	return k
}

// Counter extracts the monotonic counter portion of the key.
func (k ZcKey) Counter() uint32 {
	return binary.BigEndian.Uint32(k[2:6])
}

// IsZero reports whether k is the zero value (never a valid assigned key).
func (k ZcKey) IsZero() bool {
	return k == ZcKey{}
}

// TxIoKey identifies one side of a TxIoPair: either a confirmed-chain output
// (opaque DB key, per the external UTXO index) or a ZcKey+output-index pair
// inside the mempool.
type TxIoKey struct {
	Confirmed bool
	DBKey     string // valid iff Confirmed
	ZC        ZcKey  // valid iff !Confirmed
	Index     uint32
}

// ConfirmedTxIoKey builds a TxIoKey referencing a confirmed-chain output.
func ConfirmedTxIoKey(dbKey []byte) TxIoKey {
	return TxIoKey{Confirmed: true, DBKey: string(dbKey)}
}

// MempoolTxIoKey builds a TxIoKey referencing a mempool ZC's output.
func MempoolTxIoKey(zc ZcKey, index uint32) TxIoKey {
	return TxIoKey{ZC: zc, Index: index}
}
