// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package chainhash defines the transaction-identity types shared by the
// mempool, broadcast tracker and framed-socket packages.
package chainhash

import (
	"encoding/hex"
	"errors"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// Hash is a double SHA-256 transaction or block identifier, stored
// internally in the byte order it is computed in (not the reversed,
// human-readable order used by block explorers).
type Hash [HashSize]byte

// String returns the reversed hex representation used for display.
func (h Hash) String() string {
	for i := 0; i < HashSize/2; i++ {
		h[i], h[HashSize-1-i] = h[HashSize-1-i], h[i]
	}

	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// NewHashFromBytes copies b into a new Hash. b must be exactly HashSize bytes.
func NewHashFromBytes(b []byte) (Hash, error) {
	var h Hash

	if len(b) != HashSize {
		return h, errors.New("chainhash: invalid hash length")
	}

	copy(h[:], b)

	return h, nil
}

// ScrAddr is the opaque scriptPubKey-derived address key used to index
// mempool interest. It is treated as an uninterpreted byte string: address
// encoding/decoding is the confirmed-chain index's concern, not ours.
type ScrAddr string

// OutPoint identifies the output being spent by a transaction input: a
// previous transaction hash plus its output index.
type OutPoint struct {
	Hash  Hash
	Index uint32
}

// String renders the OutPoint as "<hash>:<index>".
func (o OutPoint) String() string {
	return o.Hash.String() + ":" + itoa(o.Index)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}

	var buf [10]byte

	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return string(buf[i:])
}
