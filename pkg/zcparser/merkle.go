// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package zcparser

import (
	"bytes"

	"github.com/dusk-network/dusk-crypto/merkletree"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

// hashPayload adapts chainhash.Hash to merkletree.Payload (CalculateHash /
// Equals), the same interface the teacher's block transactions satisfy for
// removeAccepted's tree build.
type hashPayload chainhash.Hash

func (h hashPayload) CalculateHash() ([]byte, error) {
	return h[:], nil
}

func (h hashPayload) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(hashPayload)
	if !ok {
		return false, nil
	}

	return bytes.Equal(h[:], o[:]), nil
}

// verifyBlockTxids rebuilds a merkle tree from txids and checks it against
// txRoot before the parser is allowed to promote/drop them as confirmed,
// exactly as the teacher's removeAccepted guards against a block whose
// claimed transaction set doesn't match its own header.
func verifyBlockTxids(txids []chainhash.Hash, txRoot chainhash.Hash) bool {
	if len(txids) == 0 {
		return true
	}

	payloads := make([]merkletree.Content, len(txids))
	for i, h := range txids {
		payloads[i] = hashPayload(h)
	}

	tree, err := merkletree.NewTree(payloads)
	if err != nil || tree == nil {
		return false
	}

	return bytes.Equal(tree.MerkleRoot, txRoot[:])
}
