// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package txo

import (
	"bytes"
	"encoding/binary"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

// BuildInput is one input spec for Build.
type BuildInput struct {
	PrevOut  chainhash.OutPoint
	Sequence uint32 // 0xffffffff for no RBF signal
}

// BuildOutput is one output spec for Build.
type BuildOutput struct {
	ScrAddr chainhash.ScrAddr
	Value   int64
}

// Build serializes a transaction in the wire layout Parse understands. It
// exists for tests and for NodeBroadcaster callers that assemble a raw
// transaction from wallet-level inputs/outputs; it is not a general Bitcoin
// transaction codec.
func Build(ins []BuildInput, outs []BuildOutput, lockTime uint32) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.LittleEndian, uint32(1)) // version

	_ = writeVarInt(buf, uint64(len(ins)))

	for _, in := range ins {
		buf.Write(in.PrevOut.Hash[:])
		_ = binary.Write(buf, binary.LittleEndian, in.PrevOut.Index)
		_ = binary.Write(buf, binary.LittleEndian, in.Sequence)
	}

	_ = writeVarInt(buf, uint64(len(outs)))

	for _, out := range outs {
		_ = binary.Write(buf, binary.LittleEndian, out.Value)
		_ = WriteVarBytes(buf, []byte(out.ScrAddr))
	}

	_ = binary.Write(buf, binary.LittleEndian, lockTime)

	return buf.Bytes()
}
