// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package txo implements ParsedTx (C1): the canonical in-memory form of a
// transaction, its resolution state machine, and the plumbing that walks a
// raw transaction's inputs against the confirmed chain and the mempool
// snapshot being built.
package txo

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dusk-network/zcwallet/pkg/chainhash"
)

// ResolutionState is where a ParsedTx sits in the C1 state machine.
type ResolutionState uint8

// Resolution states, per SPEC_FULL.md 4.1.
const (
	Unresolved ResolutionState = iota
	Resolved
	ResolvedButInputsMissing
	Invalid
)

// String implements fmt.Stringer, mostly for log lines.
func (s ResolutionState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case ResolvedButInputsMissing:
		return "inputs-missing"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParsedTxIn is one transaction input: the OutPoint it spends, plus the
// value/scrAddr resolved for that OutPoint once resolution succeeds.
type ParsedTxIn struct {
	PrevOut chainhash.OutPoint

	// Resolved fields. Empty until Resolve succeeds for this input.
	Value        int64
	ScrAddr      chainhash.ScrAddr
	DBKey        []byte // set when resolved against the confirmed chain
	resolved     bool
	SignatureRBF bool // this input signals opt-in RBF (sequence < 0xfffffffe)
}

// Resolved reports whether this input's value/scrAddr have been filled in.
func (in *ParsedTxIn) Resolved() bool { return in.resolved }

// ParsedTxOut is one transaction output.
type ParsedTxOut struct {
	ScrAddr chainhash.ScrAddr
	Value   int64
}

// ParsedTx is the canonical in-memory transaction: its identity, its raw
// bytes, and the resolution state of its inputs.
type ParsedTx struct {
	Hash  chainhash.Hash
	Raw   []byte
	Ins   []ParsedTxIn
	Outs  []ParsedTxOut
	State ResolutionState

	// LockTime, mirrored from the wire encoding for diagnostics; not
	// interpreted by this package or by the RBF fee rule.
	LockTime uint32
}

// TotalOut returns the sum of every output's value.
func (p *ParsedTx) TotalOut() int64 {
	var total int64
	for _, o := range p.Outs {
		total += o.Value
	}

	return total
}

// TotalIn returns the sum of every resolved input's value. Callers must not
// rely on this before Resolve has reached Resolved.
func (p *ParsedTx) TotalIn() int64 {
	var total int64
	for _, in := range p.Ins {
		total += in.Value
	}

	return total
}

// Fee returns TotalIn - TotalOut. Only meaningful once State == Resolved.
func (p *ParsedTx) Fee() int64 {
	return p.TotalIn() - p.TotalOut()
}

// SignalsRBF reports whether any input opts in to replace-by-fee signaling,
// per BIP125: any nSequence strictly less than 0xfffffffe.
func (p *ParsedTx) SignalsRBF() bool {
	for _, in := range p.Ins {
		if in.SignatureRBF {
			return true
		}
	}

	return false
}

// wire layout used by Parse/Build. This is deliberately minimal: it is
// not a full Bitcoin transaction codec (on-wire protocol parsing beyond
// transaction identity is out of scope, see SPEC_FULL.md PURPOSE & SCOPE),
// it only carries what C1-C5 need: per-input OutPoint+sequence, per-output
// scrAddr+value.
//
//	4-byte version (ignored) | varint nIn | nIn * (32-byte prevhash, 4-byte
//	prevIndex, 4-byte sequence) | varint nOut | nOut * (8-byte value, varint
//	len, len bytes scrAddr) | 4-byte lockTime
var errMalformed = errors.New("txo: malformed transaction bytes")

// Parse decodes raw into a ParsedTx in state Unresolved: hash and per-input
// OutPoints/per-output (scrAddr,value) are filled; inputs' resolved
// value/scrAddr are left empty for Resolve to fill in.
func Parse(raw []byte) (*ParsedTx, error) {
	buf := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return invalidTx(raw), nil
	}

	nIn, err := readVarInt(buf)
	if err != nil {
		return invalidTx(raw), nil
	}

	tx := &ParsedTx{Raw: append([]byte(nil), raw...), State: Unresolved}

	tx.Ins = make([]ParsedTxIn, 0, nIn)

	for i := uint64(0); i < nIn; i++ {
		var prevHash chainhash.Hash
		if _, err := io.ReadFull(buf, prevHash[:]); err != nil {
			return invalidTx(raw), nil
		}

		var prevIdx, sequence uint32
		if err := binary.Read(buf, binary.LittleEndian, &prevIdx); err != nil {
			return invalidTx(raw), nil
		}

		if err := binary.Read(buf, binary.LittleEndian, &sequence); err != nil {
			return invalidTx(raw), nil
		}

		tx.Ins = append(tx.Ins, ParsedTxIn{
			PrevOut:      chainhash.OutPoint{Hash: prevHash, Index: prevIdx},
			SignatureRBF: sequence < 0xfffffffe,
		})
	}

	nOut, err := readVarInt(buf)
	if err != nil {
		return invalidTx(raw), nil
	}

	tx.Outs = make([]ParsedTxOut, 0, nOut)
	seenOutIdx := make(map[string]struct{}, nOut)

	for i := uint64(0); i < nOut; i++ {
		var value int64
		if err := binary.Read(buf, binary.LittleEndian, &value); err != nil {
			return invalidTx(raw), nil
		}

		scrAddr, err := readVarBytes(buf)
		if err != nil {
			return invalidTx(raw), nil
		}

		key := string(scrAddr) + ":" + fmt.Sprint(value)
		if _, dup := seenOutIdx[key]; dup {
			return invalidTx(raw), nil
		}

		seenOutIdx[key] = struct{}{}

		tx.Outs = append(tx.Outs, ParsedTxOut{ScrAddr: chainhash.ScrAddr(scrAddr), Value: value})
	}

	if err := binary.Read(buf, binary.LittleEndian, &tx.LockTime); err != nil {
		return invalidTx(raw), nil
	}

	tx.Hash = doubleSHA256(raw)

	return tx, nil
}

func invalidTx(raw []byte) *ParsedTx {
	return &ParsedTx{Raw: append([]byte(nil), raw...), State: Invalid, Hash: doubleSHA256(raw)}
}

func doubleSHA256(b []byte) chainhash.Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])

	return second
}

// ConfirmedLookup resolves an OutPoint against the confirmed chain. It is
// the external collaborator named in SPEC_FULL.md §6 as lookup_utxo.
type ConfirmedLookup interface {
	LookupUTXO(op chainhash.OutPoint) (value int64, scrAddr chainhash.ScrAddr, dbKey []byte, found bool)
}

// BuildingSnapshot resolves an OutPoint against the mempool snapshot
// currently being built by the parser. Implemented by
// *mempool.MempoolSnapshot; kept as a narrow interface here to avoid an
// import cycle between txo and mempool.
type BuildingSnapshot interface {
	ResolveMempoolOutput(op chainhash.OutPoint) (value int64, scrAddr chainhash.ScrAddr, found bool)
}

// Resolve attempts to fill in every input's value/scrAddr, first against the
// confirmed chain, then against the snapshot being built. It mutates p in
// place and returns p.State.
func Resolve(p *ParsedTx, utxoLookup ConfirmedLookup, building BuildingSnapshot) ResolutionState {
	if p.State == Invalid {
		return Invalid
	}

	allResolved := true

	for i := range p.Ins {
		in := &p.Ins[i]
		if in.resolved {
			continue
		}

		if value, scrAddr, dbKey, found := utxoLookup.LookupUTXO(in.PrevOut); found {
			in.Value = value
			in.ScrAddr = scrAddr
			in.DBKey = dbKey
			in.resolved = true

			continue
		}

		if value, scrAddr, found := building.ResolveMempoolOutput(in.PrevOut); found {
			in.Value = value
			in.ScrAddr = scrAddr
			in.resolved = true

			continue
		}

		allResolved = false
	}

	if allResolved {
		p.State = Resolved
	} else {
		p.State = ResolvedButInputsMissing
	}

	return p.State
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, errMalformed
	}

	switch {
	case b < 0xfd:
		return uint64(b), nil
	case b == 0xfd:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, errMalformed
		}

		return uint64(v), nil
	case b == 0xfe:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, errMalformed
		}

		return uint64(v), nil
	default:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, errMalformed
		}

		return v, nil
	}
}

func writeVarInt(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}

		return binary.Write(w, binary.LittleEndian, uint16(v))
	case v <= 0xffffffff:
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}

		return binary.Write(w, binary.LittleEndian, uint32(v))
	default:
		if _, err := w.Write([]byte{0xff}); err != nil {
			return err
		}

		return binary.Write(w, binary.LittleEndian, v)
	}
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errMalformed
	}

	return b, nil
}

// WriteVarBytes exposes the varint+bytes encoding used by Parse, for
// callers (tests, NodeBroadcaster fixtures) that build raw transactions
// programmatically.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := writeVarInt(w, uint64(len(b))); err != nil {
		return err
	}

	_, err := w.Write(b)

	return err
}

// WriteVarInt exposes the varint encoding used by Parse.
func WriteVarInt(w io.Writer, v uint64) error {
	return writeVarInt(w, v)
}
