// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool

import "github.com/dusk-network/zcwallet/pkg/txo"

// RBFDecision is the outcome of evaluating a replacement candidate against
// an incumbent ZC.
type RBFDecision uint8

// RBF decisions.
const (
	// RBFRejected means the incumbent must stay; the candidate should be
	// refused rather than staged.
	RBFRejected RBFDecision = iota
	// RBFAccepted means the incumbent (and its descendants) should be
	// dropped and the candidate staged in its place.
	RBFAccepted
)

// minRelayFeeRatePerByte is the floor, in satoshis per raw byte, that a
// replacement's fee increase must clear on top of simply out-bidding the
// incumbent. It mirrors Bitcoin Core's default minrelaytxfee-derived rate
// (1000 sat/kB) rather than being configurable per DESIGN.md's decision
// to keep the RBF rule fixed.
const minRelayFeeRatePerByte = 1000.0 / 1000.0

// EvaluateRBF implements the BIP125-style replacement rule decided for the
// open question: candidate replaces incumbent only if (a) incumbent signals
// RBF opt-in on at least one of its inputs, (b)
// candidate's absolute fee is strictly greater than incumbent's, and (c)
// the fee delta clears minRelayFeeRatePerByte against the candidate's own
// size, so the replacement is itself economical to relay.
func EvaluateRBF(incumbent, candidate *txo.ParsedTx) RBFDecision {
	if !incumbent.SignalsRBF() {
		return RBFRejected
	}

	candidateFee := candidate.Fee()
	incumbentFee := incumbent.Fee()

	if candidateFee <= incumbentFee {
		return RBFRejected
	}

	delta := float64(candidateFee - incumbentFee)
	minDelta := minRelayFeeRatePerByte * float64(len(candidate.Raw))

	if delta < minDelta {
		return RBFRejected
	}

	return RBFAccepted
}
