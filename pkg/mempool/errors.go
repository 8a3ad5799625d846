// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool

import "github.com/pkg/errors"

// StageError is returned by Stage when I2/I3 would be violated.
type StageError struct {
	Code string
	Err  error
}

func (e *StageError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Stage error codes, per SPEC_FULL.md §4.2.
const (
	// CodeOutpointConflict is returned when another staged ZC already
	// claims one of this tx's outpoints and stage-time arrival order
	// decides the winner (RBF is a separate, explicit operation).
	CodeOutpointConflict = "OutpointConflict"

	// CodeInputsMissing is returned if Stage is called on a ParsedTx that
	// never reached ResolutionState Resolved.
	CodeInputsMissing = "InputsMissing"

	// CodeAlreadyStaged is returned when the tx's hash is already present.
	CodeAlreadyStaged = "AlreadyStaged"
)

func newStageError(code string, msg string) *StageError {
	return &StageError{Code: code, Err: errors.New(msg)}
}
