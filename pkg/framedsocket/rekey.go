// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package framedsocket

import (
	"fmt"
	"time"

	ristretto "github.com/bwesterb/go-ristretto"
)

// rekeyPayloadLen is the wire size of a rekey message: just the sender's
// fresh ephemeral public key.
const rekeyPayloadLen = 32

// rekeyNeededLocked reports whether a rekey must be injected before the
// next outbound frame of size payloadLen is sent, per §4.7's volume- and
// time-triggered rekey policy. Caller holds fs.writeMu.
func (fs *FramedSocket) rekeyNeededLocked(payloadLen int) (bool, string) {
	if fs.rekeyByteBudget > 0 && fs.bytesSinceRekey+uint64(payloadLen)+macSize > fs.rekeyByteBudget {
		return true, "byte-budget"
	}

	if fs.rekeyInterval > 0 && time.Since(fs.lastRekey) > fs.rekeyInterval {
		return true, "interval"
	}

	return false, ""
}

// sendRekeyLocked generates a fresh ephemeral keypair, folds the new DH
// term into the running transcript, derives new session keys, and sends
// the new ephemeral public key to the peer under the CURRENT outbound
// key before installing the new one. Caller holds fs.writeMu.
func (fs *FramedSocket) sendRekeyLocked() error {
	newPriv, newPub, err := ephemeralKeypair()
	if err != nil {
		return err
	}

	newPubBytes, err := marshalPoint(&newPub)
	if err != nil {
		return err
	}

	peerPub, err := unmarshalPoint(fs.peerEphemeralPub)
	if err != nil {
		return err
	}

	term, err := dh(&newPriv, &peerPub)
	if err != nil {
		return err
	}

	transcript := append(append([]byte{}, fs.transcript...), term[:]...)

	outKey, inKey, err := rekeyDirectionalKeys(transcript, fs.isClient)
	if err != nil {
		return err
	}

	sealed := fs.outbound.seal(msgTypeRekey, append([]byte(nil), newPubBytes[:]...))

	if _, err := fs.conn.Write(encodeFrame(msgTypeRekey, sealed)); err != nil {
		return err
	}

	newOutbound, err := newSessionKeys(outKey)
	if err != nil {
		return err
	}

	newInbound, err := newSessionKeys(inKey)
	if err != nil {
		return err
	}

	fs.ourEphemeralPriv = newPriv
	fs.ourEphemeralPub = newPubBytes
	fs.transcript = transcript
	fs.outbound = newOutbound
	fs.inbound = newInbound
	fs.bytesSinceRekey = 0
	fs.lastRekey = time.Now()

	return nil
}

// handleIncomingRekey decrypts an in-band rekey frame under the current
// inbound key, derives the matching new DH term from our own retained
// ephemeral private key, and installs both new session keys.
func (fs *FramedSocket) handleIncomingRekey(ciphertext []byte) error {
	plaintext, err := fs.inbound.open(msgTypeRekey, ciphertext)
	if err != nil {
		return fmt.Errorf("framedsocket: rekey AEAD open failed: %w", err)
	}

	if len(plaintext) != rekeyPayloadLen {
		return fmt.Errorf("framedsocket: malformed rekey payload (len %d)", len(plaintext))
	}

	var newPeerPubBytes [32]byte
	copy(newPeerPubBytes[:], plaintext)

	newPeerPub, err := unmarshalPoint(newPeerPubBytes)
	if err != nil {
		return err
	}

	var ourPriv ristretto.Scalar = fs.ourEphemeralPriv

	term, err := dh(&ourPriv, &newPeerPub)
	if err != nil {
		return err
	}

	transcript := append(append([]byte{}, fs.transcript...), term[:]...)

	outKey, inKey, err := rekeyDirectionalKeys(transcript, fs.isClient)
	if err != nil {
		return err
	}

	newOutbound, err := newSessionKeys(outKey)
	if err != nil {
		return err
	}

	newInbound, err := newSessionKeys(inKey)
	if err != nil {
		return err
	}

	fs.peerEphemeralPub = newPeerPubBytes
	fs.transcript = transcript
	fs.outbound = newOutbound
	fs.inbound = newInbound
	fs.bytesSinceRekey = 0
	fs.lastRekey = time.Now()

	return nil
}

// rekeyDirectionalKeys derives this side's (outbound, inbound) key pair
// from a transcript, honoring the same c2s/s2c leg assignment used at
// handshake time so a rekey never swaps directions.
func rekeyDirectionalKeys(transcript []byte, isClient bool) (out, in [32]byte, err error) {
	c2s, s2c, err := deriveSessionKeys(transcript)
	if err != nil {
		return out, in, err
	}

	if isClient {
		return c2s, s2c, nil
	}

	return s2c, c2s, nil
}
