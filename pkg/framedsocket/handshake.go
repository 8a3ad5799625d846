// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package framedsocket

import (
	"crypto/rand"
	"fmt"

	ristretto "github.com/bwesterb/go-ristretto"
)

// Handshake message types. These sit at or above handshakeThreshold, so the read
// loop never mistakes them for user payload pre-auth.
const (
	msgTypeClientHello byte = 0xF0
	msgTypeServerHello byte = 0xF1
	msgTypeRekey       byte = 0xF2

	// handshakeThreshold: msgType values below this are ordinary user
	// payload and are only honored once the connection reaches Authed
	// (§4.7).
	handshakeThreshold byte = 0xF0
)

// IdentityKey is a long-term ristretto keypair: the repurposed use of
// go-ristretto's scalar/point arithmetic named in SPEC_FULL.md's DOMAIN
// STACK (originally confidential-transaction Pedersen commitments, here an
// ECDH identity key).
type IdentityKey struct {
	priv ristretto.Scalar
	pub  ristretto.Point
}

// GenerateIdentityKey creates a fresh random long-term keypair.
func GenerateIdentityKey() (IdentityKey, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return IdentityKey{}, err
	}

	var ik IdentityKey

	ik.priv.SetReduced(&buf)
	ik.pub.ScalarMultBase(&ik.priv)

	return ik, nil
}

// PublicKeyBytes returns the 32-byte wire encoding of the identity's
// public point.
func (ik *IdentityKey) PublicKeyBytes() ([32]byte, error) {
	return marshalPoint(&ik.pub)
}

func marshalPoint(p *ristretto.Point) ([32]byte, error) {
	var out [32]byte

	b, err := p.MarshalBinary()
	if err != nil {
		return out, err
	}

	if len(b) != 32 {
		return out, fmt.Errorf("framedsocket: unexpected point encoding length %d", len(b))
	}

	copy(out[:], b)

	return out, nil
}

func unmarshalPoint(b [32]byte) (ristretto.Point, error) {
	var p ristretto.Point
	if err := p.UnmarshalBinary(b[:]); err != nil {
		return p, fmt.Errorf("framedsocket: malformed peer public key: %w", err)
	}

	return p, nil
}

func ephemeralKeypair() (ristretto.Scalar, ristretto.Point, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ristretto.Scalar{}, ristretto.Point{}, err
	}

	var priv ristretto.Scalar

	priv.SetReduced(&buf)

	var pub ristretto.Point

	pub.ScalarMultBase(&priv)

	return priv, pub, nil
}

// dh computes the ECDH shared point priv*pub and returns its 32-byte
// encoding, for folding into the handshake transcript.
func dh(priv *ristretto.Scalar, pub *ristretto.Point) ([32]byte, error) {
	var shared ristretto.Point

	shared.ScalarMult(pub, priv)

	return marshalPoint(&shared)
}

// PeerStore is the authorization collaborator a FramedSocket consults once
// it has a verified peer identity key; implemented by pkg/peerstore.
type PeerStore interface {
	IsAuthorized(pubKey [32]byte) bool
}

// clientHelloMsg / serverHelloMsg are the two handshake wire messages. Both
// are sent unencrypted: there is no shared key yet, matching BridgeSocket's
// plaintext AEAD-handshake phase before bip151Connection_->connectionComplete().
type clientHelloMsg struct {
	ephemeralPub [32]byte
	staticPub    [32]byte // zero value when not authenticating two-way
	twoWay       bool
}

type serverHelloMsg struct {
	ephemeralPub [32]byte
	staticPub    [32]byte
}

func encodeClientHello(m clientHelloMsg) []byte {
	body := make([]byte, 32+32+1)
	copy(body[:32], m.ephemeralPub[:])
	copy(body[32:64], m.staticPub[:])

	if m.twoWay {
		body[64] = 1
	}

	return body
}

func decodeClientHello(b []byte) (clientHelloMsg, error) {
	if len(b) != 65 {
		return clientHelloMsg{}, fmt.Errorf("framedsocket: malformed client hello")
	}

	var m clientHelloMsg

	copy(m.ephemeralPub[:], b[:32])
	copy(m.staticPub[:], b[32:64])

	m.twoWay = b[64] == 1

	return m, nil
}

func encodeServerHello(m serverHelloMsg) []byte {
	body := make([]byte, 64)
	copy(body[:32], m.ephemeralPub[:])
	copy(body[32:], m.staticPub[:])

	return body
}

func decodeServerHello(b []byte) (serverHelloMsg, error) {
	if len(b) != 64 {
		return serverHelloMsg{}, fmt.Errorf("framedsocket: malformed server hello")
	}

	var m serverHelloMsg

	copy(m.ephemeralPub[:], b[:32])
	copy(m.staticPub[:], b[32:])

	return m, nil
}

// isZeroKey reports whether k is the all-zero placeholder used when a
// one-way handshake omits the client's static key.
func isZeroKey(k [32]byte) bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}

	return true
}
