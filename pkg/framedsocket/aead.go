// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package framedsocket

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sessionKeys holds one direction's AEAD state: the cipher and a monotonic
// nonce counter, matching §4.7's "outbound AEAD nonce is monotonic".
type sessionKeys struct {
	aead  cipher.AEAD
	nonce uint64
}

func newSessionKeys(key [32]byte) (*sessionKeys, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	return &sessionKeys{aead: aead}, nil
}

// seal encrypts plaintext in place, authenticating msgType as associated
// data, and advances the nonce. It panics on nonce exhaustion, which at one
// rekey per MaxFrame's worth of traffic is unreachable in practice.
func (s *sessionKeys) seal(msgType byte, plaintext []byte) []byte {
	nonce := s.nextNonce()
	return s.aead.Seal(plaintext[:0], nonce, plaintext, []byte{msgType})
}

func (s *sessionKeys) open(msgType byte, ciphertext []byte) ([]byte, error) {
	nonce := s.nextNonce()
	return s.aead.Open(ciphertext[:0], nonce, ciphertext, []byte{msgType})
}

func (s *sessionKeys) nextNonce() []byte {
	if s.nonce == math.MaxUint64 {
		panic("framedsocket: AEAD nonce exhausted")
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce, s.nonce)
	s.nonce++

	return nonce
}

// deriveSessionKeys expands a raw ECDH transcript (the concatenation of
// every DH result computed during the handshake, see handshake.go) into
// distinct client->server and server->client keys via HKDF, mirroring the
// BIP151/Noise practice of never using a single shared secret as a key
// directly.
func deriveSessionKeys(transcript []byte) (c2s, s2c [32]byte, err error) {
	reader := hkdf.New(sha256.New, transcript, []byte("zcwallet-framedsocket-handshake"), []byte("c2s"))
	if _, err = io.ReadFull(reader, c2s[:]); err != nil {
		return c2s, s2c, err
	}

	reader = hkdf.New(sha256.New, transcript, []byte("zcwallet-framedsocket-handshake"), []byte("s2c"))
	if _, err = io.ReadFull(reader, s2c[:]); err != nil {
		return c2s, s2c, err
	}

	return c2s, s2c, nil
}
