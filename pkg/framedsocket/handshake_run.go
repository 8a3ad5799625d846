// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package framedsocket

import (
	"fmt"
	"time"
)

// errUnauthorized is returned when the remote's long-term key is not in
// the local PeerStore.
var errUnauthorized = fmt.Errorf("framedsocket: remote identity key not authorized")

// DialClient performs the client side of the handshake: it authenticates
// the server's long-term key against peers (one-way), and additionally
// presents its own long-term key when twoWay is set at construction time.
func (fs *FramedSocket) DialClient() error {
	fs.setState(HandshakeInProgress)

	ephPriv, ephPub, err := ephemeralKeypair()
	if err != nil {
		return err
	}

	ephPubBytes, err := marshalPoint(&ephPub)
	if err != nil {
		return err
	}

	hello := clientHelloMsg{ephemeralPub: ephPubBytes, twoWay: fs.twoWay}

	if fs.twoWay {
		staticPub, err := fs.identity.PublicKeyBytes()
		if err != nil {
			return err
		}

		hello.staticPub = staticPub
	}

	if err := fs.writeRaw(msgTypeClientHello, encodeClientHello(hello)); err != nil {
		return err
	}

	frame, err := fs.readFrame()
	if err != nil {
		return err
	}

	if frame.msgType != msgTypeServerHello {
		return fmt.Errorf("framedsocket: expected server hello, got msgType 0x%x", frame.msgType)
	}

	serverHello, err := decodeServerHello(frame.payload)
	if err != nil {
		return err
	}

	if fs.peers != nil && !fs.peers.IsAuthorized(serverHello.staticPub) {
		return errUnauthorized
	}

	serverEphPub, err := unmarshalPoint(serverHello.ephemeralPub)
	if err != nil {
		return err
	}

	serverStaticPub, err := unmarshalPoint(serverHello.staticPub)
	if err != nil {
		return err
	}

	ee, err := dh(&ephPriv, &serverEphPub)
	if err != nil {
		return err
	}

	se, err := dh(&ephPriv, &serverStaticPub)
	if err != nil {
		return err
	}

	transcript := append(append([]byte{}, ee[:]...), se[:]...)

	if fs.twoWay {
		var serverEphCopy = serverEphPub

		es, err := dh(&fs.identity.priv, &serverEphCopy)
		if err != nil {
			return err
		}

		transcript = append(transcript, es[:]...)
	}

	c2s, s2c, err := deriveSessionKeys(transcript)
	if err != nil {
		return err
	}

	fs.isClient = true
	fs.ourEphemeralPriv = ephPriv
	fs.ourEphemeralPub = ephPubBytes
	fs.peerEphemeralPub = serverHello.ephemeralPub
	fs.transcript = transcript

	if fs.outbound, err = newSessionKeys(c2s); err != nil {
		return err
	}

	if fs.inbound, err = newSessionKeys(s2c); err != nil {
		return err
	}

	fs.lastRekey = time.Now()
	fs.setState(Authed)

	return nil
}

// AcceptServer performs the server side of the handshake on an inbound
// connection, requiring the client's long-term key when twoWay is set.
func (fs *FramedSocket) AcceptServer() error {
	fs.setState(HandshakeInProgress)

	frame, err := fs.readFrame()
	if err != nil {
		return err
	}

	if frame.msgType != msgTypeClientHello {
		return fmt.Errorf("framedsocket: expected client hello, got msgType 0x%x", frame.msgType)
	}

	clientHello, err := decodeClientHello(frame.payload)
	if err != nil {
		return err
	}

	if clientHello.twoWay {
		if fs.peers != nil && !fs.peers.IsAuthorized(clientHello.staticPub) {
			return errUnauthorized
		}
	}

	ephPriv, ephPub, err := ephemeralKeypair()
	if err != nil {
		return err
	}

	ephPubBytes, err := marshalPoint(&ephPub)
	if err != nil {
		return err
	}

	staticPub, err := fs.identity.PublicKeyBytes()
	if err != nil {
		return err
	}

	if err := fs.writeRaw(msgTypeServerHello, encodeServerHello(serverHelloMsg{ephemeralPub: ephPubBytes, staticPub: staticPub})); err != nil {
		return err
	}

	clientEphPub, err := unmarshalPoint(clientHello.ephemeralPub)
	if err != nil {
		return err
	}

	ee, err := dh(&ephPriv, &clientEphPub)
	if err != nil {
		return err
	}

	se, err := dh(&fs.identity.priv, &clientEphPub)
	if err != nil {
		return err
	}

	transcript := append(append([]byte{}, ee[:]...), se[:]...)

	if clientHello.twoWay && !isZeroKey(clientHello.staticPub) {
		clientStaticPub, err := unmarshalPoint(clientHello.staticPub)
		if err != nil {
			return err
		}

		es, err := dh(&ephPriv, &clientStaticPub)
		if err != nil {
			return err
		}

		transcript = append(transcript, es[:]...)
	}

	c2s, s2c, err := deriveSessionKeys(transcript)
	if err != nil {
		return err
	}

	fs.isClient = false
	fs.ourEphemeralPriv = ephPriv
	fs.ourEphemeralPub = ephPubBytes
	fs.peerEphemeralPub = clientHello.ephemeralPub
	fs.transcript = transcript

	if fs.inbound, err = newSessionKeys(c2s); err != nil {
		return err
	}

	if fs.outbound, err = newSessionKeys(s2c); err != nil {
		return err
	}

	fs.lastRekey = time.Now()
	fs.setState(Authed)

	return nil
}
