// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package framedsocket

import (
	"fmt"
	"net"
	"sync"
	"time"

	ristretto "github.com/bwesterb/go-ristretto"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("prefix", "framedsocket")

// ConnState is the connection's position in the handshake/rekey lifecycle.
// Named per SPEC_FULL.md §4.7.
type ConnState uint8

// Connection states.
const (
	Unconnected ConnState = iota
	HandshakeInProgress
	Authed
	Rekeying
	Closed
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case HandshakeInProgress:
		return "handshake-in-progress"
	case Authed:
		return "authed"
	case Rekeying:
		return "rekeying"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// FramedSocket is C7: a length-prefixed, AEAD-encrypted transport over a
// single net.Conn, with one read path and one write-serialized path.
type FramedSocket struct {
	conn   net.Conn
	reader frameReader

	stateMu sync.Mutex
	state   ConnState

	writeMu sync.Mutex

	identity IdentityKey
	peers    PeerStore
	twoWay   bool

	rekeyByteBudget uint64
	rekeyInterval   time.Duration

	inbound  *sessionKeys
	outbound *sessionKeys

	bytesSinceRekey uint64
	lastRekey       time.Time

	// isClient determines which HKDF-derived leg (c2s/s2c) is "ours" on
	// outbound vs inbound; set once the handshake completes.
	isClient bool

	// Ratchet state carried forward from the handshake so a rekey can
	// derive fresh keys without repeating the full exchange (see
	// rekey.go).
	ourEphemeralPriv ristretto.Scalar
	ourEphemeralPub  [32]byte
	peerEphemeralPub [32]byte
	transcript       []byte
}

// New wraps conn, ready to perform a handshake. identity is this side's
// long-term keypair; peers authorizes the remote side's long-term key.
func New(conn net.Conn, identity IdentityKey, peers PeerStore, twoWay bool, rekeyByteBudget uint64, rekeyInterval time.Duration) *FramedSocket {
	return &FramedSocket{
		conn:            conn,
		state:           Unconnected,
		identity:        identity,
		peers:           peers,
		twoWay:          twoWay,
		rekeyByteBudget: rekeyByteBudget,
		rekeyInterval:   rekeyInterval,
	}
}

// State returns the connection's current lifecycle state.
func (fs *FramedSocket) State() ConnState {
	fs.stateMu.Lock()
	defer fs.stateMu.Unlock()

	return fs.state
}

func (fs *FramedSocket) setState(s ConnState) {
	fs.stateMu.Lock()
	fs.state = s
	fs.stateMu.Unlock()
}

// Close marks the connection Closed and closes the underlying net.Conn.
func (fs *FramedSocket) Close() error {
	fs.setState(Closed)
	return fs.conn.Close()
}

// readFrame blocks until one complete rawFrame has been read off the wire.
func (fs *FramedSocket) readFrame() (rawFrame, error) {
	for {
		if frame, ok, err := fs.reader.next(); err != nil {
			return rawFrame{}, err
		} else if ok {
			return frame, nil
		}

		buf := make([]byte, 64*1024)

		n, err := fs.conn.Read(buf)
		if err != nil {
			return rawFrame{}, err
		}

		fs.reader.feed(buf[:n])
	}
}

func (fs *FramedSocket) writeRaw(msgType byte, body []byte) error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	_, err := fs.conn.Write(encodeFrame(msgType, body))

	return err
}

// WriteMessage encrypts and sends payload as an Authed-only application
// message. It will not send user data before the handshake completes.
func (fs *FramedSocket) WriteMessage(msgType byte, payload []byte) error {
	if msgType >= handshakeThreshold {
		return fmt.Errorf("framedsocket: msgType 0x%x is reserved for handshake/rekey", msgType)
	}

	if fs.State() != Authed {
		return fmt.Errorf("framedsocket: cannot send user data before handshake completes")
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	if needed, reason := fs.rekeyNeededLocked(len(payload)); needed {
		logger.WithField("reason", reason).Debug("rekey threshold crossed, injecting rekey frame")

		if err := fs.sendRekeyLocked(); err != nil {
			return err
		}
	}

	sealed := fs.outbound.seal(msgType, append([]byte(nil), payload...))
	fs.bytesSinceRekey += uint64(len(sealed))

	_, err := fs.conn.Write(encodeFrame(msgType, sealed))

	return err
}

// ReadMessage blocks for the next application frame, transparently handling
// any interleaved in-band rekey frame from the peer.
func (fs *FramedSocket) ReadMessage() (byte, []byte, error) {
	for {
		frame, err := fs.readFrame()
		if err != nil {
			return 0, nil, err
		}

		if frame.msgType == msgTypeRekey {
			if err := fs.handleIncomingRekey(frame.payload); err != nil {
				return 0, nil, err
			}

			continue
		}

		if frame.msgType >= handshakeThreshold {
			return 0, nil, fmt.Errorf("framedsocket: unexpected handshake frame (type 0x%x) after auth", frame.msgType)
		}

		if fs.State() != Authed {
			return 0, nil, fmt.Errorf("framedsocket: user data received before handshake completed")
		}

		plaintext, err := fs.inbound.open(frame.msgType, frame.payload)
		if err != nil {
			return 0, nil, fmt.Errorf("framedsocket: AEAD open failed: %w", err)
		}

		return frame.msgType, plaintext, nil
	}
}
