// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package framedsocket implements FramedSocket (C7): length-prefixed
// message framing over TCP, AEAD encryption after a handshake, and
// periodic/volume-triggered rekeying. Grounded on
// BridgeAPI/BridgeSocket.{h,cpp} from original_source, translated from its
// buffered-accumulate-and-decrypt loop into Go's io.Reader idiom.
package framedsocket

import (
	"encoding/binary"
	"fmt"
)

// MaxFrame is the hard ceiling on a single frame's payload-length field;
// exceeding it is a fatal protocol violation (§4.7).
const MaxFrame = 1 << 30 // 1 GiB

// macSize is the AEAD tag length appended after every encrypted frame's
// payload; chacha20poly1305's Poly1305 tag, matching BridgeSocket.cpp's
// POLY1305MACLEN.
const macSize = 16

// lengthFieldSize is the 4-byte little-endian frame length prefix.
const lengthFieldSize = 4

// msgTypeFieldSize is the 1-byte message type following the length field.
const msgTypeFieldSize = 1

// headerSize is the portion of a frame preceding its payload.
const headerSize = lengthFieldSize + msgTypeFieldSize

// rawFrame is one decoded frame: its message type and payload, still
// possibly encrypted (the caller is responsible for AEAD-unwrapping when
// the connection has reached Authed).
type rawFrame struct {
	msgType byte
	payload []byte
}

// frameLen returns the value placed in the length prefix for a frame whose
// plaintext-or-ciphertext payload is payloadLen bytes and that carries a
// MAC iff encrypted.
func frameLen(payloadLen int, encrypted bool) uint32 {
	n := msgTypeFieldSize + payloadLen
	if encrypted {
		n += macSize
	}

	return uint32(n)
}

// encodeFrame serializes msgType+body (already including any trailing MAC)
// with its 4-byte length prefix.
func encodeFrame(msgType byte, body []byte) []byte {
	out := make([]byte, lengthFieldSize+msgTypeFieldSize+len(body))
	binary.LittleEndian.PutUint32(out, uint32(msgTypeFieldSize+len(body)))
	out[lengthFieldSize] = msgType
	copy(out[headerSize:], body)

	return out
}

// frameReader accumulates bytes from a stream and yields complete frames,
// retaining a partial frame verbatim across reads - the direct analogue of
// BridgeSocket's leftOverData_ buffer.
type frameReader struct {
	buf []byte
}

// feed appends newly read bytes to the internal buffer.
func (r *frameReader) feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// next extracts one complete frame if available. ok is false when more
// bytes are needed; err is non-nil only on a fatal MAX_FRAME violation.
func (r *frameReader) next() (frame rawFrame, ok bool, err error) {
	if len(r.buf) < lengthFieldSize {
		return rawFrame{}, false, nil
	}

	payloadLen := binary.LittleEndian.Uint32(r.buf[:lengthFieldSize])
	if payloadLen > MaxFrame {
		return rawFrame{}, false, fmt.Errorf("framedsocket: frame length %d exceeds MAX_FRAME", payloadLen)
	}

	total := lengthFieldSize + int(payloadLen)
	if len(r.buf) < total {
		return rawFrame{}, false, nil
	}

	msgType := r.buf[lengthFieldSize]
	body := make([]byte, total-headerSize)
	copy(body, r.buf[headerSize:total])

	r.buf = r.buf[total:]

	return rawFrame{msgType: msgType, payload: body}, true, nil
}
