// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package peerstore is a goleveldb-backed authorized-peers keystore: the
// allow-list FramedSocket consults to decide whether a verified long-term
// key may complete a handshake, plus an append-only audit log of
// handshake and rekey events. Grounded on pkg/core/chain/database.go's
// ldb wrapper over github.com/syndtr/goleveldb/leveldb.
package peerstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	peerPrefix  = "peer:"
	auditPrefix = "audit:"
)

// Store is a persisted set of authorized long-term public keys plus a
// running audit log, safe for concurrent use (goleveldb serializes its
// own access internally).
type Store struct {
	db   *leveldb.DB
	path string
	mu   sync.Mutex
	next uint64
}

// Open opens (creating if absent) the leveldb database at path. It
// recovers a corrupted database the same way NewDatabase does upstream.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)

	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}

	if _, denied := err.(*os.PathError); denied {
		return nil, fmt.Errorf("peerstore: could not open or create db at %s", path)
	}

	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}

	// Resume the audit sequence after the last persisted entry so a
	// reopened store appends instead of overwriting earlier events.
	iter := db.NewIterator(util.BytesPrefix([]byte(auditPrefix)), nil)
	if iter.Last() && len(iter.Key()) == len(auditPrefix)+8 {
		s.next = binary.BigEndian.Uint64(iter.Key()[len(auditPrefix):]) + 1
	}
	iter.Release()

	return s, nil
}

// Close releases the underlying leveldb handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func peerKey(pubKey [32]byte) []byte {
	return append([]byte(peerPrefix), pubKey[:]...)
}

// Authorize adds pubKey to the allow-list under label (a human-readable
// tag, e.g. an operator or device name).
func (s *Store) Authorize(pubKey [32]byte, label string) error {
	if err := s.db.Put(peerKey(pubKey), []byte(label), nil); err != nil {
		return err
	}

	return s.appendAudit(fmt.Sprintf("authorize label=%q", label), pubKey)
}

// Revoke removes pubKey from the allow-list.
func (s *Store) Revoke(pubKey [32]byte) error {
	if err := s.db.Delete(peerKey(pubKey), nil); err != nil {
		return err
	}

	return s.appendAudit("revoke", pubKey)
}

// IsAuthorized implements framedsocket.PeerStore.
func (s *Store) IsAuthorized(pubKey [32]byte) bool {
	ok, err := s.db.Has(peerKey(pubKey), nil)
	if err != nil {
		return false
	}

	return ok
}

// Label returns the human-readable tag recorded for pubKey, if any.
func (s *Store) Label(pubKey [32]byte) (string, bool) {
	v, err := s.db.Get(peerKey(pubKey), nil)
	if err != nil {
		return "", false
	}

	return string(v), true
}

// AuthorizedPeers lists every currently authorized public key and its
// label.
func (s *Store) AuthorizedPeers() (map[[32]byte]string, error) {
	out := make(map[[32]byte]string)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(peerPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) != len(peerPrefix)+32 {
			continue
		}

		var pubKey [32]byte
		copy(pubKey[:], key[len(peerPrefix):])

		out[pubKey] = string(iter.Value())
	}

	return out, iter.Error()
}

// AuditEntry is one recorded handshake/rekey/authorization lifecycle
// event.
type AuditEntry struct {
	Seq       uint64
	Timestamp time.Time
	PubKey    [32]byte
	Event     string
}

func (s *Store) appendAudit(event string, pubKey [32]byte) error {
	s.mu.Lock()
	seq := s.next
	s.next++
	s.mu.Unlock()

	key := make([]byte, len(auditPrefix)+8)
	copy(key, auditPrefix)
	binary.BigEndian.PutUint64(key[len(auditPrefix):], seq)

	val := make([]byte, 8+32+len(event))
	binary.BigEndian.PutUint64(val, uint64(time.Now().UnixNano()))
	copy(val[8:40], pubKey[:])
	copy(val[40:], event)

	return s.db.Put(key, val, nil)
}

// RecordHandshake appends an audit entry for a completed handshake with
// peer pubKey. FramedSocket does not call it (its PeerStore interface only
// uses IsAuthorized); the entry is written only when a caller invokes it.
func (s *Store) RecordHandshake(pubKey [32]byte, twoWay bool) error {
	return s.appendAudit(fmt.Sprintf("handshake twoWay=%v", twoWay), pubKey)
}

// RecordRekey appends an audit entry for a completed in-band rekey.
func (s *Store) RecordRekey(pubKey [32]byte) error {
	return s.appendAudit("rekey", pubKey)
}

// AuditLog returns every recorded event in chronological order.
func (s *Store) AuditLog() ([]AuditEntry, error) {
	var out []AuditEntry

	iter := s.db.NewIterator(util.BytesPrefix([]byte(auditPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) != len(auditPrefix)+8 {
			continue
		}

		val := iter.Value()
		if len(val) < 40 {
			continue
		}

		entry := AuditEntry{
			Seq:       binary.BigEndian.Uint64(key[len(auditPrefix):]),
			Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(val[:8]))),
			Event:     string(val[40:]),
		}
		copy(entry.PubKey[:], val[8:40])

		out = append(out, entry)
	}

	return out, iter.Error()
}
