// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package peerstore_test

import (
	"path/filepath"
	"testing"

	"github.com/dusk-network/zcwallet/pkg/peerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *peerstore.Store {
	t.Helper()

	s, err := peerstore.Open(filepath.Join(t.TempDir(), "peers.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestAuthorizeAndRevoke(t *testing.T) {
	s := openStore(t)

	var pub [32]byte
	pub[0] = 0xAB

	assert.False(t, s.IsAuthorized(pub))

	require.NoError(t, s.Authorize(pub, "wallet-a"))
	assert.True(t, s.IsAuthorized(pub))

	label, ok := s.Label(pub)
	assert.True(t, ok)
	assert.Equal(t, "wallet-a", label)

	require.NoError(t, s.Revoke(pub))
	assert.False(t, s.IsAuthorized(pub))
}

func TestAuthorizedPeersListing(t *testing.T) {
	s := openStore(t)

	var a, b [32]byte
	a[0], b[0] = 1, 2

	require.NoError(t, s.Authorize(a, "a"))
	require.NoError(t, s.Authorize(b, "b"))

	peers, err := s.AuthorizedPeers()
	require.NoError(t, err)
	assert.Len(t, peers, 2)
	assert.Equal(t, "a", peers[a])
	assert.Equal(t, "b", peers[b])
}

func TestAuditLogOrdering(t *testing.T) {
	s := openStore(t)

	var pub [32]byte
	pub[0] = 0x42

	require.NoError(t, s.Authorize(pub, "device"))
	require.NoError(t, s.RecordHandshake(pub, true))
	require.NoError(t, s.RecordRekey(pub))

	log, err := s.AuditLog()
	require.NoError(t, err)
	require.Len(t, log, 3)

	assert.Equal(t, uint64(0), log[0].Seq)
	assert.Equal(t, uint64(1), log[1].Seq)
	assert.Equal(t, uint64(2), log[2].Seq)
	assert.Contains(t, log[0].Event, "authorize")
	assert.Contains(t, log[1].Event, "handshake")
	assert.Contains(t, log[2].Event, "rekey")
}
