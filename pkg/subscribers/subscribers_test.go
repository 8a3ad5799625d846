// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package subscribers_test

import (
	"testing"

	"github.com/dusk-network/zcwallet/pkg/subscribers"
	"github.com/dusk-network/zcwallet/pkg/zcparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWatchAndInterestedSubscribers(t *testing.T) {
	r := subscribers.NewRegistry()

	a := r.Register()
	b := r.Register()

	r.Watch(a, "addr-1")
	r.Watch(b, "addr-1")
	r.Watch(b, "addr-2")

	interested := r.InterestedSubscribers("addr-1")
	assert.Len(t, interested, 2)
	_, aIn := interested[a]
	_, bIn := interested[b]
	assert.True(t, aIn)
	assert.True(t, bIn)

	interested2 := r.InterestedSubscribers("addr-2")
	require.Len(t, interested2, 1)
	_, bOnly := interested2[b]
	assert.True(t, bOnly)
}

func TestInterestedSubscribersEmptyForUnwatchedAddr(t *testing.T) {
	r := subscribers.NewRegistry()
	assert.Empty(t, r.InterestedSubscribers("nobody-watches-this"))
}

func TestUnwatchRemovesAddrIndexEntry(t *testing.T) {
	r := subscribers.NewRegistry()
	a := r.Register()

	r.Watch(a, "addr-1")
	require.Len(t, r.InterestedSubscribers("addr-1"), 1)

	r.Unwatch(a, "addr-1")
	assert.Empty(t, r.InterestedSubscribers("addr-1"))
}

func TestUnregisterDropsWatchesAndClosesQueue(t *testing.T) {
	r := subscribers.NewRegistry()
	a := r.Register()

	r.Watch(a, "addr-1")
	r.Unregister(a)

	assert.Empty(t, r.InterestedSubscribers("addr-1"))

	_, ok := r.Notifications(a)
	assert.False(t, ok)
}

func TestNotifyDeliversOnSubscriberQueue(t *testing.T) {
	r := subscribers.NewRegistry()
	a := r.Register()

	n := zcparser.Notification{Kind: zcparser.NotifyStaged, Sequence: 1}
	r.Notify(a, n)

	q, ok := r.Notifications(a)
	require.True(t, ok)

	select {
	case got := <-q:
		assert.Equal(t, n, got)
	default:
		t.Fatal("expected a queued notification")
	}
}

func TestNotifyToUnknownSubscriberIsANoOp(t *testing.T) {
	r := subscribers.NewRegistry()
	assert.NotPanics(t, func() {
		r.Notify(999, zcparser.Notification{})
	})
}

func TestNotifyAfterUnregisterRacesSafely(t *testing.T) {
	r := subscribers.NewRegistry()
	a := r.Register()

	q, ok := r.Notifications(a)
	require.True(t, ok)

	r.Unregister(a)

	assert.NotPanics(t, func() {
		r.Notify(a, zcparser.Notification{})
	})

	_, stillOpen := <-q
	assert.False(t, stillOpen)
}

func TestWatchOnUnregisteredSubscriberIsANoOp(t *testing.T) {
	r := subscribers.NewRegistry()
	assert.NotPanics(t, func() {
		r.Watch(42, "addr-1")
	})
	assert.Empty(t, r.InterestedSubscribers("addr-1"))
}

func TestRegisterAssignsDistinctMonotonicIDs(t *testing.T) {
	r := subscribers.NewRegistry()

	a := r.Register()
	b := r.Register()
	c := r.Register()

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	assert.Less(t, uint64(a), uint64(b))
	assert.Less(t, uint64(b), uint64(c))
}
