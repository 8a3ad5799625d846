// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package mempool_test

import (
	"testing"

	"github.com/dusk-network/zcwallet/pkg/mempool"
	"github.com/stretchr/testify/assert"
)

func TestZcKeyEncoding(t *testing.T) {
	k := mempool.NewZcKey(7)

	assert.Equal(t, byte(0xFF), k[0])
	assert.Equal(t, byte(0xFF), k[1])
	assert.Equal(t, uint32(7), k.Counter())
	assert.False(t, k.IsZero())
}

func TestZcKeyZeroValue(t *testing.T) {
	var k mempool.ZcKey
	assert.True(t, k.IsZero())
}

func TestZcKeyMonotonic(t *testing.T) {
	a := mempool.NewZcKey(1)
	b := mempool.NewZcKey(2)

	assert.Less(t, a.Counter(), b.Counter())
	assert.NotEqual(t, a, b)
}
