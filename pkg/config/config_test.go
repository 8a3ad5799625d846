// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dusk-network/zcwallet/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, config.MainnetParams, cfg.Net)
	assert.Equal(t, 100, cfg.Mempool.PoolMergeThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Mempool.WatcherTimeout)
	assert.Equal(t, 3*time.Second, cfg.Broadcast.InvTimeout)
	assert.Equal(t, 30*time.Second, cfg.Broadcast.RejectTimeout)
	assert.Equal(t, uint64(1<<30), cfg.Socket.RekeyByteBudget)
	assert.Equal(t, time.Hour, cfg.Socket.RekeyInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "logLevel: debug\nmempool:\n  poolMergeThreshold: 50\nsocket:\n  listenAddr: \"0.0.0.0:9997\"\n  twoWayAuth: true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Mempool.PoolMergeThreshold)
	assert.Equal(t, "0.0.0.0:9997", cfg.Socket.ListenAddr)
	assert.True(t, cfg.Socket.TwoWayAuth)

	// fields the override file didn't mention keep the default value.
	assert.Equal(t, 2*time.Minute, cfg.Mempool.WatcherTimeout)

	assert.Equal(t, cfg, config.Get())
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadReturnsErrorForMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: [this is not a string"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	custom := config.DefaultConfig()
	custom.LogLevel = "warn"

	config.Set(custom)
	assert.Equal(t, "warn", config.Get().LogLevel)

	config.Set(config.DefaultConfig())
}
