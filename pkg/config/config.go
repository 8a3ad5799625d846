// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package config holds the immutable, process-wide configuration for
// zcwalletd. Unlike the C++ original's global mutable BitcoinSettings, this
// is a value threaded explicitly through constructors; Get() exists only as
// a narrow convenience for leaf code (logging, metrics) that has no natural
// way to receive it by argument.
package config

import (
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Network is the tagged Bitcoin network the service is configured for.
type Network uint8

// Supported networks.
const (
	Mainnet Network = iota
	Testnet
	Regtest
)

// String implements fmt.Stringer.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// Params carries the network parameters by value, replacing what the
// original expressed as global statics.
type Params struct {
	Net          Network `yaml:"-"`
	PubKeyPrefix byte    `yaml:"pubKeyPrefix"`
	ScriptPrefix byte    `yaml:"scriptPrefix"`
	Bech32HRP    string  `yaml:"bech32Hrp"`
}

// MainnetParams, TestnetParams and RegtestParams are the three supported
// network parameter sets.
var (
	MainnetParams = Params{Net: Mainnet, PubKeyPrefix: 0x00, ScriptPrefix: 0x05, Bech32HRP: "bc"}
	TestnetParams = Params{Net: Testnet, PubKeyPrefix: 0x6f, ScriptPrefix: 0xc4, Bech32HRP: "tb"}
	RegtestParams = Params{Net: Regtest, PubKeyPrefix: 0x6f, ScriptPrefix: 0xc4, Bech32HRP: "bcrt"}
)

// Mempool groups the tuning knobs for the MempoolSnapshot (C2).
type Mempool struct {
	// PoolMergeThreshold is the number of accumulated deltas that trigger a
	// full committed-index rebuild.
	PoolMergeThreshold int `yaml:"poolMergeThreshold"`

	// WatcherTimeout is how long an unresolved ZC may sit in the watcher
	// pool before it is evicted (B3).
	WatcherTimeout time.Duration `yaml:"watcherTimeout"`
}

// Broadcast groups the C4/C6 tuning knobs.
type Broadcast struct {
	// Timeout is loaded and defaulted like the other knobs but is not read
	// by the broadcaster; its inv and reject windows come from InvTimeout
	// and RejectTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// InvTimeout bounds how long NodeBroadcaster waits for an inv after a
	// P2P submission before treating it as a silent failure.
	InvTimeout time.Duration `yaml:"invTimeout"`

	// RejectTimeout bounds how long it waits for an explicit reject.
	RejectTimeout time.Duration `yaml:"rejectTimeout"`

	// RPCOnly forces every broadcast down the RPC path, skipping P2P.
	RPCOnly bool `yaml:"rpcOnly"`
}

// Socket groups the C7 tuning knobs.
type Socket struct {
	ListenAddr string `yaml:"listenAddr"`

	// RekeyByteBudget is the bytes-since-rekey threshold. Production
	// default is 1 GiB; tests lower it to exercise the rekey path.
	RekeyByteBudget uint64 `yaml:"rekeyByteBudget"`

	// RekeyInterval is the elapsed-time threshold.
	RekeyInterval time.Duration `yaml:"rekeyInterval"`

	// TwoWayAuth requires the client to also authenticate to the server.
	TwoWayAuth bool `yaml:"twoWayAuth"`

	// PeerStorePath is where the authorized-peers keystore lives on disk.
	PeerStorePath string `yaml:"peerStorePath"`
}

// Config is the full, immutable configuration for the service.
type Config struct {
	Net       Params    `yaml:"-"`
	Mempool   Mempool   `yaml:"mempool"`
	Broadcast Broadcast `yaml:"broadcast"`
	Socket    Socket    `yaml:"socket"`

	// LogLevel is parsed by the caller into a logrus.Level; kept as a
	// string here so the YAML file stays human writable.
	LogLevel string `yaml:"logLevel"`

	// LogFile, when non-empty, routes logs through lumberjack for rotation
	// instead of stderr.
	LogFile string `yaml:"logFile"`
}

// DefaultConfig returns the production-sane defaults named throughout the
// spec (3s inv timeout, 30s reject timeout, 1 GiB rekey budget, etc).
func DefaultConfig() Config {
	return Config{
		Net: MainnetParams,
		Mempool: Mempool{
			PoolMergeThreshold: 100,
			WatcherTimeout:     2 * time.Minute,
		},
		Broadcast: Broadcast{
			Timeout:       30 * time.Second,
			InvTimeout:    3 * time.Second,
			RejectTimeout: 30 * time.Second,
		},
		Socket: Socket{
			ListenAddr:      "127.0.0.1:9996",
			RekeyByteBudget: 1 << 30,
			RekeyInterval:   time.Hour,
			PeerStorePath:   "peerstore.db",
		},
		LogLevel: "info",
	}
}

var (
	current   = DefaultConfig()
	currentMu sync.RWMutex
)

// Load reads a YAML file into a Config seeded with DefaultConfig and
// installs it as the process-wide value returned by Get. Field values are
// not validated.
func Load(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	Set(cfg)

	return cfg, nil
}

// Set installs cfg as the process-wide config returned by Get. Exposed
// mainly for tests that want a config without a file on disk.
func Set(cfg Config) {
	currentMu.Lock()
	current = cfg
	currentMu.Unlock()
}

// Get returns the current process-wide configuration.
func Get() Config {
	currentMu.RLock()
	defer currentMu.RUnlock()

	return current
}
