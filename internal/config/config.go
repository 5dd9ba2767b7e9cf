// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package config loads the coordinator/signer process configuration from a
// TOML file.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/frostcluster/tss"
)

// Settings is the on-disk process configuration. The same shape serves both
// roles; a signer process leaves AutoDKG empty.
type Settings struct {
	// Role is "coordinator" or "signer".
	Role string `toml:"role"`

	// BaseDir roots the key store and auto_dkg.json.
	BaseDir string `toml:"base_dir"`

	// ListenAddr is the libp2p multiaddr this process listens on.
	ListenAddr string `toml:"listen_addr"`

	// IdentityKeyFile holds the process's long-term Ed25519 identity key,
	// hex-encoded, from which the libp2p peer id and the keystore
	// encryption key are both derived.
	IdentityKeyFile string `toml:"identity_key_file"`

	// IPCSocketPath is the coordinator's control socket (§6).
	IPCSocketPath string `toml:"ipc_socket_path"`

	// CoordinatorAddr is the coordinator's full dialable multiaddr
	// (including /p2p/<peer id>), used only by a signer process to send
	// its initial registration.
	CoordinatorAddr string `toml:"coordinator_addr"`

	// Whitelist is the hex-encoded set of signer identities the coordinator
	// accepts registrations from; empty disables enforcement entirely. When
	// AutoDKG is enabled, this same set is the one auto-DKG waits to see
	// registered in full before triggering.
	Whitelist []string `toml:"whitelist"`

	Log struct {
		Level  string `toml:"level"`
		Pretty bool   `toml:"pretty"`
	} `toml:"log"`

	// AutoDKG configures the optional controller from §4.6; a zero value
	// (Enabled == false) disables it entirely.
	AutoDKG struct {
		Enabled      bool     `toml:"enabled"`
		Threshold    int      `toml:"threshold"`
		Ciphersuites []string `toml:"ciphersuites"`
	} `toml:"auto_dkg"`

	// Timeouts bounds every request/response leg of the node<->coordinator
	// and coordinator<->signer protocols (§5/§6), plus the interval a
	// stalled round is retried at. All four are seconds on disk, exposed
	// as time.Duration through the accessors below.
	Timeouts struct {
		Node2CoorRequestTimeout    int `toml:"node2coor_request_timeout"`
		Sig2CoorRequestTimeout     int `toml:"sig2coor_request_timeout"`
		Coor2SigRequestTimeout     int `toml:"coor2sig_request_timeout"`
		StateChannelRetryInterval int `toml:"state_channel_retry_interval"`
	} `toml:"timeouts"`
}

// Node2CoorRequestTimeout is how long the coordinator waits for a
// node->coordinator IPC/wire request to finish before giving up.
func (s *Settings) Node2CoorRequestTimeout() time.Duration {
	return secondsOrDefault(s.Timeouts.Node2CoorRequestTimeout, 30)
}

// Sig2CoorRequestTimeout is how long a signer waits for its own
// signer->coordinator relay send (registration, relayed share, Final
// report) to complete.
func (s *Settings) Sig2CoorRequestTimeout() time.Duration {
	return secondsOrDefault(s.Timeouts.Sig2CoorRequestTimeout, 15)
}

// Coor2SigRequestTimeout bounds one coordinator->signer round-trip
// (DKG/signing round requests, and extended-relay forwards); a signer that
// misses this deadline is the trigger for the §4.2 retry described by
// StateChannelRetryInterval.
func (s *Settings) Coor2SigRequestTimeout() time.Duration {
	return secondsOrDefault(s.Timeouts.Coor2SigRequestTimeout, 15)
}

// StateChannelRetryInterval is how long a DKG/signing session waits after
// a round's request fan-out before retrying the participants that never
// answered, rather than stalling forever on one unreachable signer.
func (s *Settings) StateChannelRetryInterval() time.Duration {
	return secondsOrDefault(s.Timeouts.StateChannelRetryInterval, 10)
}

func secondsOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// DecodeWhitelist hex-decodes every entry in Whitelist into raw identity
// bytes, as ValidatorTable and AutoDKGController both want them.
func (s *Settings) DecodeWhitelist() ([][]byte, error) {
	out := make([][]byte, len(s.Whitelist))
	for i, h := range s.Whitelist {
		bz, err := hex.DecodeString(h)
		if err != nil {
			return nil, errors.Wrapf(err, "config: whitelist entry %d", i)
		}
		out[i] = bz
	}
	return out, nil
}

// DecodeCiphersuites resolves AutoDKG.Ciphersuites into tss.Ciphersuite
// values, defaulting to every supported ciphersuite when left empty.
func (s *Settings) DecodeCiphersuites() ([]tss.Ciphersuite, error) {
	if len(s.AutoDKG.Ciphersuites) == 0 {
		return tss.AllCiphersuites, nil
	}
	out := make([]tss.Ciphersuite, len(s.AutoDKG.Ciphersuites))
	for i, c := range s.AutoDKG.Ciphersuites {
		cs := tss.Ciphersuite(c)
		if !cs.Valid() {
			return nil, errors.Errorf("config: unknown ciphersuite %q", c)
		}
		out[i] = cs
	}
	return out, nil
}

// Load parses Settings from path.
func Load(path string) (*Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if s.BaseDir == "" {
		return nil, errors.New("config: base_dir is required")
	}
	return &s, nil
}

// Default returns Settings with the teacher-style conservative defaults
// applied, for use when no config file is given on the command line.
func Default(baseDir string) *Settings {
	s := &Settings{
		Role:            "signer",
		BaseDir:         baseDir,
		ListenAddr:      "/ip4/0.0.0.0/tcp/0",
		IdentityKeyFile: baseDir + "/identity.key",
		IPCSocketPath:   baseDir + "/control.sock",
	}
	s.Log.Level = "info"
	return s
}

// EnsureBaseDir creates BaseDir if it does not already exist.
func (s *Settings) EnsureBaseDir() error {
	return os.MkdirAll(s.BaseDir, 0o700)
}
