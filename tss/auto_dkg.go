// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// autoDKGState is the on-disk record of the base key generated per
// ciphersuite. It is plain JSON (unlike the CBOR wire protocol) since this
// file exists for an operator to read, not to be parsed by another process
// over the network.
type autoDKGState struct {
	Threshold int                    `json:"threshold"`
	PkIds     map[Ciphersuite]string `json:"pk_ids"` // hex-encoded PkId, keyed by ciphersuite
}

// AutoDKGController is the optional §4.6 watcher: once every whitelisted
// identity is registered, it starts exactly one NewKey per ciphersuite,
// persisting progress to <baseDir>/auto_dkg.json so a restart does not
// regenerate a key that already exists. If the persisted state could not
// be loaded (corrupt or from an incompatible version), the controller
// starts in read-only mode: it reports what it found but triggers no new
// DKG, since guessing wrong here would silently produce a second key for
// a ciphersuite that may already have one in the key store. A controller
// loaded from an existing auto_dkg.json is also read-only — per §4.6 this
// prevents a second NewKey from producing base-key ambiguity once a base
// set already exists.
type AutoDKGController struct {
	mtx          sync.Mutex
	path         string
	threshold    int
	whitelist    map[string]bool // keyed by string(identity)
	ciphersuites []Ciphersuite
	validators   *ValidatorTable
	manager      *SessionManager
	state        autoDKGState
	readOnly     bool
	loadedFile   bool
}

func NewAutoDKGController(baseDir string, threshold int, whitelist [][]byte, ciphersuites []Ciphersuite, validators *ValidatorTable, manager *SessionManager) (*AutoDKGController, error) {
	wl := make(map[string]bool, len(whitelist))
	for _, id := range whitelist {
		wl[string(id)] = true
	}
	c := &AutoDKGController{
		path:         filepath.Join(baseDir, "auto_dkg.json"),
		threshold:    threshold,
		whitelist:    wl,
		ciphersuites: ciphersuites,
		validators:   validators,
		manager:      manager,
		state:        autoDKGState{Threshold: threshold, PkIds: make(map[Ciphersuite]string)},
	}
	ok, err := c.load()
	if err != nil {
		c.readOnly = true
		return c, errors.Wrap(err, "auto_dkg: loading persisted state, entering read-only mode")
	}
	c.loadedFile = ok
	c.readOnly = ok // an existing file makes auto-DKG (and manual NewKey) read-only, per §4.6
	return c, nil
}

func (c *AutoDKGController) load() (bool, error) {
	bz, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var s autoDKGState
	if err := json.Unmarshal(bz, &s); err != nil {
		return false, err
	}
	if s.PkIds == nil {
		s.PkIds = make(map[Ciphersuite]string)
	}
	c.state = s
	return true, nil
}

func (c *AutoDKGController) persist() error {
	bz, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "auto_dkg: marshal state")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, bz, 0o600); err != nil {
		return errors.Wrap(err, "auto_dkg: write temp")
	}
	return errors.Wrap(os.Rename(tmp, c.path), "auto_dkg: rename")
}

// ReadOnly reports whether auto-DKG is in read-only mode: persisted-state
// loading failed, or a valid auto_dkg.json already existed on startup. In
// this mode CheckAndTrigger never starts a new DKG, and the coordinator's
// manual NewKey handler must also reject requests (§8 invariant 7).
func (c *AutoDKGController) ReadOnly() bool {
	return c.readOnly
}

// Status reports the controller's configured threshold and every
// ciphersuite's completed PkId so far, for the node "AutoDKG" status query
// and the IPC surface.
func (c *AutoDKGController) Status() (threshold int, pkIDs map[Ciphersuite][32]byte) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make(map[Ciphersuite][32]byte, len(c.state.PkIds))
	for cs, hexID := range c.state.PkIds {
		var id [32]byte
		if bz, err := hex.DecodeString(hexID); err == nil && len(bz) == 32 {
			copy(id[:], bz)
		}
		out[cs] = id
	}
	return c.state.Threshold, out
}

// whitelistSatisfied reports whether the set of currently-registered
// validators exactly equals the configured whitelist (§4.6: "When the set
// equals the whitelist (exact equality)").
func (c *AutoDKGController) whitelistSatisfied() bool {
	if len(c.whitelist) == 0 {
		return false
	}
	registered := c.validators.List()
	if len(registered) != len(c.whitelist) {
		return false
	}
	for _, v := range registered {
		if !c.whitelist[string(v.Identity)] {
			return false
		}
	}
	return true
}

// CheckAndTrigger is called whenever the validator table changes (a new
// registration). It starts at most one NewKey per ciphersuite that has not
// already completed, once the registered set exactly equals the whitelist.
func (c *AutoDKGController) CheckAndTrigger() ([]SessionId, error) {
	if c.readOnly {
		return nil, nil
	}
	if !c.whitelistSatisfied() {
		return nil, nil
	}
	validators := c.validators.List()
	sort.Slice(validators, func(i, j int) bool { return string(validators[i].Identity) < string(validators[j].Identity) })
	participants := make(UnSortedParticipants, len(validators))
	for i, v := range validators {
		participants[i] = NewParticipant(uint8(i+1), v.Identity, v.Address)
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	var started []SessionId
	for _, cs := range c.ciphersuites {
		if _, ok := c.state.PkIds[cs]; ok {
			continue
		}
		sessionID, end, err := c.manager.NewKey(cs, c.threshold, participants, []byte(cs))
		if err != nil {
			// Already in flight (or a transient failure) — not fatal to
			// the controller; the next registration retries.
			continue
		}
		started = append(started, sessionID)
		go c.awaitCompletion(cs, sessionID, end)
	}
	return started, nil
}

func (c *AutoDKGController) awaitCompletion(cs Ciphersuite, sessionID SessionId, end <-chan *DKGResult) {
	result := <-end
	_ = c.manager.CompleteDKG(sessionID, result)
	if result.Err != nil {
		return
	}
	pkID := PkIdOf(result.GroupPublicKeyX, result.GroupPublicKeyY)
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.state.PkIds[cs] = hex.EncodeToString(pkID[:])
	_ = c.persist()
}
