// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"encoding/binary"
	"sort"

	"github.com/frostcluster/tss/common"
)

// SessionId is the 32-byte deterministic identifier for a DKG job:
// H(ciphersuite || threshold || sorted participant identities || salt).
// Permuting the participant list does not change it; changing any member
// does.
type SessionId [32]byte

// SubSessionId is the deterministic identifier for a signing job:
// H(SessionId || message || tweak || signer subset).
type SubSessionId [32]byte

// NewSessionId computes the deterministic SessionId for a DKG job. identities
// is the set of registered validator identities participating; salt
// disambiguates otherwise-identical repeated DKG requests (e.g. the request
// nonce or a random value supplied by the caller).
func NewSessionId(ciphersuite Ciphersuite, threshold int, identities [][]byte, salt []byte) SessionId {
	sorted := make([][]byte, len(identities))
	copy(sorted, identities)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i]) < string(sorted[j]) })

	thresholdBz := make([]byte, 4)
	binary.BigEndian.PutUint32(thresholdBz, uint32(threshold))

	parts := make([][]byte, 0, 3+len(sorted))
	parts = append(parts, []byte(ciphersuite), thresholdBz)
	parts = append(parts, sorted...)
	parts = append(parts, salt)

	var id SessionId
	copy(id[:], common.SHA512_256(parts...)[:32])
	return id
}

// NewSubSessionId computes the deterministic SubSessionId for a signing job.
func NewSubSessionId(sessionID SessionId, message, tweak []byte, subset []uint8) SubSessionId {
	sortedSubset := make([]uint8, len(subset))
	copy(sortedSubset, subset)
	sort.Slice(sortedSubset, func(i, j int) bool { return sortedSubset[i] < sortedSubset[j] })
	subsetBz := make([]byte, len(sortedSubset))
	copy(subsetBz, sortedSubset)

	var sub SubSessionId
	copy(sub[:], common.SHA512_256(sessionID[:], message, tweak, subsetBz)[:32])
	return sub
}

func (id SessionId) Bytes() []byte { return id[:] }

func (id SubSessionId) Bytes() []byte { return id[:] }

func (id SessionId) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

func (id SubSessionId) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
