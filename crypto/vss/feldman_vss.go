// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Feldman VSS, based on Paul Feldman, 1987., A practical scheme for non-interactive verifiable secret sharing.
// In Foundations of Computer Science, 1987., 28th Annual Symposium on. IEEE, 427–43
//
// Adapted for FROST's fixed participant-identifier space (§3): shares are
// keyed by the cluster's uint8 Identifier rather than an arbitrary big.Int
// index, so callers in package frost never round-trip an identifier through
// big.NewInt/int64 just to hand it to this package.

package vss

import (
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"github.com/frostcluster/tss/common"
	"github.com/frostcluster/tss/crypto"
)

type (
	// Share is one participant's point on the dealer's polynomial,
	// identified by its FROST Identifier rather than a free-form index.
	Share struct {
		Threshold  int
		Identifier uint8
		Share      *big.Int // Sigma i
	}

	Vs []*crypto.ECPoint // v0..vt

	Shares map[uint8]*Share
)

var (
	ErrNumSharesBelowThreshold = fmt.Errorf("not enough shares to satisfy the threshold")

	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// CheckIdentifiers rejects a zero identifier (reserved, invalid per §3) or a
// duplicate entry in participants.
func CheckIdentifiers(participants []uint8) ([]uint8, error) {
	visited := make(map[uint8]struct{}, len(participants))
	for _, id := range participants {
		if id == 0 {
			return nil, errors.New("party identifier 0 is reserved and invalid")
		}
		if _, ok := visited[id]; ok {
			return nil, fmt.Errorf("duplicate identifier %d", id)
		}
		visited[id] = struct{}{}
	}
	return participants, nil
}

// Create returns the Feldman commitment Vs to secret's polynomial, plus
// every listed participant's share of it, requiring threshold+1 points to
// reconstruct.
func Create(ec elliptic.Curve, threshold int, secret *big.Int, participants []uint8) (Vs, Shares, error) {
	if secret == nil || participants == nil {
		return nil, nil, fmt.Errorf("vss secret or participants == nil: %v %v", secret, participants)
	}
	if threshold < 0 {
		return nil, nil, errors.New("vss threshold < 0")
	}

	ids, err := CheckIdentifiers(participants)
	if err != nil {
		return nil, nil, err
	}

	num := len(ids)
	if num < threshold {
		return nil, nil, ErrNumSharesBelowThreshold
	}

	poly := samplePolynomial(ec, threshold, secret)
	poly[0] = secret // becomes sigma*G in v
	v := make(Vs, len(poly))
	for i, ai := range poly {
		v[i] = crypto.ScalarBaseMult(ec, ai)
	}

	shares := make(Shares, num)
	for _, id := range ids {
		share := evaluatePolynomial(ec, threshold, poly, idAsBigInt(id))
		shares[id] = &Share{Threshold: threshold, Identifier: id, Share: share}
	}
	return v, shares, nil
}

// Verify checks share against the dealer's commitment vs.
func (share *Share) Verify(ec elliptic.Curve, threshold int, vs Vs) bool {
	if share.Threshold != threshold || vs == nil {
		return false
	}
	id := idAsBigInt(share.Identifier)
	var err error
	modQ := common.ModInt(ec.Params().N)
	v, t := vs[0], one // accumulator outside the loop
	for j := 1; j <= threshold; j++ {
		// t = k_i^j
		t = modQ.Mul(t, id)
		// v = v * v_j^t
		vjt := vs[j].SetCurve(ec).ScalarMult(t)
		v, err = v.SetCurve(ec).Add(vjt)
		if err != nil {
			return false
		}
	}
	sigmaGi := crypto.ScalarBaseMult(ec, share.Share)
	return sigmaGi.Equals(v)
}

// ReConstruct recovers the shared secret via Lagrange interpolation at x=0
// over shares, keyed by participant Identifier.
func (shares Shares) ReConstruct(ec elliptic.Curve) (secret *big.Int, err error) {
	if shares == nil {
		return nil, ErrNumSharesBelowThreshold
	}
	var threshold int
	for _, s := range shares {
		threshold = s.Threshold
		break
	}
	if threshold > len(shares) {
		return nil, ErrNumSharesBelowThreshold
	}
	modN := common.ModInt(ec.Params().N)

	xs := make(map[uint8]*big.Int, len(shares))
	for id := range shares {
		xs[id] = idAsBigInt(id)
	}

	secret = zero
	for i, share := range shares {
		times := one
		for j, xj := range xs {
			if j == i {
				continue
			}
			sub := modN.Sub(xj, xs[i])
			subInv := modN.ModInverse(sub)
			div := modN.Mul(xj, subInv)
			times = modN.Mul(times, div)
		}

		fTimes := modN.Mul(share.Share, times)
		secret = modN.Add(secret, fTimes)
	}

	return secret, nil
}

func samplePolynomial(ec elliptic.Curve, threshold int, secret *big.Int) []*big.Int {
	q := ec.Params().N
	v := make([]*big.Int, threshold+1)
	v[0] = secret
	for i := 1; i <= threshold; i++ {
		ai := common.GetRandomPositiveInt(q)
		v[i] = ai
	}
	return v
}

// evaluatePolynomial evaluates coefficients v at id:
// evaluatePolynomial([a, b, c, d], x) returns a + bx + cx^2 + dx^3
func evaluatePolynomial(ec elliptic.Curve, threshold int, v []*big.Int, id *big.Int) (result *big.Int) {
	q := ec.Params().N
	modQ := common.ModInt(q)
	result = new(big.Int).Set(v[0])
	X := big.NewInt(int64(1))
	for i := 1; i <= threshold; i++ {
		ai := v[i]
		X = modQ.Mul(X, id)
		aiXi := new(big.Int).Mul(ai, X)
		result = modQ.Add(result, aiXi)
	}
	return
}

func idAsBigInt(id uint8) *big.Int { return big.NewInt(int64(id)) }
