// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package schnorr

import (
	"crypto/elliptic"
	"errors"
	"math/big"

	"github.com/frostcluster/tss/common"
	"github.com/frostcluster/tss/crypto"
)

type (
	ZKProof struct {
		Alpha *crypto.ECPoint
		T     *big.Int
	}

	ZKVProof struct {
		Alpha *crypto.ECPoint
		T, U  *big.Int
	}
)

// NewZKProof constructs a new Schnorr ZK proof of knowledge of the discrete logarithm of X to the
// base of curve's generator. Used as the DKG round-1 proof of knowledge of the signer's secret
// share; curve is whichever of the three ciphersuites' curves the session runs under.
func NewZKProof(curve elliptic.Curve, x *big.Int, X *crypto.ECPoint) (*ZKProof, error) {
	if curve == nil || x == nil || X == nil || !X.ValidateBasic() {
		return nil, errors.New("ZKProof constructor received nil or invalid value(s)")
	}
	ecParams := curve.Params()
	q := ecParams.N
	g := crypto.NewECPointNoCurveCheck(curve, ecParams.Gx, ecParams.Gy) // already on the curve.

	a := common.GetRandomPositiveInt(q)
	alpha := crypto.ScalarBaseMult(curve, a)

	var c *big.Int
	{
		cHash := common.SHA512_256i(X.X(), X.Y(), g.X(), g.Y(), alpha.X(), alpha.Y())
		c = common.RejectionSample(q, cHash)
	}
	t := new(big.Int).Mul(c, x)
	t = common.ModInt(q).Add(a, t)

	return &ZKProof{Alpha: alpha, T: t}, nil
}

// Verify checks a Schnorr ZK proof of knowledge of the discrete logarithm of X.
func (pf *ZKProof) Verify(curve elliptic.Curve, X *crypto.ECPoint) bool {
	if pf == nil || curve == nil || !pf.ValidateBasic() {
		return false
	}
	ecParams := curve.Params()
	q := ecParams.N
	g := crypto.NewECPointNoCurveCheck(curve, ecParams.Gx, ecParams.Gy)

	var c *big.Int
	{
		cHash := common.SHA512_256i(X.X(), X.Y(), g.X(), g.Y(), pf.Alpha.X(), pf.Alpha.Y())
		c = common.RejectionSample(q, cHash)
	}
	tG := crypto.ScalarBaseMult(curve, pf.T)
	Xc := X.ScalarMult(c)
	aXc, err := pf.Alpha.Add(Xc)
	if err != nil {
		return false
	}
	return aXc.X().Cmp(tG.X()) == 0 && aXc.Y().Cmp(tG.Y()) == 0
}

func (pf *ZKProof) ValidateBasic() bool {
	return pf.T != nil && pf.Alpha != nil
}

// NewZKVProof constructs a new Schnorr ZK proof of knowledge of s, l such that V = R^s * g^l.
func NewZKVProof(curve elliptic.Curve, V, R *crypto.ECPoint, s, l *big.Int) (*ZKVProof, error) {
	if curve == nil || V == nil || R == nil || s == nil || l == nil || !V.ValidateBasic() || !R.ValidateBasic() {
		return nil, errors.New("ZKVProof constructor received nil value(s)")
	}
	ecParams := curve.Params()
	q := ecParams.N
	g := crypto.NewECPointNoCurveCheck(curve, ecParams.Gx, ecParams.Gy)

	a, b := common.GetRandomPositiveInt(q), common.GetRandomPositiveInt(q)
	aR := R.ScalarMult(a)
	bG := crypto.ScalarBaseMult(curve, b)
	alpha, _ := aR.Add(bG) // already on the curve.

	var c *big.Int
	{
		cHash := common.SHA512_256i(V.X(), V.Y(), R.X(), R.Y(), g.X(), g.Y(), alpha.X(), alpha.Y())
		c = common.RejectionSample(q, cHash)
	}
	modQ := common.ModInt(q)
	t := modQ.Add(a, new(big.Int).Mul(c, s))
	u := modQ.Add(b, new(big.Int).Mul(c, l))

	return &ZKVProof{Alpha: alpha, T: t, U: u}, nil
}

func (pf *ZKVProof) Verify(curve elliptic.Curve, V, R *crypto.ECPoint) bool {
	if pf == nil || curve == nil || !pf.ValidateBasic() {
		return false
	}
	ecParams := curve.Params()
	q := ecParams.N
	g := crypto.NewECPointNoCurveCheck(curve, ecParams.Gx, ecParams.Gy)

	var c *big.Int
	{
		cHash := common.SHA512_256i(V.X(), V.Y(), R.X(), R.Y(), g.X(), g.Y(), pf.Alpha.X(), pf.Alpha.Y())
		c = common.RejectionSample(q, cHash)
	}
	tR := R.ScalarMult(pf.T)
	uG := crypto.ScalarBaseMult(curve, pf.U)
	tRuG, _ := tR.Add(uG) // already on the curve.

	Vc := V.ScalarMult(c)
	aVc, err := pf.Alpha.Add(Vc)
	if err != nil {
		return false
	}
	return tRuG.X().Cmp(aVc.X()) == 0 && tRuG.Y().Cmp(aVc.Y()) == 0
}

func (pf *ZKVProof) ValidateBasic() bool {
	return pf.Alpha != nil && pf.T != nil && pf.U != nil && pf.Alpha.ValidateBasic()
}
