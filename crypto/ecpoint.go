// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec"
)

// ECPoint represents a point on an elliptic curve in affine form. It is designed to be immutable.
//
// A single ECPoint implementation is shared across all three ciphersuites (Ed25519, Secp256k1,
// Secp256k1Tr); the concrete curve (decred's edwards.Edwards() or btcec.S256()) is carried
// alongside the coordinates so the same VSS/Schnorr-proof code in this module works for any of
// them.
type ECPoint struct {
	curve  elliptic.Curve
	coords [2]*big.Int
	// get/set with atomic; avoids a data race in ValidateBasic
	onCurveKnown uint32
}

// NewECPoint creates a new ECPoint and checks that the given coordinates are on the elliptic curve.
func NewECPoint(curve elliptic.Curve, X, Y *big.Int) (*ECPoint, error) {
	if !isOnCurve(curve, X, Y) {
		return nil, fmt.Errorf("NewECPoint: the given point is not on the elliptic curve")
	}
	return &ECPoint{curve, [2]*big.Int{X, Y}, 1}, nil
}

// NewECPointNoCurveCheck creates a new ECPoint without checking that the coordinates are on the
// elliptic curve. Only use this function when you are completely sure that the point is already
// on the curve.
func NewECPointNoCurveCheck(curve elliptic.Curve, X, Y *big.Int) *ECPoint {
	return &ECPoint{curve, [2]*big.Int{X, Y}, 0}
}

func (p *ECPoint) X() *big.Int {
	return new(big.Int).Set(p.coords[0])
}

func (p *ECPoint) Y() *big.Int {
	return new(big.Int).Set(p.coords[1])
}

func (p *ECPoint) Curve() elliptic.Curve {
	return p.curve
}

func (p *ECPoint) Add(b *ECPoint) (*ECPoint, error) {
	x, y := p.curve.Add(p.X(), p.Y(), b.X(), b.Y())
	return NewECPoint(p.curve, x, y)
}

func (p *ECPoint) Sub(b *ECPoint) (*ECPoint, error) {
	return p.Add(b.Neg())
}

func (p *ECPoint) Neg() *ECPoint {
	order := p.curve.Params().P
	negY := new(big.Int).Neg(p.Y())
	negY.Mod(negY, order) // ok here because we're describing a curve point.
	return NewECPointNoCurveCheck(p.curve, p.X(), negY)
}

func (p *ECPoint) ScalarMultBytes(k []byte) *ECPoint {
	x, y := p.curve.ScalarMult(p.X(), p.Y(), k)
	newP, _ := NewECPoint(p.curve, x, y) // it must be on the curve, no need to check.
	return newP
}

func (p *ECPoint) ScalarMult(k *big.Int) *ECPoint {
	return p.ScalarMultBytes(k.Bytes())
}

func (p *ECPoint) IsOnCurve() bool {
	return isOnCurve(p.curve, p.coords[0], p.coords[1])
}

func (p *ECPoint) Equals(b *ECPoint) bool {
	if p == nil || b == nil {
		return false
	}
	return p.X().Cmp(b.X()) == 0 && p.Y().Cmp(b.Y()) == 0
}

func (p *ECPoint) SetCurve(curve elliptic.Curve) *ECPoint {
	p.curve = curve
	return p
}

func (p *ECPoint) ValidateBasic() bool {
	onCurveKnown := atomic.LoadUint32(&p.onCurveKnown) == 1
	res := p != nil && p.coords[0] != nil && p.coords[1] != nil && (onCurveKnown || p.IsOnCurve())
	if res && !onCurveKnown {
		atomic.StoreUint32(&p.onCurveKnown, 1)
	}
	return res
}

// Bytes returns the fixed-width big-endian encoding of (X || Y), suitable for inclusion in a
// CBOR wire message.
func (p *ECPoint) Bytes() []byte {
	bzX, bzY := p.X().Bytes(), p.Y().Bytes()
	byteSize := p.curve.Params().BitSize / 8
	tmpX := make([]byte, byteSize-len(bzX), byteSize) // pad
	tmpY := make([]byte, byteSize-len(bzY), byteSize)
	if 0 < len(bzX) {
		tmpX = append(tmpX, bzX...)
	}
	if 0 < len(bzY) {
		tmpY = append(tmpY, bzY...)
	}
	return append(tmpX, tmpY...)
}

func (p *ECPoint) ToECDSAPubKey() *ecdsa.PublicKey {
	return &ecdsa.PublicKey{
		Curve: p.curve,
		X:     p.X(),
		Y:     p.Y(),
	}
}

// ----- //

func isOnCurve(c elliptic.Curve, x, y *big.Int) bool {
	if x == nil || y == nil {
		return false
	}
	return c.IsOnCurve(x, y)
}

func ScalarBaseMult(curve elliptic.Curve, k *big.Int) *ECPoint {
	x, y := curve.ScalarBaseMult(k.Bytes())
	p, _ := NewECPoint(curve, x, y) // it must be on the curve, no need to check.
	return p
}

// DecompressPoint recovers the Y coordinate of a point from its X coordinate and a sign byte.
// Supports secp256k1 and P-256 only. Nothing in this module calls it: every ciphersuite,
// Secp256k1Tr included, carries full (X, Y) coordinates over the wire.
func DecompressPoint(curve elliptic.Curve, x *big.Int, sign byte) (*ECPoint, error) {
	if curve == nil || x == nil {
		return nil, errors.New("DecompressPoint() received one or more nil args")
	}
	switch curve {
	case btcec.S256():
		return decompressPointSecp256k1(curve, x, sign)
	case elliptic.P256():
		return decompressPointP256(curve, x, sign)
	default:
		return nil, fmt.Errorf("DecompressPoint() unsupported curve provided; please implement DecompressPoint for that curve")
	}
}

func decompressPointSecp256k1(curve elliptic.Curve, x *big.Int, sign byte) (*ECPoint, error) {
	params := curve.Params()
	modP := modIntP(params.P)

	// secp256k1: y^2 = x^3 + 7
	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)

	y2 := x3.Add(x3, big.NewInt(7))

	y := modP.sqrt(y2)
	if y == nil {
		return nil, errors.New("DecompressPoint() invalid point")
	}
	if y.Bit(0) != uint(sign)&1 {
		y = modP.neg(y)
	}
	return &ECPoint{
		curve:  curve,
		coords: [2]*big.Int{x, y},
	}, nil
}

// Adapted from IsOnCurve from the stdlib, with an extra modular square root to recover the Y
// coordinate. Only implemented for secp256k1 and P256 for now.
func decompressPointP256(curve elliptic.Curve, x *big.Int, sign byte) (*ECPoint, error) {
	params := curve.Params()
	modP := modIntP(params.P)
	three := big.NewInt(3)

	// P-256: y^2 = x^3 - 3x + b
	x3 := modP.exp(x, three)
	threeX := modP.mul(x, three)

	y2 := new(big.Int).Sub(x3, threeX)
	y2 = modP.add(y2, params.B)

	y := modP.sqrt(y2)
	if y == nil {
		return nil, errors.New("DecompressPoint() invalid point")
	}
	if y.Bit(0) != uint(sign)&1 {
		y = modP.neg(y)
	}
	return &ECPoint{
		curve:  curve,
		coords: [2]*big.Int{x, y},
	}, nil
}

// FlattenECPoints flattens a slice of points into a slice of big.Int coordinates
// (x0, y0, x1, y1, ...). crypto/frost serializes its VSS commitment vectors with its own
// flattenVs helper instead, as separate X and Y slices.
func FlattenECPoints(in []*ECPoint) ([]*big.Int, error) {
	if in == nil {
		return nil, errors.New("FlattenECPoints encountered a nil in slice")
	}
	flat := make([]*big.Int, 0, len(in)*2)
	for _, point := range in {
		if point == nil || point.coords[0] == nil || point.coords[1] == nil {
			return nil, errors.New("FlattenECPoints found nil point/coordinate")
		}
		flat = append(flat, point.coords[0])
		flat = append(flat, point.coords[1])
	}
	return flat, nil
}

func UnFlattenECPoints(curve elliptic.Curve, in []*big.Int, noCurveCheck ...bool) ([]*ECPoint, error) {
	if in == nil || len(in)%2 != 0 {
		return nil, errors.New("UnFlattenECPoints expected an in len divisible by 2")
	}
	var err error
	unFlat := make([]*ECPoint, len(in)/2)
	for i, j := 0, 0; i < len(in); i, j = i+2, j+1 {
		if len(noCurveCheck) == 0 || !noCurveCheck[0] {
			unFlat[j], err = NewECPoint(curve, in[i], in[i+1])
			if err != nil {
				return nil, err
			}
		} else {
			unFlat[j] = NewECPointNoCurveCheck(curve, in[i], in[i+1])
		}
	}
	return unFlat, nil
}

// ----- //
// minimal modular-arithmetic helper, local to this file so that point decompression does not
// depend on the common package.

type modIntP big.Int

func (mi *modIntP) i() *big.Int { return (*big.Int)(mi) }

func (mi *modIntP) add(x, y *big.Int) *big.Int {
	z := new(big.Int).Add(x, y)
	return z.Mod(z, mi.i())
}

func (mi *modIntP) mul(x, y *big.Int) *big.Int {
	z := new(big.Int).Mul(x, y)
	return z.Mod(z, mi.i())
}

func (mi *modIntP) exp(x, y *big.Int) *big.Int {
	return new(big.Int).Exp(x, y, mi.i())
}

func (mi *modIntP) neg(x *big.Int) *big.Int {
	z := new(big.Int).Neg(x)
	return z.Mod(z, mi.i())
}

func (mi *modIntP) sqrt(x *big.Int) *big.Int {
	z := new(big.Int).Mod(x, mi.i())
	return new(big.Int).ModSqrt(z, mi.i())
}
