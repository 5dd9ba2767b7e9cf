// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common

import (
	"math/big"
)

// zero/one/two back GetRandomPositiveInt and MustGetRandomInt's bound
// arithmetic (common/random.go).
var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
	two  = big.NewInt(2)
)

// modInt is a *big.Int that performs all of its arithmetic with modular
// reduction by the group order q. It backs the scalar operations in the
// FROST polynomial evaluation, Lagrange interpolation, and Schnorr
// challenge arithmetic (crypto/vss, crypto/schnorr, crypto/frost); those
// packages still form some intermediate products with big.Int's own Mul
// before reducing them through modInt.
type modInt big.Int

// ModInt wraps mod (almost always a curve's order N) as a modInt.
func ModInt(mod *big.Int) *modInt {
	return (*modInt)(mod)
}

func (mi *modInt) Add(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Add(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Sub(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Sub(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Mul(x, y *big.Int) *big.Int {
	i := new(big.Int)
	i.Mul(x, y)
	return i.Mod(i, mi.i())
}

func (mi *modInt) Exp(x, y *big.Int) *big.Int {
	return new(big.Int).Exp(x, y, mi.i())
}

// ModInverse computes g^-1 mod mi, used for the Lagrange coefficient
// denominators in vss.Shares.ReConstruct and frost's lagrangeCoefficient.
func (mi *modInt) ModInverse(g *big.Int) *big.Int {
	return new(big.Int).ModInverse(g, mi.i())
}

func (mi *modInt) i() *big.Int {
	return (*big.Int)(mi)
}
