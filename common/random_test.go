// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frostcluster/tss/common"
)

const randomIntBitLen = 256

func TestMustGetRandomInt(t *testing.T) {
	rnd := common.MustGetRandomInt(randomIntBitLen)
	assert.NotZero(t, rnd, "rand int should not be zero")
	assert.True(t, rnd.BitLen() <= randomIntBitLen)
}

func TestGetRandomPositiveInt(t *testing.T) {
	bound := common.MustGetRandomInt(randomIntBitLen)
	rndPos := common.GetRandomPositiveInt(bound)
	assert.True(t, rndPos.Cmp(big.NewInt(0)) >= 0, "rand int should be non-negative")
	assert.True(t, rndPos.Cmp(bound) < 0, "rand int should be less than the bound")
}
