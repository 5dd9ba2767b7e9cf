package frost_test

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostcluster/tss/crypto/frost"
)

var curve = btcec.S256()

func runDKG(t *testing.T, ids []uint8, minSigners int) map[uint8]*frost.KeyShare {
	secrets1 := make(map[uint8]*frost.Round1Secret, len(ids))
	pkgs1 := make(map[uint8]*frost.Round1Package, len(ids))
	for _, id := range ids {
		s1, p1, err := frost.DKGPart1(curve, id, ids, minSigners)
		require.NoError(t, err)
		secrets1[id] = s1
		pkgs1[id] = p1
	}

	secrets2 := make(map[uint8]*frost.Round2Secret, len(ids))
	round2Out := make(map[uint8]map[uint8]*frost.Round2Package, len(ids)) // from -> to -> pkg
	for _, id := range ids {
		others := make(map[uint8]*frost.Round1Package, len(ids)-1)
		for _, other := range ids {
			if other != id {
				others[other] = pkgs1[other]
			}
		}
		s2, out, err := frost.DKGPart2(curve, secrets1[id], others)
		require.NoError(t, err)
		secrets2[id] = s2
		round2Out[id] = out
	}

	keyShares := make(map[uint8]*frost.KeyShare, len(ids))
	for _, id := range ids {
		fromOthers := make(map[uint8]*frost.Round2Package, len(ids)-1)
		for _, from := range ids {
			if from == id {
				continue
			}
			fromOthers[from] = round2Out[from][id]
		}
		ks, err := frost.DKGPart3(curve, secrets2[id], fromOthers)
		require.NoError(t, err)
		keyShares[id] = ks
	}
	return keyShares
}

func TestDKGAllSignersAgreeOnGroupKey(t *testing.T) {
	ids := []uint8{1, 2, 3}
	keyShares := runDKG(t, ids, 2)

	first := keyShares[ids[0]].GroupPublicKey
	for _, id := range ids[1:] {
		assert.True(t, first.Equals(keyShares[id].GroupPublicKey), "all signers must derive the same group public key")
	}
}

func TestSignAndVerify(t *testing.T) {
	ids := []uint8{1, 2, 3}
	keyShares := runDKG(t, ids, 2)

	subset := []uint8{1, 2}
	message := []byte("hello")

	nonces := make(map[uint8]*frost.Nonces, len(subset))
	commitments := make(map[uint8]*frost.Commitment, len(subset))
	for _, id := range subset {
		n, c, err := frost.SignCommit(curve)
		require.NoError(t, err)
		nonces[id] = n
		commitments[id] = c
	}

	pkg := &frost.SigningPackage{
		Message:      message,
		Participants: subset,
		Commitments:  commitments,
	}

	shares := make(map[uint8]*big.Int, len(subset))
	for _, id := range subset {
		z, err := frost.SignShare(curve, keyShares[id], nonces[id], pkg)
		require.NoError(t, err)
		shares[id] = z
	}

	sig, err := frost.Aggregate(curve, pkg, shares, keyShares[subset[0]].GroupPublicKey)
	require.NoError(t, err)
	assert.True(t, frost.Verify(curve, sig, message, keyShares[subset[0]].GroupPublicKey))
}
