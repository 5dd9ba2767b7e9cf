// Package frost implements the FROST-family distributed key generation and
// threshold signing arithmetic referenced by the session state machines in
// package tss. It is built on the same Feldman VSS and Schnorr
// proof-of-knowledge primitives the teacher codebase uses for its GG20
// keygen round, generalized to the three-round Pedersen DKG and two-round
// Schnorr threshold signing FROST defines.
//
// Every exported function takes an explicit elliptic.Curve rather than
// reaching for a process-wide default, since a single process runs all
// three ciphersuites (Ed25519, Secp256k1, Secp256k1Tr) concurrently.
package frost

import (
	"crypto/elliptic"
	"math/big"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/frostcluster/tss/common"
	"github.com/frostcluster/tss/crypto"
	"github.com/frostcluster/tss/crypto/schnorr"
	"github.com/frostcluster/tss/crypto/vss"
)

type (
	// Round1Secret is the state a participant keeps privately between
	// dkg_part1 and dkg_part2.
	Round1Secret struct {
		Identifier  uint8
		PolyDegree  int // vss "threshold" param: min_signers - 1
		Secret0     *big.Int
		Vs          vss.Vs
		SharesByID  map[uint8]*big.Int // the shares we generated for each peer, including ourselves
	}

	// Round1Package is the value broadcast to every other participant
	// after dkg_part1: a Feldman commitment to our polynomial plus a
	// Schnorr proof of knowledge of its constant term.
	Round1Package struct {
		Identifier  uint8      `cbor:"id"`
		CommitmentX []*big.Int `cbor:"cx"`
		CommitmentY []*big.Int `cbor:"cy"`
		ProofAlphaX *big.Int   `cbor:"pax"`
		ProofAlphaY *big.Int   `cbor:"pay"`
		ProofT      *big.Int   `cbor:"pt"`
	}

	// Round2Package is the private share a participant sends to exactly
	// one recipient after dkg_part2.
	Round2Package struct {
		From  uint8    `cbor:"from"`
		To    uint8    `cbor:"to"`
		Share *big.Int `cbor:"share"`
	}

	// Round2Secret carries Round1Secret forward plus every peer's
	// Round1Package, needed in dkg_part3 to verify incoming shares.
	Round2Secret struct {
		Round1Secret
		OthersRound1 map[uint8]*Round1Package
	}

	// KeyShare is the result of a completed DKG: this participant's
	// signing key share and the group's public key.
	KeyShare struct {
		Identifier     uint8
		Secret         *big.Int
		GroupPublicKey *crypto.ECPoint
		Participants   []uint8
	}

	// Nonces are the hiding/binding scalars generated by sign_commit,
	// held secret by the signer until sign_share consumes them exactly
	// once.
	Nonces struct {
		Hiding, Binding *big.Int
	}

	// Commitment is the public counterpart of Nonces, broadcast in
	// Round1 of signing.
	Commitment struct {
		HidingX, HidingY   *big.Int
		BindingX, BindingY *big.Int
	}

	// SigningPackage is the coordinator-assembled context every signer
	// needs to produce its Round2 share.
	SigningPackage struct {
		Message      []byte
		Tweak        []byte
		Participants []uint8
		Commitments  map[uint8]*Commitment
	}

	// Signature is a completed, aggregated FROST signature.
	Signature struct {
		RX, RY *big.Int
		Z      *big.Int
	}
)

func polyDegree(minSigners int) int { return minSigners - 1 }

// DKGPart1 samples this participant's polynomial, Feldman-commits to it,
// and proves knowledge of its constant term.
func DKGPart1(curve elliptic.Curve, identifier uint8, participants []uint8, minSigners int) (*Round1Secret, *Round1Package, error) {
	if identifier == 0 {
		return nil, nil, errors.New("dkg_part1: identifier 0 is reserved and invalid")
	}
	degree := polyDegree(minSigners)
	if degree < 0 {
		return nil, nil, errors.New("dkg_part1: minSigners must be >= 1")
	}
	secret := common.GetRandomPositiveInt(curve.Params().N)
	vs, shares, err := vss.Create(curve, degree, secret, participants)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dkg_part1: vss.Create")
	}
	pok, err := schnorr.NewZKProof(curve, secret, vs[0])
	if err != nil {
		return nil, nil, errors.Wrap(err, "dkg_part1: schnorr.NewZKProof")
	}
	byID := make(map[uint8]*big.Int, len(shares))
	for id, share := range shares {
		byID[id] = share.Share
	}
	secret1 := &Round1Secret{
		Identifier: identifier,
		PolyDegree: degree,
		Secret0:    secret,
		Vs:         vs,
		SharesByID: byID,
	}
	cx, cy := flattenVs(vs)
	pkg1 := &Round1Package{
		Identifier:  identifier,
		CommitmentX: cx,
		CommitmentY: cy,
		ProofAlphaX: pok.Alpha.X(),
		ProofAlphaY: pok.Alpha.Y(),
		ProofT:      pok.T,
	}
	return secret1, pkg1, nil
}

// DKGPart2 verifies every other participant's round-1 proof of knowledge
// and produces the per-recipient shares of our own polynomial.
func DKGPart2(curve elliptic.Curve, secret1 *Round1Secret, others map[uint8]*Round1Package) (*Round2Secret, map[uint8]*Round2Package, error) {
	for id, pkg := range others {
		if id != pkg.Identifier {
			return nil, nil, errors.Errorf("dkg_part2: round1 package keyed %d but identifies as %d", id, pkg.Identifier)
		}
		vs, err := unflattenVs(curve, pkg.CommitmentX, pkg.CommitmentY)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dkg_part2: participant %d commitment", id)
		}
		alpha, err := crypto.NewECPoint(curve, pkg.ProofAlphaX, pkg.ProofAlphaY)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dkg_part2: participant %d proof alpha", id)
		}
		pok := &schnorr.ZKProof{Alpha: alpha, T: pkg.ProofT}
		if !pok.Verify(curve, vs[0]) {
			return nil, nil, errors.Errorf("dkg_part2: participant %d failed proof of knowledge", id)
		}
	}
	out := make(map[uint8]*Round2Package, len(secret1.SharesByID))
	for to, share := range secret1.SharesByID {
		if to == secret1.Identifier {
			continue // kept locally, never sent over the wire
		}
		out[to] = &Round2Package{From: secret1.Identifier, To: to, Share: share}
	}
	secret2 := &Round2Secret{Round1Secret: *secret1, OthersRound1: others}
	return secret2, out, nil
}

// DKGPart3 verifies every incoming share against its sender's commitment,
// sums them into this participant's key share, and derives the group
// public key as the sum of every participant's constant-term commitment.
func DKGPart3(curve elliptic.Curve, secret2 *Round2Secret, fromOthers map[uint8]*Round2Package) (*KeyShare, error) {
	modQ := common.ModInt(curve.Params().N)
	keyShare := new(big.Int).Set(secret2.SharesByID[secret2.Identifier])
	participants := make([]uint8, 0, len(secret2.OthersRound1)+1)
	participants = append(participants, secret2.Identifier)

	// merr accumulates every participant's validation failure instead of
	// bailing on the first: a single bad commitment or VSS share
	// shouldn't hide a second, independent failure elsewhere in the same
	// round. The combined error names each failing participant by
	// identifier in its text.
	var merr *multierror.Error
	var groupPK *crypto.ECPoint
	for id, pkg := range secret2.OthersRound1 {
		participants = append(participants, id)
		vs, err := unflattenVs(curve, pkg.CommitmentX, pkg.CommitmentY)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "dkg_part3: participant %d commitment", id))
			continue
		}
		if groupPK == nil {
			groupPK = vs[0]
		} else {
			groupPK, err = groupPK.Add(vs[0])
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "dkg_part3: accumulating group public key from participant %d", id))
				continue
			}
		}
		recv, ok := fromOthers[id]
		if !ok {
			merr = multierror.Append(merr, errors.Errorf("dkg_part3: missing round2 share from participant %d", id))
			continue
		}
		share := &vss.Share{Threshold: secret2.PolyDegree, Identifier: secret2.Identifier, Share: recv.Share}
		if !share.Verify(curve, secret2.PolyDegree, vs) {
			merr = multierror.Append(merr, errors.Errorf("dkg_part3: round2 share from participant %d failed verification", id))
			continue
		}
		keyShare = modQ.Add(keyShare, recv.Share)
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	if groupPK == nil {
		groupPK = secret2.Vs[0]
	} else {
		var err error
		groupPK, err = groupPK.Add(secret2.Vs[0])
		if err != nil {
			return nil, errors.Wrap(err, "dkg_part3: adding own commitment to group public key")
		}
	}
	return &KeyShare{
		Identifier:     secret2.Identifier,
		Secret:         keyShare,
		GroupPublicKey: groupPK,
		Participants:   participants,
	}, nil
}

// SignCommit generates a fresh (hiding, binding) nonce pair and their
// public commitments. The caller must store the nonces keyed by
// SubSessionId and consume them at most once.
func SignCommit(curve elliptic.Curve) (*Nonces, *Commitment, error) {
	q := curve.Params().N
	d := common.GetRandomPositiveInt(q)
	e := common.GetRandomPositiveInt(q)
	D := crypto.ScalarBaseMult(curve, d)
	E := crypto.ScalarBaseMult(curve, e)
	return &Nonces{Hiding: d, Binding: e}, &Commitment{
		HidingX: D.X(), HidingY: D.Y(),
		BindingX: E.X(), BindingY: E.Y(),
	}, nil
}

// bindingFactor computes rho_i, binding each signer's nonce pair to the
// message and the full commitment list for this signing package.
func bindingFactor(curve elliptic.Curve, id uint8, pkg *SigningPackage) *big.Int {
	ids := make([]uint8, len(pkg.Participants))
	copy(ids, pkg.Participants)
	// deterministic participant order so every signer derives the same transcript
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	transcript := make([][]byte, 0, 2+len(ids)*4)
	transcript = append(transcript, []byte{id}, pkg.Message)
	for _, pid := range ids {
		c := pkg.Commitments[pid]
		transcript = append(transcript, []byte{pid}, c.HidingX.Bytes(), c.HidingY.Bytes(), c.BindingX.Bytes(), c.BindingY.Bytes())
	}
	h := common.SHA512_256(transcript...)
	return new(big.Int).Mod(new(big.Int).SetBytes(h), curve.Params().N)
}

// groupCommitment computes R = sum_i (D_i + rho_i * E_i).
func groupCommitment(curve elliptic.Curve, pkg *SigningPackage) (*crypto.ECPoint, map[uint8]*big.Int, error) {
	rhos := make(map[uint8]*big.Int, len(pkg.Participants))
	var R *crypto.ECPoint
	for _, id := range pkg.Participants {
		c, ok := pkg.Commitments[id]
		if !ok {
			return nil, nil, errors.Errorf("groupCommitment: missing commitment for participant %d", id)
		}
		D, err := crypto.NewECPoint(curve, c.HidingX, c.HidingY)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "groupCommitment: participant %d hiding point", id)
		}
		E, err := crypto.NewECPoint(curve, c.BindingX, c.BindingY)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "groupCommitment: participant %d binding point", id)
		}
		rho := bindingFactor(curve, id, pkg)
		rhos[id] = rho
		Ri, err := D.Add(E.ScalarMult(rho))
		if err != nil {
			return nil, nil, errors.Wrap(err, "groupCommitment: D + rho*E")
		}
		if R == nil {
			R = Ri
		} else if R, err = R.Add(Ri); err != nil {
			return nil, nil, errors.Wrap(err, "groupCommitment: accumulating R")
		}
	}
	return R, rhos, nil
}

// challenge computes the Schnorr challenge c = H(R || group_pk || message).
func challenge(curve elliptic.Curve, R, groupPK *crypto.ECPoint, message []byte) *big.Int {
	h := common.SHA512_256(R.X().Bytes(), R.Y().Bytes(), groupPK.X().Bytes(), groupPK.Y().Bytes(), message)
	return new(big.Int).Mod(new(big.Int).SetBytes(h), curve.Params().N)
}

// lagrangeCoefficient computes lambda_i = prod_{j != i} x_j / (x_j - x_i) over the
// signing subset, evaluated at x = 0 (the secret's location).
func lagrangeCoefficient(curve elliptic.Curve, id uint8, subset []uint8) *big.Int {
	modQ := common.ModInt(curve.Params().N)
	xi := big.NewInt(int64(id))
	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, j := range subset {
		if j == id {
			continue
		}
		xj := big.NewInt(int64(j))
		num = modQ.Mul(num, xj)
		den = modQ.Mul(den, modQ.Sub(xj, xi))
	}
	return modQ.Mul(num, modQ.ModInverse(den))
}

// SignShare produces this participant's Round2 signature share.
func SignShare(curve elliptic.Curve, ks *KeyShare, nonces *Nonces, pkg *SigningPackage) (*big.Int, error) {
	tweakedSecret, tweakedPK, err := applyTweak(curve, ks.Secret, ks.GroupPublicKey, pkg.Tweak)
	if err != nil {
		return nil, err
	}
	R, rhos, err := groupCommitment(curve, pkg)
	if err != nil {
		return nil, err
	}
	c := challenge(curve, R, tweakedPK, pkg.Message)
	lambda := lagrangeCoefficient(curve, ks.Identifier, pkg.Participants)
	modQ := common.ModInt(curve.Params().N)
	rho := rhos[ks.Identifier]
	z := modQ.Add(nonces.Hiding, modQ.Mul(nonces.Binding, rho))
	z = modQ.Add(z, modQ.Mul(lambda, modQ.Mul(c, tweakedSecret)))
	return z, nil
}

// Aggregate combines every signer's share into the final signature and
// verifies it, per §4.3 ("aggregate; verify the produced signature").
func Aggregate(curve elliptic.Curve, pkg *SigningPackage, shares map[uint8]*big.Int, groupPK *crypto.ECPoint) (*Signature, error) {
	R, _, err := groupCommitment(curve, pkg)
	if err != nil {
		return nil, err
	}
	// merr collects every malformed share instead of summing a garbage one
	// silently and only discovering the problem at final verification,
	// where the culprit is no longer identifiable.
	var merr *multierror.Error
	for _, id := range pkg.Participants {
		share, ok := shares[id]
		if !ok {
			merr = multierror.Append(merr, errors.Errorf("aggregate: missing share from participant %d", id))
			continue
		}
		if share.Sign() <= 0 || share.Cmp(curve.Params().N) >= 0 {
			merr = multierror.Append(merr, errors.Errorf("aggregate: share from participant %d is out of range", id))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	modQ := common.ModInt(curve.Params().N)
	z := big.NewInt(0)
	for _, share := range shares {
		z = modQ.Add(z, share)
	}
	sig := &Signature{RX: R.X(), RY: R.Y(), Z: z}
	_, tweakedPK, err := applyTweak(curve, nil, groupPK, pkg.Tweak)
	if err != nil {
		return nil, err
	}
	if !Verify(curve, sig, pkg.Message, tweakedPK) {
		return nil, errors.New("aggregate: produced signature failed verification")
	}
	return sig, nil
}

// Verify checks a completed signature against (message, group_pk); any
// taproot tweak must already have been folded into group_pk by the caller
// via applyTweak, matching the ciphersuite's taproot tweak rule.
func Verify(curve elliptic.Curve, sig *Signature, message []byte, groupPK *crypto.ECPoint) bool {
	R, err := crypto.NewECPoint(curve, sig.RX, sig.RY)
	if err != nil {
		return false
	}
	c := challenge(curve, R, groupPK, message)
	zG := crypto.ScalarBaseMult(curve, sig.Z)
	cPK := groupPK.ScalarMult(c)
	RcPK, err := R.Add(cPK)
	if err != nil {
		return false
	}
	return zG.Equals(RcPK)
}

// applyTweak folds a taproot tweak into the group public key (and, when
// secret is non-nil, into a participant's share of the secret key) per
// BIP-340/341: tweaked_pk = group_pk + tweak*G, tweaked_secret = secret +
// tweak (scaled by this signer's identity only implicitly through the
// additive share, since FROST's linearity lets each signer add the same
// constant and sum correctly). A nil/empty tweak is a no-op.
func applyTweak(curve elliptic.Curve, secret *big.Int, groupPK *crypto.ECPoint, tweak []byte) (*big.Int, *crypto.ECPoint, error) {
	if len(tweak) == 0 {
		return secret, groupPK, nil
	}
	q := curve.Params().N
	t := new(big.Int).Mod(new(big.Int).SetBytes(tweak), q)
	tweakedPK, err := groupPK.Add(crypto.ScalarBaseMult(curve, t))
	if err != nil {
		return nil, nil, errors.Wrap(err, "applyTweak: group_pk + tweak*G")
	}
	if secret == nil {
		return nil, tweakedPK, nil
	}
	modQ := common.ModInt(q)
	return modQ.Add(secret, t), tweakedPK, nil
}

// ApplyTweak is the exported form used by the ciphersuite adapter's
// PkTweak (§4.5) to compute a tweaked group public key with no protocol
// round.
func ApplyTweak(curve elliptic.Curve, groupPK *crypto.ECPoint, tweak []byte) (*crypto.ECPoint, error) {
	_, pk, err := applyTweak(curve, nil, groupPK, tweak)
	return pk, err
}

func flattenVs(vs vss.Vs) ([]*big.Int, []*big.Int) {
	xs := make([]*big.Int, len(vs))
	ys := make([]*big.Int, len(vs))
	for i, v := range vs {
		xs[i], ys[i] = v.X(), v.Y()
	}
	return xs, ys
}

func unflattenVs(curve elliptic.Curve, xs, ys []*big.Int) (vss.Vs, error) {
	if len(xs) != len(ys) {
		return nil, errors.New("unflattenVs: mismatched coordinate slice lengths")
	}
	vs := make(vss.Vs, len(xs))
	for i := range xs {
		p, err := crypto.NewECPoint(curve, xs[i], ys[i])
		if err != nil {
			return nil, err
		}
		vs[i] = p
	}
	return vs, nil
}
