// Package threshold implements a 2-of-2 Schnorr aggregation over Ed25519:
// the client key share and the relay key share each contribute a partial
// signature over a jointly committed nonce, and the combined signature is
// computed with exactly RFC 8032's challenge formula so it verifies
// directly against crypto/ed25519.Verify — indistinguishable from a
// single-signer signature, per the threshold signing mode's requirement.
// Built on the same filippo.io/edwards25519 scalar/point arithmetic
// infrastructure/crypto/vrf.go uses for ECVRF.
package threshold

import (
	"crypto/rand"
	"crypto/sha512"

	"filippo.io/edwards25519"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// KeyShare is one party's additive share of the combined Ed25519 signing
// key: secret scalar x_i and its public point X_i = x_i*B.
type KeyShare struct {
	Scalar *edwards25519.Scalar
	Public *edwards25519.Point
}

// GenerateKeyShare creates a fresh random key share.
func GenerateKeyShare() (*KeyShare, error) {
	scalar, err := randomScalar()
	if err != nil {
		return nil, err
	}
	public := new(edwards25519.Point).ScalarBaseMult(scalar)
	return &KeyShare{Scalar: scalar, Public: public}, nil
}

// KeyShareFromScalarBytes rebuilds a persistent client key share from its
// raw 32-byte scalar, the form the client stores across sign calls (unlike
// a nonce commitment, a key share's scalar must never be freshly random).
func KeyShareFromScalarBytes(b []byte) (*KeyShare, error) {
	scalar, err := new(edwards25519.Scalar).SetCanonicalBytes(b)
	if err != nil {
		return nil, errors.InputValidation("threshold_key_share", "not a canonical scalar encoding")
	}
	public := new(edwards25519.Point).ScalarBaseMult(scalar)
	return &KeyShare{Scalar: scalar, Public: public}, nil
}

// CombinePublicKeys sums key-share public points into the joint Ed25519
// public key, returned as raw 32-byte compressed point bytes.
func CombinePublicKeys(shares ...*edwards25519.Point) []byte {
	sum := edwards25519.NewIdentityPoint()
	for _, s := range shares {
		sum = new(edwards25519.Point).Add(sum, s)
	}
	return sum.Bytes()
}

// Commitment is one party's nonce commitment for a single signing round.
// Nonce must never be reused across two different messages.
type Commitment struct {
	Nonce *edwards25519.Scalar
	R     *edwards25519.Point
}

// GenerateCommitment creates a fresh random nonce commitment.
func GenerateCommitment() (*Commitment, error) {
	nonce, err := randomScalar()
	if err != nil {
		return nil, err
	}
	r := new(edwards25519.Point).ScalarBaseMult(nonce)
	return &Commitment{Nonce: nonce, R: r}, nil
}

// CombineNonceCommitments sums per-party R points into the joint nonce
// commitment used in the shared challenge.
func CombineNonceCommitments(rs ...*edwards25519.Point) *edwards25519.Point {
	sum := edwards25519.NewIdentityPoint()
	for _, r := range rs {
		sum = new(edwards25519.Point).Add(sum, r)
	}
	return sum
}

// ComputeChallenge returns c = SHA-512(R || A || message) mod L, the exact
// RFC 8032 Ed25519 challenge, so the combined signature verifies with the
// standard library's ed25519.Verify.
func ComputeChallenge(combinedR *edwards25519.Point, combinedPublicKey []byte, message []byte) (*edwards25519.Scalar, error) {
	h := sha512.New()
	h.Write(combinedR.Bytes())
	h.Write(combinedPublicKey)
	h.Write(message)
	digest := h.Sum(nil)

	c, err := new(edwards25519.Scalar).SetUniformBytes(digest)
	if err != nil {
		return nil, errors.InternalInvariant("threshold challenge scalar reduction", err)
	}
	return c, nil
}

// PartialSign computes one party's share of the combined signature:
// s_i = nonce + c*x_i.
func PartialSign(commitment *Commitment, keyShare *KeyShare, challenge *edwards25519.Scalar) *edwards25519.Scalar {
	cx := new(edwards25519.Scalar).Multiply(challenge, keyShare.Scalar)
	return new(edwards25519.Scalar).Add(commitment.Nonce, cx)
}

// CombineSignatures sums partial signatures and assembles the standard
// 64-byte Ed25519 signature (R || s) for combinedR.
func CombineSignatures(combinedR *edwards25519.Point, partials ...*edwards25519.Scalar) []byte {
	sum := edwards25519.NewScalar()
	for _, p := range partials {
		sum = new(edwards25519.Scalar).Add(sum, p)
	}
	sig := make([]byte, 0, 64)
	sig = append(sig, combinedR.Bytes()...)
	sig = append(sig, sum.Bytes()...)
	return sig
}

func randomScalar() (*edwards25519.Scalar, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.InternalInvariant("threshold nonce randomness", err)
	}
	s, err := new(edwards25519.Scalar).SetUniformBytes(buf)
	if err != nil {
		return nil, errors.InternalInvariant("threshold scalar reduction", err)
	}
	return s, nil
}
