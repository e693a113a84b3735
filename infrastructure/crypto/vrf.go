package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"

	"filippo.io/edwards25519"
)

// =============================================================================
// ECVRF-EDWARDS25519-SHA512-TAI Implementation (RFC 9381 section 5.5)
// =============================================================================
//
// Hash-to-curve uses try-and-increment (TAI); nonce generation follows the
// RFC 8032 Ed25519 deterministic-nonce construction; challenge and
// proof-to-hash both hash over SHA-512 and the suite's domain separators.

// suite string byte for ECVRF-EDWARDS25519-SHA512-TAI.
const vrfSuiteEdwards = byte(0x03)

// VRFProof holds the three proof components pi = (Gamma, c, s).
type VRFProof struct {
	Gamma *edwards25519.Point
	C     *edwards25519.Scalar
	S     *edwards25519.Scalar
}

// VRFResult bundles the proof with its 64-byte beta output.
type VRFResult struct {
	Beta  []byte
	Proof *VRFProof
}

// GenerateVRFProof computes pi = ECVRF_prove(SK, alpha) and beta =
// ECVRF_proof_to_hash(pi) for an Ed25519 private key.
func GenerateVRFProof(privateKey ed25519.PrivateKey, alpha []byte) (*VRFResult, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("vrf: invalid private key size")
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)

	x, extension, err := secretScalar(privateKey)
	if err != nil {
		return nil, err
	}

	h, err := hashToCurveEdwards(publicKey, alpha)
	if err != nil {
		return nil, err
	}

	gamma := new(edwards25519.Point).ScalarMult(x, h)

	k, err := nonceEdwards(extension, h)
	if err != nil {
		return nil, err
	}

	u := new(edwards25519.Point).ScalarBaseMult(k)
	v := new(edwards25519.Point).ScalarMult(k, h)

	pubPoint, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return nil, errors.New("vrf: invalid public key point")
	}

	c := challengeEdwards(pubPoint, h, gamma, u, v)

	cx := new(edwards25519.Scalar).Multiply(c, x)
	s := new(edwards25519.Scalar).Add(k, cx)

	return &VRFResult{
		Beta: proofToHashEdwards(gamma),
		Proof: &VRFProof{
			Gamma: gamma,
			C:     c,
			S:     s,
		},
	}, nil
}

// VerifyVRFProof runs ECVRF_verify(PK, alpha, pi) and returns (beta, true)
// when the proof is valid.
func VerifyVRFProof(publicKey ed25519.PublicKey, alpha []byte, proof *VRFProof) ([]byte, bool) {
	if len(publicKey) != ed25519.PublicKeySize || proof == nil {
		return nil, false
	}

	pubPoint, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return nil, false
	}

	h, err := hashToCurveEdwards(publicKey, alpha)
	if err != nil {
		return nil, false
	}

	// U = s*B - c*Y
	sB := new(edwards25519.Point).ScalarBaseMult(proof.S)
	cY := new(edwards25519.Point).ScalarMult(proof.C, pubPoint)
	u := new(edwards25519.Point).Subtract(sB, cY)

	// V = s*H - c*Gamma
	sH := new(edwards25519.Point).ScalarMult(proof.S, h)
	cGamma := new(edwards25519.Point).ScalarMult(proof.C, proof.Gamma)
	v := new(edwards25519.Point).Subtract(sH, cGamma)

	cPrime := challengeEdwards(pubPoint, h, proof.Gamma, u, v)
	if cPrime.Equal(proof.C) != 1 {
		return nil, false
	}

	return proofToHashEdwards(proof.Gamma), true
}

// secretScalar derives the clamped Ed25519 signing scalar x and the nonce
// extension from an Ed25519 private key, per RFC 8032 section 5.1.5.
func secretScalar(privateKey ed25519.PrivateKey) (*edwards25519.Scalar, []byte, error) {
	seed := privateKey.Seed()
	digest := sha512.Sum512(seed)

	x, err := new(edwards25519.Scalar).SetBytesWithClamping(digest[:32])
	if err != nil {
		return nil, nil, err
	}

	extension := make([]byte, 32)
	copy(extension, digest[32:64])
	return x, extension, nil
}

// hashToCurveEdwards implements ECVRF_hash_to_curve_try_and_increment.
func hashToCurveEdwards(publicKey ed25519.PublicKey, alpha []byte) (*edwards25519.Point, error) {
	identity := edwards25519.NewIdentityPoint()

	for ctr := 0; ctr < 256; ctr++ {
		h := sha512.New()
		h.Write([]byte{vrfSuiteEdwards, 0x01})
		h.Write(publicKey)
		h.Write(alpha)
		h.Write([]byte{byte(ctr)})
		sum := h.Sum(nil)

		candidate, err := new(edwards25519.Point).SetBytes(sum[:32])
		if err != nil {
			continue
		}

		cleared := new(edwards25519.Point).MultByCofactor(candidate)
		if cleared.Equal(identity) == 1 {
			continue
		}
		return candidate, nil
	}
	return nil, errors.New("vrf: failed to hash to curve after 256 attempts")
}

// nonceEdwards implements ECVRF_nonce_generation_RFC8032: k = SHA-512(extension || H) mod L.
func nonceEdwards(extension []byte, h *edwards25519.Point) (*edwards25519.Scalar, error) {
	digest := sha512.New()
	digest.Write(extension)
	digest.Write(h.Bytes())
	sum := digest.Sum(nil)

	k, err := new(edwards25519.Scalar).SetUniformBytes(sum)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// challengeEdwards implements ECVRF_challenge_generation over the 5 points
// (Y, H, Gamma, U, V), truncated to 16 bytes and zero-extended to a scalar.
func challengeEdwards(y, h, gamma, u, v *edwards25519.Point) *edwards25519.Scalar {
	digest := sha512.New()
	digest.Write([]byte{vrfSuiteEdwards, 0x02})
	digest.Write(y.Bytes())
	digest.Write(h.Bytes())
	digest.Write(gamma.Bytes())
	digest.Write(u.Bytes())
	digest.Write(v.Bytes())
	sum := digest.Sum(nil)

	var buf [32]byte
	copy(buf[:16], sum[:16])

	c, err := new(edwards25519.Scalar).SetCanonicalBytes(buf[:])
	if err != nil {
		// buf's top 16 bytes are zero, so it is always < L; unreachable.
		panic(err)
	}
	return c
}

// proofToHashEdwards implements ECVRF_proof_to_hash: SHA-512 over the
// cofactor-cleared Gamma point, with a trailing zero domain byte.
func proofToHashEdwards(gamma *edwards25519.Point) []byte {
	cleared := new(edwards25519.Point).MultByCofactor(gamma)

	h := sha512.New()
	h.Write([]byte{vrfSuiteEdwards, 0x03})
	h.Write(cleared.Bytes())
	h.Write([]byte{0x00})
	return h.Sum(nil)
}

// =============================================================================
// Serialization
// =============================================================================

// SerializeVRFProof encodes pi = Gamma (32 bytes) || c (16 bytes) || s (32
// bytes) = 80 bytes, matching the EDWARDS25519-SHA512-TAI point/scalar
// encodings (c is stored zero-extended to a full scalar internally, but only
// its low 16 bytes carry entropy per the suite).
func SerializeVRFProof(proof *VRFProof) []byte {
	if proof == nil {
		return nil
	}

	out := make([]byte, 0, 80)
	out = append(out, proof.Gamma.Bytes()...)
	out = append(out, proof.C.Bytes()[:16]...)
	out = append(out, proof.S.Bytes()...)
	return out
}

// DeserializeVRFProof decodes a proof previously produced by SerializeVRFProof.
func DeserializeVRFProof(data []byte) (*VRFProof, error) {
	if len(data) != 80 {
		return nil, errors.New("vrf: invalid proof length")
	}

	gamma, err := new(edwards25519.Point).SetBytes(data[0:32])
	if err != nil {
		return nil, errors.New("vrf: invalid Gamma point")
	}

	var cBuf [32]byte
	copy(cBuf[:16], data[32:48])
	c, err := new(edwards25519.Scalar).SetCanonicalBytes(cBuf[:])
	if err != nil {
		return nil, errors.New("vrf: invalid challenge scalar")
	}

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(data[48:80])
	if err != nil {
		return nil, errors.New("vrf: invalid response scalar")
	}

	return &VRFProof{Gamma: gamma, C: c, S: s}, nil
}
