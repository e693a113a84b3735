// Package kdm implements the Key Derivation & Credential Module: pure,
// deterministic functions that turn WebAuthn PRF extension output into the
// wallet's two long-lived keypairs (the NEAR Ed25519 signing key and the
// ECVRF key) and wrap them at rest. No function here talks to the network
// or to a persistent store; callers own persistence and transport.
package kdm

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"

	infracrypto "github.com/near-passkey/wallet-engine/infrastructure/crypto"
	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// PRFOutputSize is the fixed length of a WebAuthn PRF extension output.
const PRFOutputSize = 32

// NearKeypairResult is the output of deriving and wrapping a NEAR signing
// keypair. EncryptedPrivateKey wraps the 32-byte Ed25519 seed, never the
// expanded 64-byte private key.
type NearKeypairResult struct {
	PublicKey           string // "ed25519:<base58>"
	EncryptedPrivateKey []byte
}

// VRFKeypairResult is the output of deriving and wrapping a VRF keypair.
// WrapKey is the raw 32-byte ChaCha20-Poly1305 key used to wrap the seed; it
// is returned so internal/vrfagent's Shamir 3-pass layer can lock it with the
// relay without this package knowing anything about that protocol.
type VRFKeypairResult struct {
	VRFPublicKey        string // hex-encoded Ed25519 public key
	EncryptedVRFKeypair []byte
	WrapKey             []byte
}

func validatePRF(prfOutput []byte, field string) error {
	if len(prfOutput) != PRFOutputSize {
		return errors.InputValidation(field, "prf output must be 32 bytes")
	}
	return nil
}

func validateAccount(account string) error {
	account = strings.TrimSpace(account)
	if account == "" || len(account) > 64 {
		return errors.InputValidation("account", "must be a non-empty string of at most 64 characters")
	}
	return nil
}

// deriveSeed expands prfOutput into a 32-byte Ed25519 seed via
// HKDF-SHA-256, keyed on account and domain so the NEAR and VRF seeds never
// collide even when derived from related PRF outputs.
func deriveSeed(prfOutput []byte, account, domain string) ([]byte, error) {
	salt := []byte("w3a:seed:" + account + ":" + domain)
	kdf := hkdf.New(sha256.New, prfOutput, salt, nil)

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, errors.InternalInvariant("hkdf seed expansion", err)
	}
	return seed, nil
}

// DeriveNearKeypairAndEncrypt deterministically derives the NEAR Ed25519
// signing keypair from prfOutputNear and wraps the seed with a key derived
// from the same PRF output. Two calls with the same (account, prfOutputNear)
// always yield the same public key; the ciphertext differs only by its
// random nonce (P1).
func DeriveNearKeypairAndEncrypt(account string, prfOutputNear []byte) (*NearKeypairResult, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if err := validatePRF(prfOutputNear, "prf_output_near"); err != nil {
		return nil, err
	}

	seed, err := deriveSeed(prfOutputNear, account, infracrypto.DomainNearEd25519)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	encrypted, err := infracrypto.EncryptEnvelope(prfOutputNear, account, infracrypto.DomainNearEd25519, seed)
	if err != nil {
		return nil, errors.InternalInvariant("near keypair envelope encryption", err)
	}

	return &NearKeypairResult{
		PublicKey:           FormatNearPublicKey(pub),
		EncryptedPrivateKey: encrypted,
	}, nil
}

// RecoverKeypairFromPasskey re-runs keypair derivation against a fresh
// WebAuthn authentication PRF output for an existing account. It is
// deterministic, so it always recovers the same keypair a prior
// registration produced for that account.
func RecoverKeypairFromPasskey(account string, prfOutputNear []byte) (*NearKeypairResult, error) {
	return DeriveNearKeypairAndEncrypt(account, prfOutputNear)
}

// DeriveVRFKeypairFromPRF deterministically derives the account's ECVRF
// keypair from prfOutputVRF. The resulting VRFPublicKey never changes across
// calls for the same (account, prfOutputVRF) pair.
func DeriveVRFKeypairFromPRF(account string, prfOutputVRF []byte) (*VRFKeypairResult, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if err := validatePRF(prfOutputVRF, "prf_output_vrf"); err != nil {
		return nil, err
	}

	seed, err := deriveSeed(prfOutputVRF, account, infracrypto.DomainVRFSeed)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	encrypted, err := infracrypto.EncryptEnvelope(prfOutputVRF, account, infracrypto.DomainVRFSeed, seed)
	if err != nil {
		return nil, errors.InternalInvariant("vrf keypair envelope encryption", err)
	}

	wrapKey, err := infracrypto.DeriveWrapKey(prfOutputVRF, account, infracrypto.DomainVRFSeed)
	if err != nil {
		return nil, errors.InternalInvariant("vrf wrap key derivation", err)
	}

	return &VRFKeypairResult{
		VRFPublicKey:        hex.EncodeToString(pub),
		EncryptedVRFKeypair: encrypted,
		WrapKey:             wrapKey,
	}, nil
}

// DecryptPrivateKey decrypts a wrapped NEAR seed and expands it back into an
// Ed25519 private key. It is only ever called from inside the Signer Agent
// boundary; the caller must zeroize both prfOutputNear and the returned key
// once signing is complete.
func DecryptPrivateKey(encryptedNearKey []byte, account string, prfOutputNear []byte) (ed25519.PrivateKey, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if err := validatePRF(prfOutputNear, "prf_output_near"); err != nil {
		return nil, err
	}

	seed, err := infracrypto.DecryptEnvelope(prfOutputNear, account, infracrypto.DomainNearEd25519, encryptedNearKey)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.DecryptionFailed(errors.New(errors.ErrCodeInternalInvariant, "decrypted seed has wrong length", 500))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// DecryptVRFKeypair decrypts a wrapped VRF seed and expands it back into an
// Ed25519 (ECVRF) private key. Only callable from inside the VRF Agent
// boundary.
func DecryptVRFKeypair(encryptedVRFKeypair []byte, account string, prfOutputVRF []byte) (ed25519.PrivateKey, error) {
	if err := validateAccount(account); err != nil {
		return nil, err
	}
	if err := validatePRF(prfOutputVRF, "prf_output_vrf"); err != nil {
		return nil, err
	}

	seed, err := infracrypto.DecryptEnvelope(prfOutputVRF, account, infracrypto.DomainVRFSeed, encryptedVRFKeypair)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.DecryptionFailed(errors.New(errors.ErrCodeInternalInvariant, "decrypted seed has wrong length", 500))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// FormatNearPublicKey renders an Ed25519 public key in NEAR's
// "ed25519:<base58>" convention.
func FormatNearPublicKey(pub ed25519.PublicKey) string {
	return "ed25519:" + base58.Encode(pub)
}

// ParseNearPublicKey reverses FormatNearPublicKey.
func ParseNearPublicKey(formatted string) (ed25519.PublicKey, error) {
	const prefix = "ed25519:"
	if !strings.HasPrefix(formatted, prefix) {
		return nil, errors.InputValidation("public_key", "missing ed25519: prefix")
	}
	decoded, err := base58.Decode(strings.TrimPrefix(formatted, prefix))
	if err != nil {
		return nil, errors.InputValidation("public_key", "invalid base58 encoding")
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, errors.InputValidation("public_key", "wrong key length")
	}
	return ed25519.PublicKey(decoded), nil
}
