package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Domain names accepted by DeriveWrapKey, matching the two key subjects the
// KDM ever wraps: the derived NEAR Ed25519 keypair and the VRF seed.
const (
	DomainNearEd25519 = "near-ed25519"
	DomainVRFSeed     = "vrf-seed"
)

const envelopeVersion byte = 1

// DeriveWrapKey derives a 32-byte ChaCha20-Poly1305 key from a 32-byte PRF
// output using HKDF-SHA-256 with salt = "w3a:" || account || ":" || domain.
func DeriveWrapKey(prfOutput []byte, account, domain string) ([]byte, error) {
	if len(prfOutput) != 32 {
		return nil, fmt.Errorf("prf output must be 32 bytes, got %d", len(prfOutput))
	}

	salt := []byte("w3a:" + account + ":" + domain)
	kdf := hkdf.New(sha256.New, prfOutput, salt, nil)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

func envelopeAAD(account, domain string) []byte {
	aad := make([]byte, 0, len(account)+len(domain)+1)
	aad = append(aad, account...)
	aad = append(aad, domain...)
	aad = append(aad, envelopeVersion)
	return aad
}

// EncryptEnvelope wraps plaintext (a NEAR or VRF private key seed) with a key
// derived from prfOutput via DeriveWrapKey, under ChaCha20-Poly1305 with a
// fresh 96-bit nonce prepended to the ciphertext and
// associated data = account || domain || version_byte.
func EncryptEnvelope(prfOutput []byte, account, domain string, plaintext []byte) ([]byte, error) {
	key, err := DeriveWrapKey(prfOutput, account, domain)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	aad := envelopeAAD(account, domain)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptEnvelope reverses EncryptEnvelope. Returns a plain error on any
// authentication or format failure; callers map it onto
// infrastructure/errors.DecryptionFailed.
func DecryptEnvelope(prfOutput []byte, account, domain string, envelope []byte) ([]byte, error) {
	key, err := DeriveWrapKey(prfOutput, account, domain)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}

	if len(envelope) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("envelope too short")
	}

	nonce := envelope[:chacha20poly1305.NonceSize]
	body := envelope[chacha20poly1305.NonceSize:]
	aad := envelopeAAD(account, domain)

	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
