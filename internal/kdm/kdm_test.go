package kdm

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

func prfBytes(fill byte) []byte {
	out := make([]byte, PRFOutputSize)
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestDeriveNearKeypairAndEncryptIsDeterministicPublicKey(t *testing.T) {
	prf := prfBytes(0x01)

	r1, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)
	r2, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)

	assert.Equal(t, r1.PublicKey, r2.PublicKey)
	assert.NotEqual(t, r1.EncryptedPrivateKey, r2.EncryptedPrivateKey, "ciphertext must vary by nonce")
	assert.True(t, len(r1.PublicKey) > len("ed25519:"))
}

func TestDeriveNearKeypairAndEncryptDifferentAccountsDiffer(t *testing.T) {
	prf := prfBytes(0x02)

	alice, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)
	bob, err := DeriveNearKeypairAndEncrypt("bob.testnet", prf)
	require.NoError(t, err)

	assert.NotEqual(t, alice.PublicKey, bob.PublicKey)
}

func TestDeriveNearKeypairAndEncryptRejectsBadPRF(t *testing.T) {
	_, err := DeriveNearKeypairAndEncrypt("alice.testnet", []byte{0x01, 0x02})
	require.Error(t, err)
	svcErr := errors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, errors.ErrCodeInputValidation, svcErr.Code)
}

func TestDeriveNearKeypairAndEncryptRejectsBadAccount(t *testing.T) {
	_, err := DeriveNearKeypairAndEncrypt("", prfBytes(0x03))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInputValidation, errors.GetServiceError(err).Code)
}

func TestNearKeyRoundTrip(t *testing.T) {
	prf := prfBytes(0x04)
	derived, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)

	priv, err := DecryptPrivateKey(derived.EncryptedPrivateKey, "alice.testnet", prf)
	require.NoError(t, err)

	pub := priv.Public().(ed25519.PublicKey)
	assert.Equal(t, derived.PublicKey, FormatNearPublicKey(pub))

	msg := []byte("hello near")
	sig := ed25519.Sign(priv, msg)
	assert.True(t, ed25519.Verify(pub, msg, sig))
}

func TestNearKeyDecryptFailsWithWrongAccount(t *testing.T) {
	prf := prfBytes(0x05)
	derived, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)

	_, err = DecryptPrivateKey(derived.EncryptedPrivateKey, "mallory.testnet", prf)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDecryptionFailed, errors.GetServiceError(err).Code)
}

func TestNearKeyDecryptFailsWithWrongPRF(t *testing.T) {
	derived, err := DeriveNearKeypairAndEncrypt("alice.testnet", prfBytes(0x06))
	require.NoError(t, err)

	_, err = DecryptPrivateKey(derived.EncryptedPrivateKey, "alice.testnet", prfBytes(0x99))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDecryptionFailed, errors.GetServiceError(err).Code)
}

func TestRecoverKeypairFromPasskeyMatchesOriginalRegistration(t *testing.T) {
	prf := prfBytes(0x07)
	registered, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)

	recovered, err := RecoverKeypairFromPasskey("alice.testnet", prf)
	require.NoError(t, err)

	assert.Equal(t, registered.PublicKey, recovered.PublicKey)
}

func TestDeriveVRFKeypairFromPRFIsDeterministic(t *testing.T) {
	prf := prfBytes(0x08)

	v1, err := DeriveVRFKeypairFromPRF("alice.testnet", prf)
	require.NoError(t, err)
	v2, err := DeriveVRFKeypairFromPRF("alice.testnet", prf)
	require.NoError(t, err)

	assert.Equal(t, v1.VRFPublicKey, v2.VRFPublicKey)
	assert.Equal(t, v1.WrapKey, v2.WrapKey)
	assert.NotEqual(t, v1.EncryptedVRFKeypair, v2.EncryptedVRFKeypair)
}

func TestDeriveVRFKeypairFromPRFDiffersFromNearKeypair(t *testing.T) {
	prf := prfBytes(0x09)

	near, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)
	vrf, err := DeriveVRFKeypairFromPRF("alice.testnet", prf)
	require.NoError(t, err)

	nearPub, err := ParseNearPublicKey(near.PublicKey)
	require.NoError(t, err)
	vrfPubBytes, err := hex.DecodeString(vrf.VRFPublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(nearPub), vrfPubBytes)
}

func TestVRFKeypairRoundTrip(t *testing.T) {
	prf := prfBytes(0x0a)
	derived, err := DeriveVRFKeypairFromPRF("alice.testnet", prf)
	require.NoError(t, err)

	priv, err := DecryptVRFKeypair(derived.EncryptedVRFKeypair, "alice.testnet", prf)
	require.NoError(t, err)

	pub := priv.Public().(ed25519.PublicKey)
	assert.Equal(t, derived.VRFPublicKey, hex.EncodeToString(pub))
}

func TestParseNearPublicKeyRoundTrip(t *testing.T) {
	prf := prfBytes(0x0b)
	derived, err := DeriveNearKeypairAndEncrypt("alice.testnet", prf)
	require.NoError(t, err)

	pub, err := ParseNearPublicKey(derived.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, derived.PublicKey, FormatNearPublicKey(pub))
}

func TestParseNearPublicKeyRejectsMissingPrefix(t *testing.T) {
	_, err := ParseNearPublicKey("not-a-key")
	require.Error(t, err)
}

func TestExtractCOSEPublicKeyRoundTrip(t *testing.T) {
	coseKey := map[int]interface{}{
		1: 1,  // kty: OKP
		3: -8, // alg: EdDSA
		-1: 6, // crv: Ed25519
		-2: bytes.Repeat([]byte{0xAB}, 32),
	}
	coseBytes, err := cbor.Marshal(coseKey)
	require.NoError(t, err)

	authData := make([]byte, 0, 128)
	authData = append(authData, bytes.Repeat([]byte{0x11}, 32)...) // rpIdHash
	authData = append(authData, 0x41)                              // flags: AT bit set
	authData = append(authData, 0, 0, 0, 1)                        // signCount
	authData = append(authData, bytes.Repeat([]byte{0x22}, 16)...) // aaguid
	authData = append(authData, 0, 4)                              // credIdLen = 4
	authData = append(authData, []byte{0xde, 0xad, 0xbe, 0xef}...) // credId
	authData = append(authData, coseBytes...)

	attObj := map[string]interface{}{
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
		"authData": authData,
	}
	attBytes, err := cbor.Marshal(attObj)
	require.NoError(t, err)

	extracted, err := ExtractCOSEPublicKey(attBytes)
	require.NoError(t, err)

	var decoded map[int]interface{}
	require.NoError(t, cbor.Unmarshal(extracted, &decoded))
	assert.EqualValues(t, 1, decoded[1])
}

func TestExtractCOSEPublicKeyRejectsMissingAttestedCredentialData(t *testing.T) {
	authData := make([]byte, 0, 37)
	authData = append(authData, bytes.Repeat([]byte{0x11}, 32)...)
	authData = append(authData, 0x01) // AT bit not set
	authData = append(authData, 0, 0, 0, 1)

	attObj := map[string]interface{}{"fmt": "none", "attStmt": map[string]interface{}{}, "authData": authData}
	attBytes, err := cbor.Marshal(attObj)
	require.NoError(t, err)

	_, err = ExtractCOSEPublicKey(attBytes)
	require.Error(t, err)
}

func TestExtractCOSEPublicKeyRejectsEmptyInput(t *testing.T) {
	_, err := ExtractCOSEPublicKey(nil)
	require.Error(t, err)
}

