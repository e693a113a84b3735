package kdm

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// attestedCredentialDataFlag is bit 6 of the WebAuthn authenticator data
// flags byte, set when attestedCredentialData (aaguid, credential id, COSE
// public key) is present.
const attestedCredentialDataFlag = 0x40

// rpIDHashSize + flags + signCount, the fixed-length prefix of authData.
const authDataFixedPrefixSize = 32 + 1 + 4

// ExtractCOSEPublicKey parses a WebAuthn attestationObject and returns the
// raw CBOR bytes of the credential's COSE public key, for storage alongside
// the account's authenticator record. It does not validate attestation
// signatures; that belongs to the relying-party server, out of scope here.
func ExtractCOSEPublicKey(attestationObjectBytes []byte) ([]byte, error) {
	if len(attestationObjectBytes) == 0 {
		return nil, errors.InputValidation("attestation_object", "empty")
	}

	var obj struct {
		AuthData []byte `cbor:"authData"`
	}
	if err := cbor.Unmarshal(attestationObjectBytes, &obj); err != nil {
		return nil, errors.InputValidation("attestation_object", "malformed CBOR: "+err.Error())
	}

	authData := obj.AuthData
	if len(authData) < authDataFixedPrefixSize+18 {
		return nil, errors.InputValidation("attestation_object", "authData too short")
	}

	flags := authData[32]
	if flags&attestedCredentialDataFlag == 0 {
		return nil, errors.InputValidation("attestation_object", "no attested credential data present")
	}

	pos := authDataFixedPrefixSize + 16 // skip rpIdHash + flags + signCount + aaguid
	if pos+2 > len(authData) {
		return nil, errors.InputValidation("attestation_object", "truncated before credential id length")
	}

	credIDLen := int(binary.BigEndian.Uint16(authData[pos : pos+2]))
	pos += 2
	if pos+credIDLen > len(authData) {
		return nil, errors.InputValidation("attestation_object", "truncated credential id")
	}
	pos += credIDLen

	if pos >= len(authData) {
		return nil, errors.InputValidation("attestation_object", "missing COSE public key")
	}

	var raw cbor.RawMessage
	if _, err := cbor.UnmarshalFirst(authData[pos:], &raw); err != nil {
		return nil, errors.InputValidation("attestation_object", "malformed COSE public key: "+err.Error())
	}

	return []byte(raw), nil
}
