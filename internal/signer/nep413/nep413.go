// Package nep413 implements NEP-413 off-chain message signing: proving
// control of a NEAR account to a dApp without broadcasting a transaction.
// Grounded on the same Borsh field discipline as internal/signer, with
// NEP-413's own domain tag and payload shape.
package nep413

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/kdm"
	"github.com/near-passkey/wallet-engine/internal/signer/borsh"
)

// nep413DomainTag is prepended to the Borsh-encoded payload before hashing.
const nep413DomainTag uint32 = 2147483648 + 413 // 2^31 + 413

// Payload is the NEP-413 message payload a dApp asks the wallet to sign.
type Payload struct {
	Message   string
	Recipient string
	Nonce     [32]byte
	State     *string // optional dApp-supplied state round-tripped unmodified
}

func (p Payload) encodeBorsh() []byte {
	w := borsh.NewWriter()
	w.WriteString(p.Message)
	w.WriteString(p.Recipient)
	w.WriteFixedBytes(p.Nonce[:])
	w.WriteOption(p.State != nil, func() {
		w.WriteString(*p.State)
	})
	return w.Bytes()
}

// Hash returns the NEP-413 signing hash: SHA-256 of the domain tag followed
// by the Borsh-encoded payload.
func (p Payload) Hash() [32]byte {
	w := borsh.NewWriter()
	w.WriteU32(nep413DomainTag)
	w.WriteFixedBytes(p.encodeBorsh())
	return sha256.Sum256(w.Bytes())
}

// SignedMessage is the response returned to the requesting dApp.
type SignedMessage struct {
	AccountID string
	PublicKey string // "ed25519:<base58>"
	Signature string // base64
}

// SignRequest is the input to Sign.
type SignRequest struct {
	Account          string
	PRFOutputNear    []byte
	EncryptedNearKey []byte
	Payload          Payload
}

// Sign decrypts the account's NEAR key and signs a NEP-413 payload. It
// never touches chain state; the caller is responsible for verifying the
// dApp-supplied recipient/nonce are acceptable before calling this.
func Sign(req SignRequest) (*SignedMessage, error) {
	if req.Payload.Message == "" {
		return nil, errors.InputValidation("message", "must not be empty")
	}
	if req.Payload.Recipient == "" {
		return nil, errors.InputValidation("recipient", "must not be empty")
	}

	priv, err := kdm.DecryptPrivateKey(req.EncryptedNearKey, req.Account, req.PRFOutputNear)
	if err != nil {
		return nil, err
	}
	defer zeroize(priv)

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.InternalInvariant("near private key public half", nil)
	}

	hash := req.Payload.Hash()
	sig := ed25519.Sign(priv, hash[:])

	return &SignedMessage{
		AccountID: req.Account,
		PublicKey: kdm.FormatNearPublicKey(pub),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

func zeroize(k ed25519.PrivateKey) {
	for i := range k {
		k[i] = 0
	}
}
