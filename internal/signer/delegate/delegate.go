// Package delegate implements NEP-461 DelegateAction signing: building a
// meta-transaction payload a relayer can later wrap and broadcast without
// ever holding the sender's key. Grounded on the same Borsh field-order
// discipline as internal/signer's Transaction, generalized to NEP-461's
// distinct field set and domain-separated signing hash.
package delegate

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/kdm"
	"github.com/near-passkey/wallet-engine/internal/signer"
	"github.com/near-passkey/wallet-engine/internal/signer/borsh"
)

// nep461DomainTag is prepended to the Borsh-encoded DelegateAction before
// hashing, per NEP-461's signing scheme (distinct from a plain
// Transaction's signing hash so a delegate action can never be replayed as
// an ordinary transaction or vice versa).
const nep461DomainTag uint32 = 2147483648 + 461 // 2^31 + 461

// DelegateAction is the NEP-461 payload: everything a relayer needs to
// assemble and broadcast a meta-transaction on the sender's behalf.
type DelegateAction struct {
	SenderID      string
	ReceiverID    string
	Actions       []signer.Action
	Nonce         uint64
	MaxBlockHeight uint64
	PublicKey     signer.PublicKey
}

func (d DelegateAction) encodeBorsh() ([]byte, error) {
	w := borsh.NewWriter()
	w.WriteString(d.SenderID)
	w.WriteString(d.ReceiverID)

	w.WriteU32(uint32(len(d.Actions)))
	for _, a := range d.Actions {
		if err := signer.EncodeAction(w, a); err != nil {
			return nil, err
		}
	}

	w.WriteU64(d.Nonce)
	w.WriteU64(d.MaxBlockHeight)
	d.PublicKey.EncodeBorsh(w)
	return w.Bytes(), nil
}

// Hash returns the NEP-461 signing hash: SHA-256 of the domain tag
// followed by the Borsh-encoded DelegateAction.
func (d DelegateAction) Hash() ([32]byte, error) {
	body, err := d.encodeBorsh()
	if err != nil {
		return [32]byte{}, err
	}
	w := borsh.NewWriter()
	w.WriteU32(nep461DomainTag)
	w.WriteFixedBytes(body)
	return sha256.Sum256(w.Bytes()), nil
}

// SignedDelegateAction pairs a DelegateAction with the sender's signature
// over its NEP-461 hash.
type SignedDelegateAction struct {
	DelegateAction DelegateAction
	Signature      [64]byte
}

// SignRequest is the input to Sign.
type SignRequest struct {
	Account          string
	PRFOutputNear    []byte
	EncryptedNearKey []byte
	ReceiverID       string
	Actions          []signer.Action
	Nonce            uint64
	MaxBlockHeight   uint64
}

// Sign decrypts the sender's NEAR key, builds and signs a DelegateAction,
// and returns the signed bundle plus its hash. It does not broadcast
// anything; that is the relay's job once it wraps this into an outer
// Transaction's FunctionCall action.
func Sign(req SignRequest) (*SignedDelegateAction, [32]byte, error) {
	if req.ReceiverID == "" {
		return nil, [32]byte{}, errors.InputValidation("receiver_id", "must not be empty")
	}
	if len(req.Actions) == 0 {
		return nil, [32]byte{}, errors.InputValidation("actions", "must contain at least one action")
	}

	priv, err := kdm.DecryptPrivateKey(req.EncryptedNearKey, req.Account, req.PRFOutputNear)
	if err != nil {
		return nil, [32]byte{}, err
	}
	defer zeroize(priv)

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, [32]byte{}, errors.InternalInvariant("near private key public half", nil)
	}
	pk, err := signer.NewEd25519PublicKey(pub)
	if err != nil {
		return nil, [32]byte{}, err
	}

	da := DelegateAction{
		SenderID:       req.Account,
		ReceiverID:     req.ReceiverID,
		Actions:        req.Actions,
		Nonce:          req.Nonce,
		MaxBlockHeight: req.MaxBlockHeight,
		PublicKey:      pk,
	}
	hash, err := da.Hash()
	if err != nil {
		return nil, [32]byte{}, err
	}

	var sig [64]byte
	copy(sig[:], ed25519.Sign(priv, hash[:]))
	return &SignedDelegateAction{DelegateAction: da, Signature: sig}, hash, nil
}

func zeroize(k ed25519.PrivateKey) {
	for i := range k {
		k[i] = 0
	}
}
