package signer

import (
	"math/big"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/signer/borsh"
)

// PublicKey is NEAR's Borsh-encoded public key: a 1-byte key type tag
// followed by the raw key bytes. KeyType 0 is Ed25519, the only type this
// module produces or consumes.
type PublicKey struct {
	KeyType uint8
	Data    [32]byte
}

// EncodeBorsh writes the key type tag and raw key bytes.
func (k PublicKey) EncodeBorsh(w *borsh.Writer) {
	w.WriteU8(k.KeyType)
	w.WriteFixedBytes(k.Data[:])
}

// NewEd25519PublicKey wraps a 32-byte Ed25519 public key for Borsh encoding.
func NewEd25519PublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != 32 {
		return PublicKey{}, errors.InputValidation("public_key", "ed25519 public key must be 32 bytes")
	}
	var pk PublicKey
	copy(pk.Data[:], raw)
	return pk, nil
}

// Action is a single NEAR transaction action. Tag is the Borsh enum
// discriminant NEAR assigns to each action variant. EncodeFields writes
// only the variant's payload; callers write the tag byte themselves via
// EncodeAction so the same Action values can be embedded in both ordinary
// transactions and NEP-461 delegate actions.
type Action interface {
	Tag() uint8
	EncodeFields(w *borsh.Writer) error
}

// EncodeAction writes an action's tag byte followed by its fields.
func EncodeAction(w *borsh.Writer, a Action) error {
	w.WriteU8(a.Tag())
	return a.EncodeFields(w)
}

// TransferAction moves `Deposit` yoctoNEAR to the transaction's receiver.
type TransferAction struct {
	Deposit *big.Int
}

func (TransferAction) Tag() uint8 { return 3 }

func (a TransferAction) EncodeFields(w *borsh.Writer) error {
	return w.WriteU128(a.Deposit)
}

// FunctionCallAction invokes a contract method, used for registration and
// on-chain verification calls (spec §6 view functions are read via
// internal/chain, but some confirmation flows route through a function
// call transaction instead).
type FunctionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

func (FunctionCallAction) Tag() uint8 { return 2 }

func (a FunctionCallAction) EncodeFields(w *borsh.Writer) error {
	w.WriteString(a.MethodName)
	w.WriteBytes(a.Args)
	w.WriteU64(a.Gas)
	return w.WriteU128(a.Deposit)
}

// AddKeyAction grants `PublicKey` full access to the signer's account. It is
// the only AddKey permission this module emits: device linking
// (register_device2_with_derived_key) and the narrowly scoped
// sign_add_key_threshold_public_key_no_prompt flow both add a full-access
// key rather than a scoped function-call key.
type AddKeyAction struct {
	PublicKey PublicKey
	Nonce     uint64
}

func (AddKeyAction) Tag() uint8 { return 5 }

func (a AddKeyAction) EncodeFields(w *borsh.Writer) error {
	a.PublicKey.EncodeBorsh(w)
	w.WriteU64(a.Nonce)
	w.WriteU8(1) // AccessKeyPermission::FullAccess variant tag
	return nil
}

// DeleteKeyAction removes a previously added access key, used when rotating
// away from a compromised or superseded device key.
type DeleteKeyAction struct {
	PublicKey PublicKey
}

func (DeleteKeyAction) Tag() uint8 { return 6 }

func (a DeleteKeyAction) EncodeFields(w *borsh.Writer) error {
	a.PublicKey.EncodeBorsh(w)
	return nil
}
