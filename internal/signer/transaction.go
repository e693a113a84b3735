package signer

import (
	"crypto/sha256"

	"github.com/near-passkey/wallet-engine/internal/signer/borsh"
)

// Transaction is the Borsh-serializable NEAR transaction envelope: signer,
// the signer's current access key, a nonce reserved against that key, the
// receiver, the current block hash, and the ordered action list. Field
// order and encoding are fixed by the NEAR protocol and must not change.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// EncodeBorsh serializes the transaction body (everything that gets
// signed, excluding the signature itself).
func (t Transaction) EncodeBorsh() ([]byte, error) {
	w := borsh.NewWriter()
	w.WriteString(t.SignerID)
	t.PublicKey.EncodeBorsh(w)
	w.WriteU64(t.Nonce)
	w.WriteString(t.ReceiverID)
	w.WriteFixedBytes(t.BlockHash[:])

	w.WriteU32(uint32(len(t.Actions)))
	for _, a := range t.Actions {
		if err := EncodeAction(w, a); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// Hash returns the SHA-256 digest of the Borsh-encoded transaction, the
// payload NEAR's protocol signs and broadcast_tx_commit expects alongside
// the signed bytes.
func (t Transaction) Hash() ([32]byte, error) {
	encoded, err := t.EncodeBorsh()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(encoded), nil
}

// SignedTransaction pairs a Transaction with its Ed25519 signature, ready
// for Borsh encoding and submission via broadcast_tx_commit.
type SignedTransaction struct {
	Transaction Transaction
	Signature   [64]byte
}

// EncodeBorsh serializes {transaction, signature} as NEAR's
// SignedTransaction wire format: the transaction body followed by a
// 1-byte key type tag (0 = Ed25519) and the 64 raw signature bytes.
func (s SignedTransaction) EncodeBorsh() ([]byte, error) {
	txBytes, err := s.Transaction.EncodeBorsh()
	if err != nil {
		return nil, err
	}
	w := borsh.NewWriter()
	w.WriteFixedBytes(txBytes)
	w.WriteU8(0)
	w.WriteFixedBytes(s.Signature[:])
	return w.Bytes(), nil
}
