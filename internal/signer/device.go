package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/kdm"
)

// RegisterDevice2Request is the input to RegisterDevice2WithDerivedKey (spec
// §4.3 item 6). ExistingPRFOutputNear/ExistingEncryptedNearKey decrypt the
// already-authorized device's key, the one that signs the AddKey
// transaction; PRFOutputNewDevice derives the new device's own keypair,
// which never needs decrypting here since it is only just being minted.
type RegisterDevice2Request struct {
	Account string

	PRFOutputNewDevice []byte

	ExistingPRFOutputNear    []byte
	ExistingEncryptedNearKey []byte

	ExpectedVRFChallenge []byte
	ProvidedVRFChallenge []byte
	ReportedDigest       string

	Nonce         uint64
	BlockHash     [32]byte
	AccessKeyNonce uint64
}

// RegisterDevice2Result is the new device's keypair plus the signed
// device-registration transaction that grants it full access.
type RegisterDevice2Result struct {
	NewPublicKey           string
	NewEncryptedPrivateKey []byte
	SignedTransaction      *SignedTransaction
}

// RegisterDevice2WithDerivedKey derives a second device's NEAR keypair and,
// in the same call, signs the on-chain AddKey transaction that grants it
// full access, using the linking ceremony's VRF challenge and the first
// device's already-authorized key (spec §4.3 item 6: "derives the keypair
// then signs the on-chain device-registration transaction in one step").
func RegisterDevice2WithDerivedKey(ctx context.Context, req RegisterDevice2Request) (*RegisterDevice2Result, error) {
	derived, err := kdm.DeriveNearKeypairAndEncrypt(req.Account, req.PRFOutputNewDevice)
	if err != nil {
		return nil, err
	}

	newPub, err := kdm.ParseNearPublicKey(derived.PublicKey)
	if err != nil {
		return nil, err
	}
	addKeyPub, err := NewEd25519PublicKey(newPub)
	if err != nil {
		return nil, err
	}

	txs := []TransactionRequest{{
		ReceiverID: req.Account,
		Nonce:      req.Nonce,
		BlockHash:  req.BlockHash,
		Actions:    []Action{AddKeyAction{PublicKey: addKeyPub, Nonce: req.AccessKeyNonce}},
	}}

	signed, err := SignTransactionsWithActions(ctx, SignTransactionsRequest{
		Account:              req.Account,
		PRFOutputNear:        req.ExistingPRFOutputNear,
		EncryptedNearKey:     req.ExistingEncryptedNearKey,
		ExpectedVRFChallenge: req.ExpectedVRFChallenge,
		ProvidedVRFChallenge: req.ProvidedVRFChallenge,
		ReportedDigest:       req.ReportedDigest,
		Transactions:         txs,
	})
	if err != nil {
		return nil, err
	}

	return &RegisterDevice2Result{
		NewPublicKey:           derived.PublicKey,
		NewEncryptedPrivateKey: derived.EncryptedPrivateKey,
		SignedTransaction:      signed[0],
	}, nil
}

// SignAddKeyThresholdPublicKeyRequest is the input to
// SignAddKeyThresholdPublicKeyNoPrompt (spec §4.3 item 7).
type SignAddKeyThresholdPublicKeyRequest struct {
	Account          string
	PRFOutputNear    []byte
	EncryptedNearKey []byte

	ExpectedVRFChallenge []byte
	ProvidedVRFChallenge []byte

	ThresholdPublicKey PublicKey
	Nonce              uint64
	BlockHash          [32]byte
	AccessKeyNonce     uint64
}

// SignAddKeyThresholdPublicKeyNoPrompt signs the one transaction this
// narrowly-scoped internal signer is allowed to produce: an AddKey action
// granting ThresholdPublicKey full access to Account, Account signing for
// itself. It runs exactly once, immediately after registration, and is
// never routed through the Confirmation UI Agent — "no_prompt" means there
// is no ui_intent_digest to check, not merely that one was skipped. The
// action shape and receiver are fixed by this function's signature rather
// than taken as input, which is how it refuses "any other action shape or
// receiver that differs from account_id" (spec §4.3 item 7): there is no
// parameter through which a caller could supply either.
func SignAddKeyThresholdPublicKeyNoPrompt(ctx context.Context, req SignAddKeyThresholdPublicKeyRequest) (*SignedTransaction, error) {
	if len(req.ExpectedVRFChallenge) == 0 || !bytes.Equal(req.ExpectedVRFChallenge, req.ProvidedVRFChallenge) {
		return nil, errors.New(errors.ErrCodeVrfVerificationFailed, "webauthn assertion challenge does not match the minted vrf challenge", 401)
	}

	priv, err := kdm.DecryptPrivateKey(req.EncryptedNearKey, req.Account, req.PRFOutputNear)
	if err != nil {
		return nil, err
	}
	defer zeroizeKey(priv)

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.InternalInvariant("near private key public half", nil)
	}
	pk, err := NewEd25519PublicKey(pub)
	if err != nil {
		return nil, err
	}

	tx := Transaction{
		SignerID:   req.Account,
		PublicKey:  pk,
		Nonce:      req.Nonce,
		ReceiverID: req.Account,
		BlockHash:  req.BlockHash,
		Actions:    []Action{AddKeyAction{PublicKey: req.ThresholdPublicKey, Nonce: req.AccessKeyNonce}},
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	var sig [64]byte
	copy(sig[:], ed25519.Sign(priv, hash[:]))
	return &SignedTransaction{Transaction: tx, Signature: sig}, nil
}
