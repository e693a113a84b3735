// Package signer implements the Signer Agent (spec §4.3): it holds the
// decrypted NEAR Ed25519 key only for the duration of a single signing
// call, recomputes and compares the confirmation digest before touching
// key material, assembles Borsh-encoded NEAR transactions, and signs them.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"filippo.io/edwards25519"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/confirmation"
	"github.com/near-passkey/wallet-engine/internal/kdm"
)

// ProgressPhase marks a point in the signing pipeline a caller may want to
// surface to the user (e.g. over the cmd/walletd progress websocket).
type ProgressPhase string

const (
	PhaseVerifyingChallenge  ProgressPhase = "verifying_challenge"
	PhaseAwaitingConfirmation ProgressPhase = "awaiting_confirmation"
	PhaseDecryptingKey       ProgressPhase = "decrypting_key"
	PhaseSigning             ProgressPhase = "signing"
	PhaseComplete            ProgressPhase = "complete"
)

// ProgressEvent reports phase transitions during a (possibly batched) sign
// call. TxIndex is -1 for phases that are not per-transaction.
type ProgressEvent struct {
	Phase   ProgressPhase
	TxIndex int
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(ProgressEvent)

// TransactionRequest is one transaction within a signing batch.
type TransactionRequest struct {
	ReceiverID string
	Nonce      uint64
	BlockHash  [32]byte
	Actions    []Action
}

// SignTransactionsRequest is the input to SignTransactionsWithActions. All
// transactions in a batch share one VRF challenge and one confirmation
// digest (spec §4.4 batch signing), since they were all displayed to the
// user in a single confirmation screen.
type SignTransactionsRequest struct {
	Account          string
	PRFOutputNear    []byte
	EncryptedNearKey []byte

	ExpectedVRFChallenge []byte // vrf_output the orchestrator minted
	ProvidedVRFChallenge []byte // the WebAuthn assertion's challenge field

	// ReportedDigest is the ui_intent_digest the Confirmation UI Agent
	// returned to the Orchestrator. There is deliberately no corresponding
	// DisplayedIntent input here: the expected digest is always derived
	// from Transactions below, never from a separately supplied intent,
	// so a caller cannot display one thing and sign another (spec §4.4 P5).
	ReportedDigest string

	// SignerMode and SignerBehavior select between local and threshold
	// signing (spec §4.3 item 3). SignerMode defaults to ModeLocalSigner
	// when empty. Threshold must be set when SignerMode is
	// ModeThresholdSigner.
	SignerMode     SignerMode
	SignerBehavior SignerBehavior
	Threshold      *ThresholdSession

	Transactions []TransactionRequest
	OnProgress   ProgressFunc
}

func emit(fn ProgressFunc, phase ProgressPhase, txIndex int) {
	if fn != nil {
		fn(ProgressEvent{Phase: phase, TxIndex: txIndex})
	}
}

// SignTransactionsWithActions verifies the VRF challenge binding and the
// confirmation digest before ever touching the decrypted private key, then
// signs every transaction in the batch with that one key (spec §4.3 step
// "sign_transactions_with_actions").
func SignTransactionsWithActions(ctx context.Context, req SignTransactionsRequest) ([]*SignedTransaction, error) {
	emit(req.OnProgress, PhaseVerifyingChallenge, -1)
	if len(req.ExpectedVRFChallenge) == 0 || !bytes.Equal(req.ExpectedVRFChallenge, req.ProvidedVRFChallenge) {
		return nil, errors.New(errors.ErrCodeVrfVerificationFailed, "webauthn assertion challenge does not match the minted vrf challenge", 401)
	}

	if len(req.Transactions) == 0 {
		return nil, errors.InputValidation("transactions", "must contain at least one transaction")
	}

	emit(req.OnProgress, PhaseAwaitingConfirmation, -1)
	expectedDigest := confirmation.ComputeDigest(DisplayedIntentFromTransactions(req.Transactions))
	if req.ReportedDigest != expectedDigest {
		return nil, errors.IntentDigestMismatch(expectedDigest, req.ReportedDigest)
	}

	mode := req.SignerMode
	if mode == "" {
		mode = ModeLocalSigner
	}

	var priv ed25519.PrivateKey
	var pk PublicKey
	var relayPublic *edwards25519.Point
	usingThreshold := mode == ModeThresholdSigner

	if usingThreshold {
		if req.Threshold == nil {
			return nil, errors.InputValidation("threshold", "threshold-signer mode requires a threshold session")
		}
		emit(req.OnProgress, PhaseDecryptingKey, -1)
		var err error
		pk, relayPublic, err = combinedPublicKey(ctx, req.Threshold)
		if err != nil {
			if req.SignerBehavior != BehaviorFallback {
				return nil, errors.RelayUnavailable("threshold-ed25519/keygen", err)
			}
			usingThreshold = false
		}
	}

	if !usingThreshold {
		emit(req.OnProgress, PhaseDecryptingKey, -1)
		var err error
		priv, err = kdm.DecryptPrivateKey(req.EncryptedNearKey, req.Account, req.PRFOutputNear)
		if err != nil {
			return nil, err
		}
		defer zeroizeKey(priv)

		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, errors.InternalInvariant("near private key public half", nil)
		}
		pk, err = NewEd25519PublicKey(pub)
		if err != nil {
			return nil, err
		}
	}

	results := make([]*SignedTransaction, len(req.Transactions))
	for i, txReq := range req.Transactions {
		emit(req.OnProgress, PhaseSigning, i)

		tx := Transaction{
			SignerID:   req.Account,
			PublicKey:  pk,
			Nonce:      txReq.Nonce,
			ReceiverID: txReq.ReceiverID,
			BlockHash:  txReq.BlockHash,
			Actions:    txReq.Actions,
		}
		hash, err := tx.Hash()
		if err != nil {
			return nil, err
		}

		var sig [64]byte
		if usingThreshold {
			// A relay failure here is never downgraded to local signing:
			// see SignerBehavior's doc comment on why mid-batch fallback
			// is unsafe once nonces were reserved against the threshold
			// public key.
			sig, err = signThresholdHash(ctx, req.Threshold, relayPublic, hash)
			if err != nil {
				return nil, errors.RelayUnavailable("threshold-ed25519/sign", err)
			}
		} else {
			copy(sig[:], ed25519.Sign(priv, hash[:]))
		}
		results[i] = &SignedTransaction{Transaction: tx, Signature: sig}
	}

	emit(req.OnProgress, PhaseComplete, -1)
	return results, nil
}

func zeroizeKey(k ed25519.PrivateKey) {
	for i := range k {
		k[i] = 0
	}
}
