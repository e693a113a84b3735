// Package vrfagent implements the VRF Agent: the isolated execution context
// that holds the in-memory ECVRF keypair after unlock, produces proofs
// binding client intent to fresh chain state, and mints/dispenses warm
// signing sessions (spec §4.2). Its mutex-guarded keyed-state pattern is
// grounded on the teacher's globalsigner service's versioned in-memory key
// map, generalized from a multi-tenant TEE master key table to a
// single-account Locked/Unlocked/Cleared state machine.
package vrfagent

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/infrastructure/logging"
	"github.com/near-passkey/wallet-engine/infrastructure/metrics"
	"github.com/near-passkey/wallet-engine/internal/kdm"
	"github.com/near-passkey/wallet-engine/internal/relay"
	"github.com/near-passkey/wallet-engine/internal/vrfagent/session"
	"github.com/near-passkey/wallet-engine/internal/vrfagent/shamir"

	infracrypto "github.com/near-passkey/wallet-engine/infrastructure/crypto"
)

// State is the VRF Agent's lifecycle state (spec §4.2).
type State int

const (
	StateLocked State = iota
	StateUnlocked
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// vrfDomainSeparator is prepended to every vrf_input hash (spec §4.1).
const vrfDomainSeparator = "VRF_DOMAIN_SEP_V2"

// ChallengeRequest is the input to GenerateChallenge.
type ChallengeRequest struct {
	RPID        string
	BlockHeight uint64
	BlockHash   []byte
}

// Challenge is the VRF proof bundle bound to fresh chain state (spec §3
// VRFChallenge).
type Challenge struct {
	VRFInput     []byte
	VRFOutput    []byte // beta; first 32 bytes become the WebAuthn challenge
	VRFProof     []byte // serialized (Gamma, c, s)
	VRFPublicKey string // hex
	UserID       string
	RPID         string
	BlockHeight  uint64
	BlockHash    []byte
}

// WebAuthnChallenge returns the first 32 bytes of VRFOutput, the value
// handed to the authenticator as its WebAuthn challenge (spec §6).
func (c *Challenge) WebAuthnChallenge() []byte {
	if len(c.VRFOutput) < 32 {
		return nil
	}
	return c.VRFOutput[:32]
}

// ComputeVRFInput hashes (user_id, rp_id, block_height, block_hash) with a
// fixed domain separator, per spec §4.1.
func ComputeVRFInput(userID, rpID string, blockHeight uint64, blockHash []byte) []byte {
	h := sha256.New()
	h.Write([]byte(vrfDomainSeparator))
	h.Write([]byte(userID))
	h.Write([]byte(rpID))
	h.Write([]byte(fmt.Sprintf("%d", blockHeight)))
	h.Write(blockHash)
	return h.Sum(nil)
}

// Agent is the VRF Agent. Exactly one account's VRF keypair lives in memory
// at a time; a new account's unlock is rejected while another account is
// Unlocked (spec §4.2 ordering & cancellation).
type Agent struct {
	mu sync.Mutex

	state   State
	account string
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	// wrapKey is the same AEAD key kdm derives from prfOutputVRF to seal
	// EncryptedVRFKeypair; Shamir3PassEncryptCurrentVRFKeypair locks it with
	// the relay so a later auto-unlock never needs the PRF output again.
	wrapKey []byte

	sessions *session.Store

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a Locked VRF Agent.
func New(logger *logging.Logger, m *metrics.Metrics) *Agent {
	if m == nil {
		m = metrics.Global()
	}
	return &Agent{
		state:    StateLocked,
		sessions: session.NewStore(),
		logger:   logger,
		metrics:  m,
	}
}

// State reports the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Unlock decrypts the account's VRF keypair with prfOutputVRF and, if the
// derived public key matches expectedVRFPublicKeyHex, transitions
// Locked/Cleared → Unlocked. A matching-account unlock while already
// Unlocked is a no-op; a different-account unlock while Unlocked is
// rejected without touching the in-memory key (spec §4.2 transitions).
func (a *Agent) Unlock(account string, prfOutputVRF, encryptedVRFKeypair []byte, expectedVRFPublicKeyHex string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateUnlocked {
		if a.account == account {
			return nil
		}
		return errors.New(errors.ErrCodeInputValidation, "vrf agent already unlocked for a different account", 409).
			WithDetails("current_account", a.account)
	}

	priv, err := kdm.DecryptVRFKeypair(encryptedVRFKeypair, account, prfOutputVRF)
	if err != nil {
		return err
	}
	pub := priv.Public().(ed25519.PublicKey)

	if hex.EncodeToString(pub) != expectedVRFPublicKeyHex {
		return errors.New(errors.ErrCodeDecryptionFailed, "unlock failed: vrf public key mismatch", 422)
	}

	wrapKey, err := infracrypto.DeriveWrapKey(prfOutputVRF, account, infracrypto.DomainVRFSeed)
	if err != nil {
		return errors.InternalInvariant("vrf wrap key derivation", err)
	}

	a.state = StateUnlocked
	a.account = account
	a.privKey = priv
	a.pubKey = pub
	a.wrapKey = wrapKey
	a.sessions = session.NewStore()

	if a.logger != nil {
		a.logger.LogSecurityEvent(context.Background(), "vrf_agent_unlocked", map[string]interface{}{
			"account": account,
		})
	}
	return nil
}

// BootstrapResult is returned by GenerateBootstrapKeypair.
type BootstrapResult struct {
	VRFPublicKey string
	Challenge    *Challenge
}

// GenerateBootstrapKeypair creates a throwaway VRF keypair used only during
// the first registration ceremony, before any PRF output exists. It does
// not transition Agent state and is not persisted by this package.
func GenerateBootstrapKeypair(userID, rpID string) (*BootstrapResult, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, errors.InternalInvariant("bootstrap vrf keypair generation", err)
	}

	alpha := ComputeVRFInput(userID, rpID, 0, make([]byte, 32))
	result, err := infracrypto.GenerateVRFProof(priv, alpha)
	if err != nil {
		return nil, nil, errors.InternalInvariant("bootstrap vrf proof generation", err)
	}

	return &BootstrapResult{
		VRFPublicKey: hex.EncodeToString(pub),
		Challenge: &Challenge{
			VRFInput:     alpha,
			VRFOutput:    result.Beta,
			VRFProof:     infracrypto.SerializeVRFProof(result.Proof),
			VRFPublicKey: hex.EncodeToString(pub),
			UserID:       userID,
			RPID:         rpID,
		},
	}, priv, nil
}

// GenerateChallenge computes vrf_input and runs ECVRF_prove, producing a
// Challenge bound to the given chain state. Requires Unlocked.
func (a *Agent) GenerateChallenge(req ChallengeRequest) (*Challenge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateUnlocked {
		return nil, errors.New(errors.ErrCodeInputValidation, "vrf agent is not unlocked", 409).
			WithDetails("state", a.state.String())
	}
	if len(req.BlockHash) == 0 {
		return nil, errors.InputValidation("block_hash", "must not be empty")
	}

	alpha := ComputeVRFInput(a.account, req.RPID, req.BlockHeight, req.BlockHash)

	result, err := infracrypto.GenerateVRFProof(a.privKey, alpha)
	if a.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		a.metrics.RecordVRFProof(outcome)
	}
	if a.logger != nil {
		a.logger.LogCryptoOperation(context.Background(), "vrf_prove", err == nil, err)
	}
	if err != nil {
		return nil, errors.InternalInvariant("vrf proof generation", err)
	}

	return &Challenge{
		VRFInput:     alpha,
		VRFOutput:    result.Beta,
		VRFProof:     infracrypto.SerializeVRFProof(result.Proof),
		VRFPublicKey: hex.EncodeToString(a.pubKey),
		UserID:       a.account,
		RPID:         req.RPID,
		BlockHeight:  req.BlockHeight,
		BlockHash:    req.BlockHash,
	}, nil
}

// MintSession creates a new warm signing session bound to the Agent's
// current unlock. Requires Unlocked.
func (a *Agent) MintSession(ttl time.Duration, remainingUses int) (string, error) {
	a.mu.Lock()
	state := a.state
	store := a.sessions
	a.mu.Unlock()

	if state != StateUnlocked {
		return "", errors.New(errors.ErrCodeInputValidation, "vrf agent is not unlocked", 409)
	}

	id, err := session.Mint(store, ttl, remainingUses)
	if err != nil {
		return "", err
	}
	if a.metrics != nil {
		a.metrics.SessionsMintedTotal.Inc()
	}
	return id, nil
}

// DispenseSession returns a one-shot token authorizing one signing
// operation, decrementing the session's remaining uses.
func (a *Agent) DispenseSession(sessionID string) ([]byte, error) {
	a.mu.Lock()
	store := a.sessions
	a.mu.Unlock()

	token, err := session.Dispense(store, sessionID)
	if a.metrics != nil {
		switch {
		case err == nil:
			a.metrics.SessionsDispensedTotal.Inc()
		case errors.GetServiceError(err) != nil && errors.GetServiceError(err).Code == errors.ErrCodeTimeoutExpired:
			a.metrics.SessionsExpiredTotal.Inc()
		default:
			a.metrics.SessionsExhaustedTotal.Inc()
		}
	}
	return token, err
}

// CheckSessionStatus reports a session's state without consuming a use.
func (a *Agent) CheckSessionStatus(sessionID string) session.StatusResult {
	a.mu.Lock()
	store := a.sessions
	a.mu.Unlock()
	return session.Status(store, sessionID)
}

// ReapExpiredSessions removes sessions past their TTL; wired to a periodic
// scheduler (internal/orchestrator uses robfig/cron for this).
func (a *Agent) ReapExpiredSessions() int {
	a.mu.Lock()
	store := a.sessions
	a.mu.Unlock()
	return session.Reap(store)
}

// ClearSession zeroizes and drops the in-memory private key and wrap key,
// drops every session, and transitions to Cleared. The public key is dropped
// without being overwritten; the account name of the last unlock is kept and
// logged.
func (a *Agent) ClearSession() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.privKey {
		a.privKey[i] = 0
	}
	a.privKey = nil
	a.pubKey = nil
	for i := range a.wrapKey {
		a.wrapKey[i] = 0
	}
	a.wrapKey = nil
	session.Clear(a.sessions)
	a.state = StateCleared

	if a.logger != nil {
		a.logger.LogSecurityEvent(context.Background(), "vrf_agent_cleared", map[string]interface{}{
			"account": a.account,
		})
	}
}

// RegistrationCredentialConfirmation drives the secure registration
// confirmation check from within the VRF Agent boundary, so that the PRF
// output backing displayedPublicKey never needs to cross a process boundary
// in plaintext. It checks that ctx is not done and that account and the
// derived public key are non-empty; it does not compare the key against any
// other key.
func (a *Agent) RegistrationCredentialConfirmation(ctx context.Context, account string, derivedVRFPublicKeyHex string) error {
	select {
	case <-ctx.Done():
		return errors.TimeoutExpired("registration_credential_confirmation")
	default:
	}
	if account == "" {
		return errors.InputValidation("account", "must not be empty")
	}
	if derivedVRFPublicKeyHex == "" {
		return errors.InputValidation("vrf_public_key", "must not be empty")
	}
	return nil
}

// Shamir3PassEncryptCurrentVRFKeypair runs the client's side of locking the
// Agent's current in-memory VRF keypair's wrap key with the relay (spec
// §4.2 steps 1-3, shamir3pass_client_encrypt_current_vrf_keypair): it blinds
// the wrap key with a fresh exponent (ClientApplyLock), round-trips through
// the relay's /shamir/apply route, then strips its own exponent from the
// relay's response (ClientRemoveLock). The returned bytes are KEK^s, the
// value to persist as the account's server-encrypted VRF keypair lock blob
// alongside EncryptedVRFKeypair; the relay never learns the plaintext wrap
// key. Requires Unlocked.
func (a *Agent) Shamir3PassEncryptCurrentVRFKeypair(ctx context.Context, relayClient *relay.Client, prime *big.Int) ([]byte, error) {
	a.mu.Lock()
	if a.state != StateUnlocked {
		a.mu.Unlock()
		return nil, errors.New(errors.ErrCodeInputValidation, "vrf agent must be unlocked to lock its keypair", 409)
	}
	account := a.account
	kek := shamir.KEKFromBytes(a.wrapKey, prime)
	a.mu.Unlock()

	raisedForRelay, clientExponent, err := shamir.ClientApplyLock(kek, prime)
	if err != nil {
		return nil, err
	}

	resp, err := relayClient.ApplyServerLock(ctx, relay.ShamirApplyLockRequest{
		Account: account,
		Value:   base64.StdEncoding.EncodeToString(raisedForRelay.Bytes()),
	})
	if err != nil {
		return nil, err
	}
	raisedByRelay, err := decodeShamirValue(resp.Value)
	if err != nil {
		return nil, err
	}

	locked, err := shamir.ClientRemoveLock(raisedByRelay, clientExponent, prime)
	if err != nil {
		return nil, err
	}
	return locked.Bytes(), nil
}

// Shamir3PassClientDecryptVRFKeypair reverses the lock (spec §4.2 step 4,
// auto-unlock: shamir3pass_client_decrypt_vrf_keypair): it sends the stored
// lockedBlob to the relay's /shamir/remove route, which strips its own
// secret exponent without ever learning the wrap key, recovering KEK. The
// caller uses the returned wrap key to decrypt the account's
// EncryptedVRFKeypair and complete Unlock without the original PRF output.
// Unlike the encrypt side, this does not run ClientApplyLock/ClientRemoveLock
// itself — the relay's own exponent removal is the entire protocol step;
// there is nothing left for the client to unblind.
func (a *Agent) Shamir3PassClientDecryptVRFKeypair(ctx context.Context, relayClient *relay.Client, account string, lockedBlob []byte, prime *big.Int) ([]byte, error) {
	resp, err := relayClient.RemoveServerLock(ctx, relay.ShamirApplyLockRequest{
		Account: account,
		Value:   base64.StdEncoding.EncodeToString(lockedBlob),
	})
	if err != nil {
		return nil, err
	}
	kek, err := decodeShamirValue(resp.Value)
	if err != nil {
		return nil, err
	}
	return kek.Bytes(), nil
}

func decodeShamirValue(b64 string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.InputValidation("shamir_value", "invalid base64 encoding")
	}
	return new(big.Int).SetBytes(raw), nil
}
