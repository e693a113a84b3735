// Package orchestrator implements the Session & Confirmation Orchestrator
// (spec §4.4): it sequences a signing request through rate limiting,
// confirmation, nonce reservation, and the Signer Agent, publishing
// progress events as it goes, and periodically reaps expired VRF Agent
// sessions. It holds no private key material itself — it only routes
// between the agents that do.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/robfig/cron/v3"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/infrastructure/logging"
	"github.com/near-passkey/wallet-engine/infrastructure/metrics"
	"github.com/near-passkey/wallet-engine/infrastructure/ratelimit"
	"github.com/near-passkey/wallet-engine/internal/chain"
	"github.com/near-passkey/wallet-engine/internal/confirmation"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/events"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/nonce"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/noncestore"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/preferences"
	"github.com/near-passkey/wallet-engine/internal/signer"
)

// VRFChallenger is the subset of *vrfagent.Agent the Orchestrator depends
// on, so tests can substitute a fake.
type VRFChallenger interface {
	ReapExpiredSessions() int
}

// Orchestrator sequences one account's signing requests end to end.
type Orchestrator struct {
	confirmer confirmation.Agent
	nonces    *nonce.Table
	prefs     *preferences.Store
	events    *events.Bus
	limiter   *ratelimit.PerAccountLimiter
	chain     *chain.Client
	vrf       VRFChallenger
	cron      *cron.Cron
	mirror    *noncestore.Mirror

	logger  *logging.Logger
	metrics *metrics.Metrics

	defaultSignerBehavior signer.SignerBehavior
}

// Config configures a new Orchestrator.
type Config struct {
	Confirmer confirmation.Agent
	Chain     *chain.Client
	VRF       VRFChallenger
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	RateLimit ratelimit.Config
	// Mirror, if set, fans per-access-key nonce high-water marks out to
	// Redis so peer walletd instances behind a load balancer converge on
	// the same view of an account's nonce sequence (spec §4.4).
	Mirror *noncestore.Mirror
	// DefaultSignerBehavior fills SignRequest.SignerBehavior when a caller
	// leaves it unset, sourced from infrastructure/config's RelayConfig.
	DefaultSignerBehavior signer.SignerBehavior
}

// New creates an Orchestrator with fresh nonce/preferences/events state.
func New(cfg Config) *Orchestrator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Orchestrator{
		confirmer:             cfg.Confirmer,
		nonces:                nonce.NewTable(),
		prefs:                 preferences.NewStore(),
		events:                events.NewBus(),
		limiter:               ratelimit.NewPerAccountLimiter(cfg.RateLimit),
		chain:                 cfg.Chain,
		vrf:                   cfg.VRF,
		mirror:                cfg.Mirror,
		logger:                cfg.Logger,
		metrics:               m,
		defaultSignerBehavior: cfg.DefaultSignerBehavior,
	}
}

// StartReaper schedules periodic VRF session reaping on cronSpec (standard
// 5-field cron syntax), returning once the schedule is registered. Stop
// cancels it.
func (o *Orchestrator) StartReaper(cronSpec string) error {
	if o.cron != nil {
		return errors.New(errors.ErrCodeInternalInvariant, "reaper already started", 500)
	}
	c := cron.New()
	_, err := c.AddFunc(cronSpec, func() {
		if o.vrf == nil {
			return
		}
		reaped := o.vrf.ReapExpiredSessions()
		if reaped > 0 && o.logger != nil {
			o.logger.WithFields(map[string]interface{}{"reaped": reaped}).Info("reaped expired vrf sessions")
		}
	})
	if err != nil {
		return errors.InternalInvariant("cron schedule registration", err)
	}
	c.Start()
	o.cron = c
	return nil
}

// Stop cancels the reaper schedule, if started.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
}

// SignRequest is one batch signing round routed through the Orchestrator.
type SignRequest struct {
	RequestID        string
	Account          string
	PublicKey        string // "ed25519:<base58>", the signer's current access key
	PRFOutputNear    []byte
	EncryptedNearKey []byte

	ExpectedVRFChallenge []byte
	ProvidedVRFChallenge []byte

	// ReportedDigest is the ui_intent_digest the Confirmation UI Agent
	// returned for this batch. There is no corresponding DisplayedIntent
	// input: the Orchestrator derives what the user is shown straight from
	// Transactions below, so the confirmation surface and the Signer Agent
	// always confirm and verify the same content (spec §4.4 step 2, P5).
	ReportedDigest string

	// SignerMode/SignerBehavior/Threshold select between local and
	// threshold signing (spec §4.3 item 3). These are per-request, not
	// account preferences: unlike confirmation.Config, nothing about
	// signer_mode survives between calls, mirroring how ExpectedVRFChallenge
	// is supplied fresh on every request.
	SignerMode     signer.SignerMode
	SignerBehavior signer.SignerBehavior
	Threshold      *signer.ThresholdSession

	Transactions []PendingTransaction
}

// PendingTransaction is one not-yet-nonced transaction the caller wants
// signed; the Orchestrator assigns its nonce and current block hash.
type PendingTransaction struct {
	ReceiverID string
	Actions    []signer.Action
}

// SignResult is what RouteSignRequest returns on success.
type SignResult struct {
	SignedTransactions []*signer.SignedTransaction
}

// RouteSignRequest runs the full Orchestrator pipeline (spec §4.4 steps
// 1-6): per-account rate limiting, VRF challenge/confirmation digest
// verification (delegated to internal/signer, which owns that check),
// nonce acquisition against the signer's access key, and transaction
// signing. On failure it releases any nonces it reserved so a later
// request isn't starved of them.
func (o *Orchestrator) RouteSignRequest(ctx context.Context, req SignRequest) (*SignResult, error) {
	if !o.limiter.Allow(req.Account) {
		return nil, errors.New(errors.ErrCodeNonceContention, "too many requests for this account", 429)
	}
	if len(req.Transactions) == 0 {
		return nil, errors.InputValidation("transactions", "must contain at least one transaction")
	}

	publish := func(ev signer.ProgressEvent) {
		o.events.Publish(events.Event{RequestID: req.RequestID, Phase: string(ev.Phase), Detail: fmt.Sprintf("tx_index=%d", ev.TxIndex)})
	}

	var blockHash [32]byte
	if o.chain != nil {
		if ak, err := o.chain.ViewAccessKey(ctx, req.Account, req.PublicKey); err == nil {
			o.nonces.UpdateNonceFromBlockchain(req.Account, req.PublicKey, ak.Nonce)
		}
		if block, err := o.chain.LatestBlock(ctx); err == nil {
			if decoded, decErr := base58.Decode(block.HeaderHash); decErr == nil && len(decoded) == 32 {
				copy(blockHash[:], decoded)
			}
		}
	}
	if o.mirror != nil {
		if peerHighWater, ok, err := o.mirror.FetchHighWater(ctx, req.Account, req.PublicKey); err == nil && ok {
			o.nonces.UpdateNonceFromBlockchain(req.Account, req.PublicKey, peerHighWater)
		}
	}

	firstNonce, err := o.nonces.Acquire(req.Account, req.PublicKey, len(req.Transactions))
	if err != nil {
		return nil, err
	}
	if o.mirror != nil {
		newHighWater := firstNonce + uint64(len(req.Transactions)) - 1
		_ = o.mirror.PublishHighWater(ctx, req.Account, req.PublicKey, newHighWater)
	}

	txReqs := make([]signer.TransactionRequest, len(req.Transactions))
	for i, tx := range req.Transactions {
		txReqs[i] = signer.TransactionRequest{
			ReceiverID: tx.ReceiverID,
			Nonce:      firstNonce + uint64(i),
			BlockHash:  blockHash,
			Actions:    tx.Actions,
		}
	}
	// The Confirmation UI Agent is shown exactly the intent derived from
	// these transactions, not anything the caller supplied independently
	// (spec §4.4 step 2): that is what makes the digest it returns below
	// meaningful to compare against the Signer's own re-derivation.
	derivedIntent := signer.DisplayedIntentFromTransactions(txReqs)

	reportedDigest := req.ReportedDigest
	if o.confirmer != nil {
		publish(signer.ProgressEvent{Phase: signer.PhaseAwaitingConfirmation, TxIndex: -1})
		confirmCtx := confirmation.WithRequestID(ctx, req.RequestID)
		result, err := o.confirmer.Confirm(confirmCtx, derivedIntent, o.prefs.Get(req.Account))
		if err != nil {
			o.nonces.Release(req.Account, req.PublicKey, len(req.Transactions))
			return nil, err
		}
		if result.Cancelled {
			o.nonces.Release(req.Account, req.PublicKey, len(req.Transactions))
			return nil, errors.New(errors.ErrCodeIntentDigestMismatch, "user cancelled confirmation", 409)
		}
		reportedDigest = result.Digest
	}

	signerBehavior := req.SignerBehavior
	if signerBehavior == "" {
		signerBehavior = o.defaultSignerBehavior
	}

	signed, err := signer.SignTransactionsWithActions(ctx, signer.SignTransactionsRequest{
		Account:              req.Account,
		PRFOutputNear:        req.PRFOutputNear,
		EncryptedNearKey:     req.EncryptedNearKey,
		ExpectedVRFChallenge: req.ExpectedVRFChallenge,
		ProvidedVRFChallenge: req.ProvidedVRFChallenge,
		ReportedDigest:       reportedDigest,
		SignerMode:           req.SignerMode,
		SignerBehavior:       signerBehavior,
		Threshold:            req.Threshold,
		Transactions:         txReqs,
		OnProgress:           publish,
	})
	if err != nil {
		o.nonces.Release(req.Account, req.PublicKey, len(req.Transactions))
		return nil, err
	}

	o.events.Clear(req.RequestID)
	return &SignResult{SignedTransactions: signed}, nil
}

// Preferences exposes the Orchestrator's preferences store so cmd/walletd
// can wire preference-update routes to it.
func (o *Orchestrator) Preferences() *preferences.Store {
	return o.prefs
}

// Events exposes the Orchestrator's progress event bus so cmd/walletd can
// subscribe a websocket connection to a request id.
func (o *Orchestrator) Events() *events.Bus {
	return o.events
}
