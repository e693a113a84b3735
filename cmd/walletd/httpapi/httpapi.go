// Package httpapi exposes the wallet engine's Session & Confirmation
// Orchestrator over HTTP: the agent request/response envelope (spec §6)
// for sign_transactions_with_actions, preference reads/writes, manual
// confirmation resolve/cancel, and a websocket progress stream per
// request id.
package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/infrastructure/logging"
	"github.com/near-passkey/wallet-engine/infrastructure/metrics"
	"github.com/near-passkey/wallet-engine/internal/confirmation"
	"github.com/near-passkey/wallet-engine/internal/orchestrator"
	"github.com/near-passkey/wallet-engine/internal/orchestrator/events"
	"github.com/near-passkey/wallet-engine/internal/relay"
	"github.com/near-passkey/wallet-engine/internal/signer"
	"github.com/near-passkey/wallet-engine/internal/signer/threshold"
	"github.com/near-passkey/wallet-engine/internal/store"
	"github.com/near-passkey/wallet-engine/internal/vrfagent"
)

// handler bundles the Orchestrator and its supporting agents behind chi
// routes. It holds no private key material; every field here is either
// stateless routing glue or a reference to an agent that already owns its
// own state.
type handler struct {
	orc      *orchestrator.Orchestrator
	manual   *confirmation.ManualAgent
	db       *store.Store
	vrf      *vrfagent.Agent
	relay    *relay.Client
	logger   *logging.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns an http.Handler exposing the wallet engine's HTTP
// surface. manual may be nil if no require_click confirmation flow is
// wired (ui_mode=skip/auto_proceed accounts only). db may be nil, in which
// case preferences live only in the Orchestrator's in-memory mirror for
// the lifetime of this process and /readyz skips the Postgres check. vrf
// may be nil, in which case /readyz skips the VRF Agent state check.
// relayClient may be nil, in which case a signer_mode=threshold-signer
// request always fails (there is no relay to share the signature with).
func NewHandler(orc *orchestrator.Orchestrator, manual *confirmation.ManualAgent, db *store.Store, vrf *vrfagent.Agent, logger *logging.Logger, m *metrics.Metrics, relayClient *relay.Client) http.Handler {
	h := &handler{
		orc:     orc,
		manual:  manual,
		db:      db,
		vrf:     vrf,
		relay:   relayClient,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/v1/agent", h.agentEnvelope)

	r.Get("/v1/preferences/{account}", h.getPreferences)
	r.Put("/v1/preferences/{account}", h.putPreferences)

	r.Post("/v1/confirmations/{requestID}/resolve", h.resolveConfirmation)
	r.Post("/v1/confirmations/{requestID}/cancel", h.cancelConfirmation)

	r.Get("/v1/progress/{requestID}", h.progressStream)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports whether this instance can actually serve signing traffic:
// Postgres reachability (if a store is wired) and the VRF Agent's lifecycle
// state (if one is wired). Relay reachability is not probed here since it
// has no dedicated health route; a down relay surfaces as RelayUnavailable
// on the first real call instead, guarded by infrastructure/resilience's
// circuit breaker.
func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	ready := true

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status["postgres"] = "unreachable"
			ready = false
		} else {
			status["postgres"] = "ok"
		}
	}
	if h.vrf != nil {
		status["vrf_agent"] = h.vrf.State().String()
	}

	if !ready {
		status["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// agentRequest mirrors the agent request envelope (spec §6): a typed
// request_type, a request_id, and a request-specific payload.
type agentRequest struct {
	RequestType string          `json:"request_type"`
	RequestID   string          `json:"request_id"`
	Payload     json.RawMessage `json:"payload"`
}

// agentResponse mirrors the agent response envelope. Progress is never
// sent over this synchronous response; that is what /v1/progress/{id} is
// for. Every HTTP response here is a terminal Success or Failure.
type agentResponse struct {
	ResponseType string      `json:"response_type"`
	Payload      interface{} `json:"payload"`
}

func (h *handler) agentEnvelope(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.InputValidation("body", "malformed agent envelope"))
		return
	}
	defer r.Body.Close()

	switch req.RequestType {
	case "SignTransactionsWithActions":
		h.signTransactionsWithActions(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, errors.InputValidation("request_type", "unsupported request type "+req.RequestType))
	}
}

// signRequestPayload is the wire shape of SignTransactionsWithActions'
// payload. EncryptedNearKey, PRFOutputNear and the VRF challenge bytes all
// arrive base64-encoded via encoding/json's []byte handling.
// signRequestPayload deliberately has no displayed_intent field: what the
// Confirmation UI Agent shows the user is derived server-side from
// Transactions (internal/orchestrator), never accepted from the caller,
// so there is nothing here for a client to desynchronize from the
// Actions actually signed (spec §4.4 P5).
type signRequestPayload struct {
	Account              string         `json:"account"`
	PublicKey            string         `json:"public_key"`
	PRFOutputNear        []byte         `json:"prf_output_near"`
	EncryptedNearKey     []byte         `json:"encrypted_near_key"`
	ExpectedVRFChallenge []byte         `json:"expected_vrf_challenge"`
	ProvidedVRFChallenge []byte         `json:"provided_vrf_challenge"`
	ReportedDigest       string         `json:"reported_digest"`
	Transactions         []pendingTxDTO `json:"transactions"`

	// SignerMode selects local-signer (default, omit this whole group) or
	// threshold-signer (spec §4.3 item 3). ThresholdKeyShare is the
	// client's persistent 2-of-2 key share scalar (raw 32 bytes); the
	// relay contributes the other share over ThresholdSessionID.
	SignerMode         string `json:"signer_mode,omitempty"`
	SignerBehavior     string `json:"signer_behavior,omitempty"`
	ThresholdSessionID string `json:"threshold_session_id,omitempty"`
	ThresholdKeyShare  []byte `json:"threshold_key_share,omitempty"`
}

type pendingTxDTO struct {
	ReceiverID string      `json:"receiver_id"`
	Actions    []actionDTO `json:"actions"`
}

// actionDTO is a discriminated-union wire encoding of signer.Action: Type
// selects which of the other fields are populated. Deposit is a decimal
// yoctoNEAR string since it does not fit in a JSON number.
type actionDTO struct {
	Type       string `json:"type"`
	Deposit    string `json:"deposit,omitempty"`
	MethodName string `json:"method_name,omitempty"`
	Args       []byte `json:"args,omitempty"`
	Gas        uint64 `json:"gas,omitempty"`
	PublicKey  []byte `json:"public_key,omitempty"`
	Nonce      uint64 `json:"nonce,omitempty"`
}

func (a actionDTO) toAction() (signer.Action, error) {
	switch a.Type {
	case "transfer":
		deposit, ok := new(big.Int).SetString(a.Deposit, 10)
		if !ok {
			return nil, errors.InputValidation("deposit", "must be a decimal yoctoNEAR amount")
		}
		return signer.TransferAction{Deposit: deposit}, nil
	case "function_call":
		deposit, ok := new(big.Int).SetString(a.Deposit, 10)
		if !ok {
			deposit = big.NewInt(0)
		}
		return signer.FunctionCallAction{MethodName: a.MethodName, Args: a.Args, Gas: a.Gas, Deposit: deposit}, nil
	case "add_key":
		pk, err := signer.NewEd25519PublicKey(a.PublicKey)
		if err != nil {
			return nil, err
		}
		return signer.AddKeyAction{PublicKey: pk, Nonce: a.Nonce}, nil
	case "delete_key":
		pk, err := signer.NewEd25519PublicKey(a.PublicKey)
		if err != nil {
			return nil, err
		}
		return signer.DeleteKeyAction{PublicKey: pk}, nil
	default:
		return nil, errors.InputValidation("action.type", "unknown action type "+a.Type)
	}
}

type signedTransactionDTO struct {
	ReceiverID string `json:"receiver_id"`
	Nonce      uint64 `json:"nonce"`
	SignedTx   []byte `json:"signed_tx"`
}

func (h *handler) signTransactionsWithActions(w http.ResponseWriter, r *http.Request, req agentRequest) {
	var payload signRequestPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.InputValidation("payload", "malformed sign request"))
		return
	}

	txs := make([]orchestrator.PendingTransaction, len(payload.Transactions))
	for i, tx := range payload.Transactions {
		actions := make([]signer.Action, len(tx.Actions))
		for j, a := range tx.Actions {
			action, err := a.toAction()
			if err != nil {
				writeError(w, errors.GetHTTPStatus(err), err)
				return
			}
			actions[j] = action
		}
		txs[i] = orchestrator.PendingTransaction{ReceiverID: tx.ReceiverID, Actions: actions}
	}

	signRequest := orchestrator.SignRequest{
		RequestID:            req.RequestID,
		Account:              payload.Account,
		PublicKey:            payload.PublicKey,
		PRFOutputNear:        payload.PRFOutputNear,
		EncryptedNearKey:     payload.EncryptedNearKey,
		ExpectedVRFChallenge: payload.ExpectedVRFChallenge,
		ProvidedVRFChallenge: payload.ProvidedVRFChallenge,
		ReportedDigest:       payload.ReportedDigest,
		Transactions:         txs,
	}

	if payload.SignerMode == string(signer.ModeThresholdSigner) {
		if h.relay == nil {
			writeError(w, http.StatusServiceUnavailable, errors.RelayUnavailable("threshold-ed25519", nil))
			return
		}
		keyShare, err := threshold.KeyShareFromScalarBytes(payload.ThresholdKeyShare)
		if err != nil {
			writeError(w, errors.GetHTTPStatus(err), err)
			return
		}
		signRequest.SignerMode = signer.ModeThresholdSigner
		signRequest.SignerBehavior = signer.SignerBehavior(payload.SignerBehavior)
		signRequest.Threshold = &signer.ThresholdSession{
			Client:    h.relay,
			SessionID: payload.ThresholdSessionID,
			KeyShare:  keyShare,
		}
	}

	result, err := h.orc.RouteSignRequest(r.Context(), signRequest)
	if err != nil {
		writeError(w, errors.GetHTTPStatus(err), err)
		return
	}

	out := make([]signedTransactionDTO, len(result.SignedTransactions))
	for i, signed := range result.SignedTransactions {
		encoded, encErr := signed.EncodeBorsh()
		if encErr != nil {
			writeError(w, http.StatusInternalServerError, errors.InternalInvariant("encode signed transaction", encErr))
			return
		}
		out[i] = signedTransactionDTO{ReceiverID: signed.Transaction.ReceiverID, Nonce: signed.Transaction.Nonce, SignedTx: encoded}
	}

	writeJSON(w, http.StatusOK, agentResponse{ResponseType: "Success", Payload: map[string]interface{}{"signed_transactions": out}})
}

func (h *handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	cfg := h.loadPreferences(r.Context(), account)
	writeJSON(w, http.StatusOK, preferencesDTO{
		UIMode:             string(cfg.UIMode),
		Behavior:           string(cfg.Behavior),
		AutoProceedDelayMs: cfg.AutoProceedDelayMs,
	})
}

// loadPreferences returns account's confirmation policy from the
// Orchestrator's in-memory mirror, falling back to the persisted row and
// warming the mirror from it on a cold start (e.g. after a restart, before
// the account's other device has reconnected to push its own update).
func (h *handler) loadPreferences(ctx context.Context, account string) confirmation.Config {
	cfg := h.orc.Preferences().Get(account)
	if cfg != confirmation.Normalize(confirmation.Config{}) || h.db == nil {
		return cfg
	}
	row, err := h.db.GetPreferences(ctx, account)
	if err != nil {
		return cfg
	}
	var loaded confirmation.Config
	if err := json.Unmarshal(row.ConfirmationJSON, &loaded); err != nil {
		return cfg
	}
	h.orc.Preferences().Set(account, loaded)
	return h.orc.Preferences().Get(account)
}

type preferencesDTO struct {
	UIMode             string `json:"ui_mode"`
	Behavior           string `json:"behavior"`
	AutoProceedDelayMs int    `json:"auto_proceed_delay_ms"`
}

func (h *handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var dto preferencesDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, errors.InputValidation("body", "malformed preferences"))
		return
	}
	defer r.Body.Close()

	cfg := confirmation.Config{
		UIMode:             confirmation.UIMode(dto.UIMode),
		Behavior:           confirmation.Behavior(dto.Behavior),
		AutoProceedDelayMs: dto.AutoProceedDelayMs,
	}
	h.orc.Preferences().Set(account, cfg)

	if h.db != nil {
		confirmationJSON, _ := json.Marshal(confirmation.Normalize(cfg))
		if err := h.db.UpsertPreferences(r.Context(), store.Preferences{
			AccountID:        account,
			ConfirmationJSON: confirmationJSON,
		}); err != nil {
			writeError(w, errors.GetHTTPStatus(err), err)
			return
		}
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type resolveConfirmationRequest struct {
	Digest string `json:"digest"`
}

func (h *handler) resolveConfirmation(w http.ResponseWriter, r *http.Request) {
	if h.manual == nil {
		writeError(w, http.StatusNotImplemented, errors.InputValidation("confirmation", "no manual confirmation agent wired"))
		return
	}
	requestID := chi.URLParam(r, "requestID")
	var body resolveConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.InputValidation("body", "malformed resolve request"))
		return
	}
	defer r.Body.Close()

	h.manual.Resolve(requestID, body.Digest)
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *handler) cancelConfirmation(w http.ResponseWriter, r *http.Request) {
	if h.manual == nil {
		writeError(w, http.StatusNotImplemented, errors.InputValidation("confirmation", "no manual confirmation agent wired"))
		return
	}
	requestID := chi.URLParam(r, "requestID")
	h.manual.Cancel(requestID)
	writeJSON(w, http.StatusNoContent, nil)
}

// progressStream upgrades to a websocket and relays every progress event
// published for requestID until it has sent the complete phase event or the
// client disconnects.
func (h *handler) progressStream(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.WithContext(r.Context()).WithError(err).Warn("progress websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	eventCh := make(chan events.Event, 16)
	unsubscribe := h.orc.Events().Subscribe(requestID, func(ev events.Event) {
		select {
		case eventCh <- ev:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case ev := <-eventCh:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Phase == string(signer.PhaseComplete) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
