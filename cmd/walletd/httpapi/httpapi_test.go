package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-passkey/wallet-engine/infrastructure/ratelimit"
	"github.com/near-passkey/wallet-engine/internal/confirmation"
	"github.com/near-passkey/wallet-engine/internal/kdm"
	"github.com/near-passkey/wallet-engine/internal/orchestrator"
)

const testAccount = "alice.testnet"

func prfOutput(b byte) []byte {
	out := make([]byte, kdm.PRFOutputSize)
	for i := range out {
		out[i] = b
	}
	return out
}

// newTestHandler wires an Orchestrator with an AutoProceedAgent confirmer
// (no manual resolve/cancel flow needed) and no backing store, matching how
// the teacher's own handler tests construct an application with nil stores.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	orc := orchestrator.New(orchestrator.Config{
		Confirmer: confirmation.AutoProceedAgent{},
		RateLimit: ratelimit.Config{RequestsPerSecond: 100, Burst: 100},
	})
	manual := confirmation.NewManualAgent()
	return NewHandler(orc, manual, nil, nil, nil, nil, nil)
}

func TestHealthReturnsOK(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

// TestReadyWithNoDBOrVRFWiredIsOK covers the degenerate wiring used by
// newTestHandler: with neither a store nor a VRF Agent wired, readiness
// has nothing to check and reports ok.
func TestReadyWithNoDBOrVRFWiredIsOK(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
}

func signEnvelope(t *testing.T) []byte {
	t.Helper()
	prf := prfOutput(0x7a)
	keys, err := kdm.DeriveNearKeypairAndEncrypt(testAccount, prf)
	require.NoError(t, err)

	challenge := []byte("vrf-challenge-bytes-0123456789ab")

	payload := signRequestPayload{
		Account:              testAccount,
		PublicKey:            keys.PublicKey,
		PRFOutputNear:        prf,
		EncryptedNearKey:     keys.EncryptedPrivateKey,
		ExpectedVRFChallenge: challenge,
		ProvidedVRFChallenge: challenge,
		Transactions: []pendingTxDTO{
			{
				ReceiverID: "bob.testnet",
				Actions: []actionDTO{
					{Type: "transfer", Deposit: "1000000000000000000000000"},
				},
			},
		},
	}

	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	envelope := agentRequest{RequestType: "SignTransactionsWithActions", RequestID: "req-1", Payload: payloadBytes}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body
}

func TestAgentEnvelopeSignsTransaction(t *testing.T) {
	h := newTestHandler(t)
	body := signEnvelope(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/agent", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var out agentResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "Success", out.ResponseType)
}

func TestAgentEnvelopeRejectsUnknownRequestType(t *testing.T) {
	h := newTestHandler(t)
	envelope := agentRequest{RequestType: "DoesNotExist", RequestID: "req-2"}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/agent", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAgentEnvelopeRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/agent", bytes.NewReader([]byte("not json")))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPreferencesRoundTripWithoutStore(t *testing.T) {
	h := newTestHandler(t)

	put := preferencesDTO{UIMode: "modal", Behavior: "require_click", AutoProceedDelayMs: 0}
	body, err := json.Marshal(put)
	require.NoError(t, err)

	putReq := httptest.NewRequest(http.MethodPut, "/v1/preferences/"+testAccount, bytes.NewReader(body))
	putResp := httptest.NewRecorder()
	h.ServeHTTP(putResp, putReq)
	require.Equal(t, http.StatusNoContent, putResp.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/preferences/"+testAccount, nil)
	getResp := httptest.NewRecorder()
	h.ServeHTTP(getResp, getReq)
	require.Equal(t, http.StatusOK, getResp.Code)

	var got preferencesDTO
	require.NoError(t, json.Unmarshal(getResp.Body.Bytes(), &got))
	assert.Equal(t, "modal", got.UIMode)
	assert.Equal(t, "require_click", got.Behavior)
}

func TestPreferencesSkipModeCoercesBehaviorOnRead(t *testing.T) {
	h := newTestHandler(t)

	put := preferencesDTO{UIMode: "skip", Behavior: "require_click", AutoProceedDelayMs: 5000}
	body, err := json.Marshal(put)
	require.NoError(t, err)

	putReq := httptest.NewRequest(http.MethodPut, "/v1/preferences/"+testAccount, bytes.NewReader(body))
	putResp := httptest.NewRecorder()
	h.ServeHTTP(putResp, putReq)
	require.Equal(t, http.StatusNoContent, putResp.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/preferences/"+testAccount, nil)
	getResp := httptest.NewRecorder()
	h.ServeHTTP(getResp, getReq)

	var got preferencesDTO
	require.NoError(t, json.Unmarshal(getResp.Body.Bytes(), &got))
	assert.Equal(t, "auto_proceed", got.Behavior)
	assert.Equal(t, 0, got.AutoProceedDelayMs)
}

func TestResolveConfirmationWithoutManualAgentIsNotImplemented(t *testing.T) {
	orc := orchestrator.New(orchestrator.Config{Confirmer: confirmation.AutoProceedAgent{}})
	h := NewHandler(orc, nil, nil, nil, nil, nil, nil)

	body, err := json.Marshal(resolveConfirmationRequest{Digest: "abc"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/confirmations/req-1/resolve", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotImplemented, resp.Code)
}

func TestCancelConfirmationWithManualAgent(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/confirmations/req-1/cancel", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
}
