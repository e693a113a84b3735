// Package relay implements the HTTP client for the external relay service
// that co-holds the Shamir-locked wrap key and, in threshold-signer mode,
// a second Ed25519 key share. Bearer-token auth is grounded on the
// teacher's ServiceTokenRoundTripper pattern, generalized from RS256
// service-to-service tokens to a single relay-scoped HMAC token; requests
// are wrapped in the ambient circuit breaker/retry stack. Every failed call,
// including an HTTP error status reported by the relay, is retried by the
// retry policy inside the breaker and then surfaced as RelayUnavailable.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/infrastructure/resilience"
)

// TokenClaims is the bearer token this client presents to the relay on
// every call, identifying the requesting wallet-engine instance.
type TokenClaims struct {
	Issuer string `json:"iss"`
	jwt.RegisteredClaims
}

// TokenSigner mints short-lived bearer tokens for outbound relay calls.
type TokenSigner struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenSigner creates a signer using an HMAC shared secret provisioned
// out of band with the relay operator.
func NewTokenSigner(secret []byte, issuer string, expiry time.Duration) *TokenSigner {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &TokenSigner{secret: secret, issuer: issuer, expiry: expiry}
}

func (s *TokenSigner) mint() (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		Issuer: s.issuer,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Client talks to the relay's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *TokenSigner
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// NewClient creates a relay Client.
func NewClient(baseURL string, signer *TokenSigner, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		signer:     signer,
		breaker:    resilience.New(resilience.DefaultConfig()),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// ShamirApplyLockRequest/Response carry the relay's pass of the 3-pass
// commutative-encryption exchange (spec §4.2 step 2 and step 4).
type ShamirApplyLockRequest struct {
	Account string `json:"account"`
	Value   string `json:"value"` // base64 client-raised or client-removed value
}

type ShamirApplyLockResponse struct {
	Value string `json:"value"`
}

// ApplyServerLock sends the client-raised value to the relay, which raises
// it again with the relay's own secret exponent.
func (c *Client) ApplyServerLock(ctx context.Context, req ShamirApplyLockRequest) (*ShamirApplyLockResponse, error) {
	var resp ShamirApplyLockResponse
	err := c.postJSON(ctx, "/shamir/apply", req, &resp)
	return &resp, err
}

// RemoveServerLock sends a locked blob to the relay so it can remove its
// own layer before returning the remainder to the client.
func (c *Client) RemoveServerLock(ctx context.Context, req ShamirApplyLockRequest) (*ShamirApplyLockResponse, error) {
	var resp ShamirApplyLockResponse
	err := c.postJSON(ctx, "/shamir/remove", req, &resp)
	return &resp, err
}

// ThresholdAuthorizeRequest requests the relay's participation in a
// threshold signing round for account.
type ThresholdAuthorizeRequest struct {
	Account   string `json:"account"`
	RequestID string `json:"request_id"`
}

// ThresholdAuthorizeResponse carries the relay's session token for the
// subsequent keygen/sign calls.
type ThresholdAuthorizeResponse struct {
	SessionID string `json:"session_id"`
}

// AuthorizeThresholdSession starts a threshold-ed25519 signing session.
func (c *Client) AuthorizeThresholdSession(ctx context.Context, req ThresholdAuthorizeRequest) (*ThresholdAuthorizeResponse, error) {
	var resp ThresholdAuthorizeResponse
	err := c.postJSON(ctx, "/threshold-ed25519/authorize", req, &resp)
	return &resp, err
}

// ThresholdKeygenResponse is the relay's key-share public point for a
// session (base64 compressed Edwards point).
type ThresholdKeygenResponse struct {
	PublicShare string `json:"public_share"`
}

// RequestKeygenShare asks the relay to generate (or fetch) its persistent
// key share's public point for sessionID.
func (c *Client) RequestKeygenShare(ctx context.Context, sessionID string) (*ThresholdKeygenResponse, error) {
	var resp ThresholdKeygenResponse
	err := c.postJSON(ctx, "/threshold-ed25519/keygen", map[string]string{"session_id": sessionID}, &resp)
	return &resp, err
}

// ThresholdCommitResponse is the relay's nonce commitment for one signing
// round (the first of the two round trips a FROST-style signature needs,
// before the joint challenge can be computed).
type ThresholdCommitResponse struct {
	NonceCommitment string `json:"nonce_commitment"` // base64 relay R point
}

// RequestNonceCommitment asks the relay to generate a fresh per-round
// nonce commitment for sessionID, the input internal/signer/threshold
// needs to combine with the client's own commitment before it can compute
// the shared Ed25519 challenge.
func (c *Client) RequestNonceCommitment(ctx context.Context, sessionID string) (*ThresholdCommitResponse, error) {
	var resp ThresholdCommitResponse
	err := c.postJSON(ctx, "/threshold-ed25519/commit", map[string]string{"session_id": sessionID}, &resp)
	return &resp, err
}

// ThresholdSignRequest asks the relay for its partial signature over a
// jointly committed message.
type ThresholdSignRequest struct {
	SessionID  string `json:"session_id"`
	MessageHex string `json:"message_hex"`
	CombinedR  string `json:"combined_r"`  // base64 joint nonce commitment
	ChallengeHex string `json:"challenge_hex"`
}

// ThresholdSignResponse is the relay's partial signature scalar.
type ThresholdSignResponse struct {
	PartialSignature string `json:"partial_signature"` // base64 scalar
	NonceCommitment  string `json:"nonce_commitment"`   // base64 relay R point
}

// RequestPartialSignature runs one round of the relay's half of the
// FROST-style signing protocol (internal/signer/threshold does the local
// math; this call is the network hop for the relay's share).
func (c *Client) RequestPartialSignature(ctx context.Context, req ThresholdSignRequest) (*ThresholdSignResponse, error) {
	var resp ThresholdSignResponse
	err := c.postJSON(ctx, "/threshold-ed25519/sign", req, &resp)
	return &resp, err
}

// SubmitSignedDelegateRequest forwards a client-signed NEP-461
// DelegateAction to the relay for broadcast as a meta-transaction.
type SubmitSignedDelegateRequest struct {
	SignedDelegateBorshB64 string `json:"signed_delegate_borsh_b64"`
}

// SubmitSignedDelegateResponse reports the relay's broadcast outcome.
type SubmitSignedDelegateResponse struct {
	TransactionHash string `json:"transaction_hash"`
}

// SubmitSignedDelegate posts a signed delegate action for the relay to
// wrap and broadcast.
func (c *Client) SubmitSignedDelegate(ctx context.Context, req SubmitSignedDelegateRequest) (*SubmitSignedDelegateResponse, error) {
	var resp SubmitSignedDelegateResponse
	err := c.postJSON(ctx, "/signed-delegate", req, &resp)
	return &resp, err
}

// VerifyAuthenticationRequest asks the relay to cross-check a WebAuthn
// authentication assertion against the chain-recorded VRF public key
// before the Signer Agent is allowed to act on it.
type VerifyAuthenticationRequest struct {
	Account            string `json:"account"`
	AssertionJSON       []byte `json:"assertion"`
	ExpectedVRFChallenge string `json:"expected_vrf_challenge"`
}

// VerifyAuthenticationResponse reports whether the relay's independent
// check passed.
type VerifyAuthenticationResponse struct {
	Verified bool `json:"verified"`
}

// VerifyAuthenticationResponseCall calls the relay's
// /verify-authentication-response route.
func (c *Client) VerifyAuthenticationResponseCall(ctx context.Context, req VerifyAuthenticationRequest) (*VerifyAuthenticationResponse, error) {
	var resp VerifyAuthenticationResponse
	err := c.postJSON(ctx, "/verify-authentication-response", req, &resp)
	return &resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	err := c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			return c.doPostJSON(ctx, path, body, out)
		})
	})
	if err != nil {
		return errors.RelayUnavailable(path, err)
	}
	return nil
}

func (c *Client) doPostJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.InternalInvariant("relay request marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if c.signer != nil {
		token, err := c.signer.mint()
		if err != nil {
			return errors.InternalInvariant("relay bearer token mint", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.InternalInvariant("relay response unmarshal", err)
		}
	}
	return nil
}
