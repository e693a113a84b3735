// Package chain implements a thin NEAR JSON-RPC 2.0 client for the view
// calls and broadcast the Orchestrator and Signer Agent need: current
// access key nonce/permission, the latest final block hash (for both VRF
// challenge freshness and transaction construction), contract view
// functions, and broadcast_tx_commit. Grounded on the generic
// callRPC/queryAccessKey/queryBlock/broadcastTx pattern in the Privy SDK's
// NEAR chain adapter, wrapped in the ambient circuit breaker/retry stack.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/infrastructure/resilience"
)

// Client is a NEAR JSON-RPC client for a single endpoint.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// NewClient creates a Client targeting rpcURL (e.g. NEAR testnet/mainnet
// RPC, or a local sandbox node).
func NewClient(rpcURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		rpcURL:     rpcURL,
		httpClient: httpClient,
		breaker:    resilience.New(resilience.DefaultConfig()),
		retry:      resilience.DefaultRetryConfig(),
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AccessKeyView is the result of a view_access_key query.
type AccessKeyView struct {
	Nonce      uint64
	Permission string // "FullAccess" or a JSON blob describing a FunctionCall key
}

// BlockView is the subset of a block query this client needs.
type BlockView struct {
	HeaderHash   string
	HeaderHeight uint64
}

// ViewAccessKey calls view_access_key for (account, publicKey) and returns
// the key's current nonce, used to compute the next transaction's nonce.
func (c *Client) ViewAccessKey(ctx context.Context, account, publicKey string) (*AccessKeyView, error) {
	result, err := c.callRPC(ctx, "query", map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   account,
		"public_key":   publicKey,
	})
	if err != nil {
		return nil, err
	}
	return &AccessKeyView{
		Nonce:      gjson.GetBytes(result, "nonce").Uint(),
		Permission: gjson.GetBytes(result, "permission").Raw,
	}, nil
}

// LatestBlock fetches the latest final block, the source of both
// transaction block hashes and VRF challenge freshness.
func (c *Client) LatestBlock(ctx context.Context) (*BlockView, error) {
	result, err := c.callRPC(ctx, "block", map[string]any{
		"finality": "final",
	})
	if err != nil {
		return nil, err
	}
	return &BlockView{
		HeaderHash:   gjson.GetBytes(result, "header.hash").String(),
		HeaderHeight: gjson.GetBytes(result, "header.height").Uint(),
	}, nil
}

// CallViewFunction invokes a read-only contract method (spec §6: e.g.
// verify_authentication_response, verify_registration_response,
// get_recovery_emails), returning its raw JSON result.
func (c *Client) CallViewFunction(ctx context.Context, contractID, methodName string, argsJSON []byte) ([]byte, error) {
	result, err := c.callRPC(ctx, "query", map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  methodName,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	})
	if err != nil {
		return nil, err
	}

	resultBytes := gjson.GetBytes(result, "result")
	if !resultBytes.IsArray() {
		return result, nil
	}
	out := make([]byte, 0, len(resultBytes.Array()))
	for _, v := range resultBytes.Array() {
		out = append(out, byte(v.Int()))
	}
	return out, nil
}

// BroadcastResult is returned by BroadcastTxCommit.
type BroadcastResult struct {
	TransactionHash string
	Raw             []byte
}

// BroadcastTxCommit submits a Borsh-encoded signed transaction and waits
// for it to be included and executed.
func (c *Client) BroadcastTxCommit(ctx context.Context, signedTxBytes []byte) (*BroadcastResult, error) {
	encoded := base64.StdEncoding.EncodeToString(signedTxBytes)
	result, err := c.callRPC(ctx, "broadcast_tx_commit", []string{encoded})
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{
		TransactionHash: gjson.GetBytes(result, "transaction.hash").String(),
		Raw:             result,
	}, nil
}

// callRPC performs one JSON-RPC 2.0 call, guarded by a circuit breaker and
// exponential-backoff retry (spec §7: chain RPC errors are retryable
// unless fatal).
func (c *Client) callRPC(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var result json.RawMessage

	op := func() error {
		body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: "wallet-engine", Method: method, Params: params})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		raw := gjson.ParseBytes(respBody)
		if rpcErr := raw.Get("error"); rpcErr.Exists() {
			return fmt.Errorf("near rpc error %d: %s", rpcErr.Get("code").Int(), rpcErr.Get("message").String())
		}
		result = json.RawMessage(raw.Get("result").Raw)
		return nil
	}

	err := c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.retry, op)
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return nil, errors.RelayUnavailable(method, err)
		}
		return nil, errors.ChainRPCError(method, false, err)
	}
	return result, nil
}
