package vrfagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-passkey/wallet-engine/internal/relay"
	"github.com/near-passkey/wallet-engine/internal/vrfagent/shamir"
)

func mustTestPrime(t *testing.T) *big.Int {
	t.Helper()
	// 2^127 - 1, a Mersenne prime, easily provably prime and large enough
	// that the KEK (a 32-byte value reduced mod p-1) never degenerates.
	p, ok := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	require.True(t, ok)
	require.True(t, p.ProbablyPrime(20))
	return p
}

// fakeShamirRelay plays the relay's half of the 3-pass exchange: it holds a
// secret exponent s and applies/removes it on request, mirroring
// internal/relay's documented /shamir/apply and /shamir/remove routes.
func fakeShamirRelay(t *testing.T, prime *big.Int) (*httptest.Server, *big.Int) {
	t.Helper()
	secret, err := shamir.GenerateExponent(prime)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/shamir/apply", func(w http.ResponseWriter, r *http.Request) {
		var req relay.ShamirApplyLockRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Value)
		require.NoError(t, err)
		value := new(big.Int).SetBytes(raw)
		raised := shamir.RelayApplyLock(value, secret, prime)
		json.NewEncoder(w).Encode(relay.ShamirApplyLockResponse{
			Value: base64.StdEncoding.EncodeToString(raised.Bytes()),
		})
	})
	mux.HandleFunc("/shamir/remove", func(w http.ResponseWriter, r *http.Request) {
		var req relay.ShamirApplyLockRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Value)
		require.NoError(t, err)
		value := new(big.Int).SetBytes(raw)
		removed, err := shamir.RelayRemoveLock(value, secret, prime)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(relay.ShamirApplyLockResponse{
			Value: base64.StdEncoding.EncodeToString(removed.Bytes()),
		})
	})

	srv := httptest.NewServer(mux)
	return srv, secret
}

func TestShamir3PassEncryptThenDecryptRecoversTheSameWrapKey(t *testing.T) {
	account := "alice.testnet"
	agent := unlockedAgent(t, account)
	prime := mustTestPrime(t)

	srv, _ := fakeShamirRelay(t, prime)
	defer srv.Close()
	relayClient := relay.NewClient(srv.URL, nil, nil)

	lockedBlob, err := agent.Shamir3PassEncryptCurrentVRFKeypair(context.Background(), relayClient, prime)
	require.NoError(t, err)
	require.NotEmpty(t, lockedBlob)

	recoveredKEK, err := agent.Shamir3PassClientDecryptVRFKeypair(context.Background(), relayClient, account, lockedBlob, prime)
	require.NoError(t, err)

	expectedKEK := shamir.KEKFromBytes(agent.wrapKey, prime)
	assert.Equal(t, 0, expectedKEK.Cmp(new(big.Int).SetBytes(recoveredKEK)))
}

func TestShamir3PassEncryptRequiresUnlockedState(t *testing.T) {
	a := New(nil, nil)
	prime := mustTestPrime(t)
	srv, _ := fakeShamirRelay(t, prime)
	defer srv.Close()

	_, err := a.Shamir3PassEncryptCurrentVRFKeypair(context.Background(), relay.NewClient(srv.URL, nil, nil), prime)
	require.Error(t, err)
}
