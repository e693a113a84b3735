package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIntent(amount string) DisplayedIntent {
	return DisplayedIntent{
		Transactions: []DisplayedTransaction{
			{
				Receiver: "bob.testnet",
				Actions: []DisplayedAction{
					{Type: "Transfer", Fields: map[string]string{"amount": amount}},
				},
			},
		},
	}
}

func TestComputeDigestIsOrderIndependentAcrossFieldMapIteration(t *testing.T) {
	intent := DisplayedIntent{
		Transactions: []DisplayedTransaction{
			{
				Receiver: "bob.testnet",
				Actions: []DisplayedAction{
					{Type: "FunctionCall", Fields: map[string]string{"method": "transfer", "gas": "30000000000000", "deposit": "0"}},
				},
			},
		},
	}
	d1 := ComputeDigest(intent)
	d2 := ComputeDigest(intent)
	assert.Equal(t, d1, d2)
}

func TestComputeDigestDiffersOnAnyFieldChange(t *testing.T) {
	d1 := ComputeDigest(sampleIntent("1"))
	d2 := ComputeDigest(sampleIntent("1000000000000000000000000"))
	assert.NotEqual(t, d1, d2)
}

func TestNormalizeCoercesSkipMode(t *testing.T) {
	cfg := Normalize(Config{UIMode: UIModeSkip, Behavior: BehaviorRequireClick, AutoProceedDelayMs: 5000})
	assert.Equal(t, BehaviorAutoProceed, cfg.Behavior)
	assert.Equal(t, 0, cfg.AutoProceedDelayMs)
}

func TestAutoProceedAgentReturnsDigestImmediately(t *testing.T) {
	agent := AutoProceedAgent{}
	intent := sampleIntent("1")

	result, err := agent.Confirm(context.Background(), intent, Config{UIMode: UIModeSkip})
	require.NoError(t, err)
	assert.Equal(t, ComputeDigest(intent), result.Digest)
	assert.False(t, result.Cancelled)
}

func TestAutoProceedAgentRejectsRequireClick(t *testing.T) {
	agent := AutoProceedAgent{}
	_, err := agent.Confirm(context.Background(), sampleIntent("1"), Config{UIMode: UIModeModal, Behavior: BehaviorRequireClick})
	require.Error(t, err)
}

func TestManualAgentResolveUnblocksConfirm(t *testing.T) {
	agent := NewManualAgent()
	intent := sampleIntent("1")
	ctx := WithRequestID(context.Background(), "req-1")

	go func() {
		time.Sleep(5 * time.Millisecond)
		agent.Resolve("req-1", ComputeDigest(intent))
	}()

	result, err := agent.Confirm(ctx, intent, Config{UIMode: UIModeModal, Behavior: BehaviorRequireClick})
	require.NoError(t, err)
	assert.Equal(t, ComputeDigest(intent), result.Digest)
}

func TestManualAgentCancelReturnsCancelledResult(t *testing.T) {
	agent := NewManualAgent()
	ctx := WithRequestID(context.Background(), "req-2")

	go func() {
		time.Sleep(5 * time.Millisecond)
		agent.Cancel("req-2")
	}()

	result, err := agent.Confirm(ctx, sampleIntent("1"), Config{UIMode: UIModeModal, Behavior: BehaviorRequireClick})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestManualAgentRejectsMismatchedDigest(t *testing.T) {
	agent := NewManualAgent()
	ctx := WithRequestID(context.Background(), "req-3")

	go func() {
		time.Sleep(5 * time.Millisecond)
		agent.Resolve("req-3", "not-the-real-digest")
	}()

	_, err := agent.Confirm(ctx, sampleIntent("1"), Config{UIMode: UIModeModal, Behavior: BehaviorRequireClick})
	require.Error(t, err)
}

func TestManualAgentTimesOutOnContextDeadline(t *testing.T) {
	agent := NewManualAgent()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := agent.Confirm(WithRequestID(ctx, "req-4"), sampleIntent("1"), Config{UIMode: UIModeModal, Behavior: BehaviorRequireClick})
	require.Error(t, err)
}
