// Package confirmation implements the Confirmation UI Agent's
// rendering-independent digest computation (spec §4.4) and a minimal,
// UI-framework-agnostic confirmation surface the Orchestrator can drive.
// The actual UI component library and theming are out of scope (spec §1);
// this package only guarantees that whatever was displayed hashes the same
// way the Signer Agent will recompute it.
package confirmation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

// UIMode selects how (or whether) the user is shown a confirmation surface.
type UIMode string

const (
	UIModeSkip   UIMode = "skip"
	UIModeModal  UIMode = "modal"
	UIModeDrawer UIMode = "drawer"
)

// Behavior selects whether confirmation requires an explicit click or
// proceeds automatically after a delay.
type Behavior string

const (
	BehaviorRequireClick Behavior = "require_click"
	BehaviorAutoProceed  Behavior = "auto_proceed"
)

// Config is per-request UI policy (spec §3 ConfirmationConfig). skip coerces
// behavior=auto_proceed, delay=0 regardless of what was requested.
type Config struct {
	UIMode             UIMode
	Behavior           Behavior
	AutoProceedDelayMs int
}

// Normalize enforces the skip-mode coercion invariant.
func Normalize(cfg Config) Config {
	if cfg.UIMode == UIModeSkip {
		cfg.Behavior = BehaviorAutoProceed
		cfg.AutoProceedDelayMs = 0
	}
	return cfg
}

// DisplayedAction is one action within a displayed transaction, represented
// as a type tag plus a flat field map so the canonical encoding can sort
// fields independent of how the UI laid them out.
type DisplayedAction struct {
	Type   string
	Fields map[string]string
}

// DisplayedTransaction is one (receiver, actions) tuple as shown to the user.
type DisplayedTransaction struct {
	Receiver string
	Actions  []DisplayedAction
}

// DisplayedIntent is the full list of transactions the user was shown for a
// sign_transactions_with_actions batch.
type DisplayedIntent struct {
	Transactions []DisplayedTransaction
}

// CanonicalEncode produces a byte encoding of the displayed intent that is
// independent of field rendering order (action field keys are sorted) but
// preserves transaction and action order, since that order is itself part
// of the intent (spec §5: transactions sign in input order).
func CanonicalEncode(intent DisplayedIntent) []byte {
	var b strings.Builder
	for _, tx := range intent.Transactions {
		b.WriteString("tx:")
		b.WriteString(tx.Receiver)
		for _, action := range tx.Actions {
			b.WriteString("|action:")
			b.WriteString(action.Type)

			keys := make([]string, 0, len(action.Fields))
			for k := range action.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				b.WriteString(";")
				b.WriteString(k)
				b.WriteString("=")
				b.WriteString(action.Fields[k])
			}
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// ComputeDigest returns ui_intent_digest = SHA-256(canonical_encoding(intent))
// as a hex string (spec §4.4 step 3, and the basis for P5).
func ComputeDigest(intent DisplayedIntent) string {
	sum := sha256.Sum256(CanonicalEncode(intent))
	return hex.EncodeToString(sum[:])
}

// Result is what the Confirmation UI Agent returns to the Orchestrator.
type Result struct {
	Digest    string
	Cancelled bool
}

// Agent is the Orchestrator's view of the Confirmation UI Agent: given a
// displayed intent and policy, produce the digest the user confirmed (or
// report cancellation).
type Agent interface {
	Confirm(ctx context.Context, intent DisplayedIntent, cfg Config) (Result, error)
}

// AutoProceedAgent implements Agent for ui_mode=skip or behavior=auto_proceed:
// it never blocks on real user interaction and returns the digest
// immediately (delay is the Orchestrator's concern via context deadlines,
// not re-implemented here since there is no real UI to wait on).
type AutoProceedAgent struct{}

// Confirm computes and returns the digest without requiring a real click.
// It refuses require_click requests: those must go through a ManualAgent
// wired to an actual UI surface.
func (AutoProceedAgent) Confirm(ctx context.Context, intent DisplayedIntent, cfg Config) (Result, error) {
	cfg = Normalize(cfg)
	if cfg.Behavior == BehaviorRequireClick {
		return Result{}, errors.InputValidation("confirmation_config", "require_click needs a ManualAgent")
	}
	select {
	case <-ctx.Done():
		return Result{}, errors.TimeoutExpired("confirmation")
	default:
	}
	return Result{Digest: ComputeDigest(intent)}, nil
}
