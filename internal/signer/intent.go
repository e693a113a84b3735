package signer

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"

	"github.com/near-passkey/wallet-engine/internal/confirmation"
)

// DisplayedIntentFromTransactions builds the confirmation.DisplayedIntent
// straight from the transactions about to be signed. It is the only
// source SignTransactionsWithActions trusts for its confirmation digest
// (spec §4.3 step "compute intent_digest from the canonical transaction
// binary", §4.4 P5): a digest derived this way can never diverge from the
// Actions actually signed below, unlike one computed from a separately
// supplied display blob.
func DisplayedIntentFromTransactions(txs []TransactionRequest) confirmation.DisplayedIntent {
	intent := confirmation.DisplayedIntent{Transactions: make([]confirmation.DisplayedTransaction, len(txs))}
	for i, tx := range txs {
		actions := make([]confirmation.DisplayedAction, len(tx.Actions))
		for j, a := range tx.Actions {
			actions[j] = displayAction(a)
		}
		intent.Transactions[i] = confirmation.DisplayedTransaction{Receiver: tx.ReceiverID, Actions: actions}
	}
	return intent
}

func displayAction(a Action) confirmation.DisplayedAction {
	switch v := a.(type) {
	case TransferAction:
		return displayTransfer(v)
	case *TransferAction:
		return displayTransfer(*v)
	case FunctionCallAction:
		return displayFunctionCall(v)
	case *FunctionCallAction:
		return displayFunctionCall(*v)
	case AddKeyAction:
		return displayAddKey(v)
	case *AddKeyAction:
		return displayAddKey(*v)
	case DeleteKeyAction:
		return displayDeleteKey(v)
	case *DeleteKeyAction:
		return displayDeleteKey(*v)
	default:
		// An Action type this package doesn't know about yet must not be
		// silently omitted from the digest: fold its tag in so a future
		// action kind still changes the canonical encoding.
		return confirmation.DisplayedAction{Type: "unknown", Fields: map[string]string{"tag": strconv.Itoa(int(a.Tag()))}}
	}
}

func displayTransfer(v TransferAction) confirmation.DisplayedAction {
	return confirmation.DisplayedAction{Type: "transfer", Fields: map[string]string{
		"deposit": v.Deposit.String(),
	}}
}

func displayFunctionCall(v FunctionCallAction) confirmation.DisplayedAction {
	return confirmation.DisplayedAction{Type: "function_call", Fields: map[string]string{
		"method_name": v.MethodName,
		"args":        base64.StdEncoding.EncodeToString(v.Args),
		"gas":         strconv.FormatUint(v.Gas, 10),
		"deposit":     v.Deposit.String(),
	}}
}

func displayAddKey(v AddKeyAction) confirmation.DisplayedAction {
	return confirmation.DisplayedAction{Type: "add_key", Fields: map[string]string{
		"public_key": hex.EncodeToString(v.PublicKey.Data[:]),
		"nonce":      strconv.FormatUint(v.Nonce, 10),
	}}
}

func displayDeleteKey(v DeleteKeyAction) confirmation.DisplayedAction {
	return confirmation.DisplayedAction{Type: "delete_key", Fields: map[string]string{
		"public_key": hex.EncodeToString(v.PublicKey.Data[:]),
	}}
}
