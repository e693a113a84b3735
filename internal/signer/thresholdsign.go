package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"

	"filippo.io/edwards25519"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
	"github.com/near-passkey/wallet-engine/internal/relay"
	"github.com/near-passkey/wallet-engine/internal/signer/threshold"
)

// SignerMode selects which half of spec §4.3 item 3's dichotomy a signing
// request uses: sign locally with the full decrypted NEAR key, or combine
// a client key share with the relay's share (FROST-style, 2-of-2).
type SignerMode string

const (
	ModeLocalSigner     SignerMode = "local-signer"
	ModeThresholdSigner SignerMode = "threshold-signer"
)

// SignerBehavior governs what happens when threshold-signer mode cannot
// reach the relay before any transaction in the batch has been signed
// (spec §4.3 item 3, scenario S6): strict refuses the request outright,
// fallback signs the whole batch locally with the decrypted NEAR key
// instead. A relay failure part-way through an already-started threshold
// batch is never downgraded to local signing regardless of behavior: the
// Orchestrator has already reserved nonces against the threshold public
// key, and switching the signing key mid-batch would assign transactions
// to the wrong access key's nonce sequence.
type SignerBehavior string

const (
	BehaviorStrict   SignerBehavior = "strict"
	BehaviorFallback SignerBehavior = "fallback"
)

// ThresholdSession carries everything SignTransactionsWithActions needs to
// run the client's half of the 2-of-2 signing protocol against the relay:
// the relay client, the session the relay tracks its own persistent key
// share and per-round nonce commitments under, and the client's own
// persistent key share.
type ThresholdSession struct {
	Client    *relay.Client
	SessionID string
	KeyShare  *threshold.KeyShare
}

// combinedPublicKey fetches the relay's persistent key-share public point
// and sums it with the client's, returning the joint Ed25519 public key
// this session signs under.
func combinedPublicKey(ctx context.Context, session *ThresholdSession) (PublicKey, *edwards25519.Point, error) {
	resp, err := session.Client.RequestKeygenShare(ctx, session.SessionID)
	if err != nil {
		return PublicKey{}, nil, err
	}
	relayPublic, err := decodePoint(resp.PublicShare)
	if err != nil {
		return PublicKey{}, nil, err
	}
	combined := threshold.CombinePublicKeys(session.KeyShare.Public, relayPublic)
	pk, err := NewEd25519PublicKey(combined)
	if err != nil {
		return PublicKey{}, nil, err
	}
	return pk, relayPublic, nil
}

// signThresholdHash runs one round of the FROST-style protocol over a
// single transaction hash: the client commits to a fresh nonce, the relay
// commits to its own, the two sides independently compute the same joint
// challenge, and their partial signatures combine into a standard 64-byte
// Ed25519 signature that verifies against the combined public key.
func signThresholdHash(ctx context.Context, session *ThresholdSession, relayPublic *edwards25519.Point, message [32]byte) ([64]byte, error) {
	var out [64]byte

	clientCommit, err := threshold.GenerateCommitment()
	if err != nil {
		return out, err
	}

	commitResp, err := session.Client.RequestNonceCommitment(ctx, session.SessionID)
	if err != nil {
		return out, err
	}
	relayR, err := decodePoint(commitResp.NonceCommitment)
	if err != nil {
		return out, err
	}

	combinedR := threshold.CombineNonceCommitments(clientCommit.R, relayR)
	combinedPub := threshold.CombinePublicKeys(session.KeyShare.Public, relayPublic)

	challenge, err := threshold.ComputeChallenge(combinedR, combinedPub, message[:])
	if err != nil {
		return out, err
	}
	clientPartial := threshold.PartialSign(clientCommit, session.KeyShare, challenge)

	signResp, err := session.Client.RequestPartialSignature(ctx, relay.ThresholdSignRequest{
		SessionID:    session.SessionID,
		MessageHex:   hex.EncodeToString(message[:]),
		CombinedR:    base64.StdEncoding.EncodeToString(combinedR.Bytes()),
		ChallengeHex: hex.EncodeToString(challenge.Bytes()),
	})
	if err != nil {
		return out, err
	}
	relayPartial, err := decodeScalar(signResp.PartialSignature)
	if err != nil {
		return out, err
	}

	copy(out[:], threshold.CombineSignatures(combinedR, clientPartial, relayPartial))
	return out, nil
}

func decodePoint(b64 string) (*edwards25519.Point, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.InputValidation("threshold_point", "invalid base64 encoding")
	}
	p, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, errors.InternalInvariant("threshold point decode", err)
	}
	return p, nil
}

func decodeScalar(b64 string) (*edwards25519.Scalar, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.InputValidation("threshold_scalar", "invalid base64 encoding")
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(raw)
	if err != nil {
		return nil, errors.InternalInvariant("threshold scalar decode", err)
	}
	return s, nil
}
