// Package shamir implements the Shamir three-pass commutative encryption
// protocol (spec §4.2) used to let the relay participate in VRF keypair
// auto-unlock without ever learning the plaintext wrap key. The group is the
// multiplicative group of integers mod a public prime p; exponents compose
// in the exponent ring Z_(p-1) (Fermat's little theorem), the standard
// construction for this protocol.
package shamir

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"

	"github.com/near-passkey/wallet-engine/infrastructure/errors"
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// ParsePrimeB64 decodes the public prime p from its base64url wire encoding
// (spec §6 environment input SHAMIR_PRIME).
func ParsePrimeB64(encoded string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(encoded); err != nil {
			return nil, errors.InputValidation("shamir_prime", "invalid base64url encoding")
		}
	}
	p := new(big.Int).SetBytes(raw)
	if !p.ProbablyPrime(20) {
		return nil, errors.InputValidation("shamir_prime", "value is not prime")
	}
	return p, nil
}

// GenerateExponent returns a random exponent in [2, p-2] coprime to p-1,
// suitable as a private Shamir-pass exponent (client's a or the relay's s).
func GenerateExponent(prime *big.Int) (*big.Int, error) {
	if prime == nil || prime.Cmp(big.NewInt(5)) < 0 {
		return nil, errors.InputValidation("prime", "must be a prime >= 5")
	}
	upper := new(big.Int).Sub(prime, big.NewInt(3)) // range size for [2, p-2]
	order := new(big.Int).Sub(prime, one)
	gcd := new(big.Int)
	for {
		n, err := rand.Int(rand.Reader, upper)
		if err != nil {
			return nil, errors.InternalInvariant("shamir exponent generation", err)
		}
		n.Add(n, two)
		if gcd.GCD(nil, nil, n, order).Cmp(one) == 0 {
			return n, nil
		}
	}
}

// Raise computes value^exponent mod prime — the single operation each party
// performs in a given pass of the protocol.
func Raise(value, exponent, prime *big.Int) *big.Int {
	return new(big.Int).Exp(value, exponent, prime)
}

// Invert computes the modular inverse of exponent in the exponent ring
// Z_(p-1), used to remove a party's own exponent from a raised value.
func Invert(exponent, prime *big.Int) (*big.Int, error) {
	order := new(big.Int).Sub(prime, one)
	inv := new(big.Int).ModInverse(exponent, order)
	if inv == nil {
		return nil, errors.InternalInvariant("shamir exponent inversion", nil)
	}
	return inv, nil
}

// Remove reverses a party's own Raise: given value = x^exponent mod prime,
// returns x. This is the core commutativity property (P8):
// Remove(Raise(x, e, p), e, p) == x for any x in [1, p-1].
func Remove(value, exponent, prime *big.Int) (*big.Int, error) {
	inv, err := Invert(exponent, prime)
	if err != nil {
		return nil, err
	}
	return Raise(value, inv, prime), nil
}

// KEKFromBytes maps a raw wrap key into the group [1, p-1] it must live in
// to take part in the three-pass exchange.
func KEKFromBytes(wrapKey []byte, prime *big.Int) *big.Int {
	kek := new(big.Int).SetBytes(wrapKey)
	kek.Mod(kek, new(big.Int).Sub(prime, one))
	if kek.Sign() == 0 {
		kek.SetInt64(1)
	}
	return kek
}

// ClientApplyLock is pass 1: the client raises its KEK to a fresh random
// exponent a and sends the result to the relay, keeping a secret.
func ClientApplyLock(kek, prime *big.Int) (raisedForRelay, clientExponent *big.Int, err error) {
	a, err := GenerateExponent(prime)
	if err != nil {
		return nil, nil, err
	}
	return Raise(kek, a, prime), a, nil
}

// RelayApplyLock is pass 2: the relay raises the received value to its own
// secret exponent s and returns the result. It never learns kek.
func RelayApplyLock(received, relaySecret, prime *big.Int) *big.Int {
	return Raise(received, relaySecret, prime)
}

// ClientRemoveLock is pass 3: the client strips its own exponent a from the
// relay's response, producing kek^s — the value stored as the
// server-encrypted VRF keypair's lock blob.
func ClientRemoveLock(relayResponse, clientExponent, prime *big.Int) (*big.Int, error) {
	return Remove(relayResponse, clientExponent, prime)
}

// RelayRemoveLock is pass 4 (auto-unlock): the relay strips its secret s
// from the stored kek^s blob, returning kek to the client directly — it
// never sees the plaintext VRF key, only this group element.
func RelayRemoveLock(lockedBlob, relaySecret, prime *big.Int) (*big.Int, error) {
	return Remove(lockedBlob, relaySecret, prime)
}
