// Package p2pk holds the secp256k1 keys that unlock pay-to-public-key
// ecash and signs the witnesses the mint checks before a swap.
package p2pk

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/nut10"
)

// ErrInvalidKey is returned for private keys that are not 32 hex-encoded bytes.
var ErrInvalidKey = errors.New("p2pk: invalid private key")

// KeyRing maps public keys to the private keys able to spend proofs
// locked to them. Both the compressed and the even-y x-only form of each
// public key are indexed, since senders may lock to either.
// All methods are safe for concurrent use.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]string
	pubs []string
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]string)}
}

// ParsePrivateKey decodes a hex private key.
func ParsePrivateKey(privHex string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrInvalidKey, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// PublicKey returns the compressed hex public key of privHex.
func PublicKey(privHex string) (string, error) {
	priv, err := ParsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.PubKey().SerializeCompressed()), nil
}

// Add registers a private key and returns its compressed public key.
func (r *KeyRing) Add(privHex string) (string, error) {
	privHex = strings.ToLower(strings.TrimSpace(privHex))
	pub, err := PublicKey(privHex)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[pub]; !ok {
		r.pubs = append(r.pubs, pub)
	}
	r.keys[pub] = privHex
	r.keys[nut10.NormalizePubkey(pub[2:])] = privHex
	return pub, nil
}

// Len returns the number of private keys in the ring.
func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pubs)
}

// PublicKeys returns the compressed public keys in insertion order.
func (r *KeyRing) PublicKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.pubs)
}

// Lookup returns the private key for pubkey, accepting compressed or
// x-only encodings.
func (r *KeyRing) Lookup(pubkey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	priv, ok := r.keys[nut10.NormalizePubkey(pubkey)]
	return priv, ok
}

// PrivateKeyForToken returns the private key able to sign for the first
// P2PK-locked proof of token. Tokens without locked proofs, undecodable
// tokens and tokens locked to unknown keys yield false.
func (r *KeyRing) PrivateKeyForToken(token string) (string, bool) {
	tok, err := cashu.Decode(token)
	if err != nil {
		return "", false
	}
	for _, p := range tok.Proofs() {
		if !p.Locked() {
			continue
		}
		cond, err := nut10.ParseP2PK(p.Secret)
		if err != nil {
			continue
		}
		if priv, ok := r.Lookup(cond.Pubkey); ok {
			return priv, true
		}
	}
	return "", false
}
