package nut10

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// P2PK is the pay-to-public-key spend condition: only the holder of the
// private key for Pubkey can spend, and not before Locktime when set.
type P2PK struct {
	Pubkey   string
	Locktime *time.Time
}

// Secret builds the NUT-10 secret for the condition with the given nonce.
func (p P2PK) Secret(nonce string) Secret {
	tags := [][]string{}
	if p.Locktime != nil {
		tags = append(tags, []string{TagLocktime, strconv.FormatInt(p.Locktime.Unix(), 10)})
	}
	return Secret{
		Kind:  KindP2PK,
		Nonce: nonce,
		Data:  NormalizePubkey(p.Pubkey),
		Tags:  tags,
	}
}

// Encode builds a secret with a fresh nonce and serializes it.
func (p P2PK) Encode() (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	return p.Secret(nonce).Encode()
}

// ParseP2PK decodes a secret string into its P2PK condition.
func ParseP2PK(raw string) (P2PK, error) {
	s, err := Decode(raw)
	if err != nil {
		return P2PK{}, err
	}
	if s.Kind != KindP2PK {
		return P2PK{}, fmt.Errorf("%w: want %s, got %s", ErrUnknownKind, KindP2PK, s.Kind)
	}
	cond := P2PK{Pubkey: s.Data}
	if lt, ok := s.Locktime(); ok {
		cond.Locktime = &lt
	}
	return cond, nil
}

// Unlocked reports whether the locktime, if any, has passed at now.
func (p P2PK) Unlocked(now time.Time) bool {
	return p.Locktime == nil || !now.Before(*p.Locktime)
}

// IsP2PK reports whether raw is a P2PK secret.
func IsP2PK(raw string) bool {
	return strings.HasPrefix(raw, `["P2PK"`)
}

// NormalizePubkey converts a 32-byte x-only key into its compressed form
// with an even-y prefix. Other inputs are returned lowercased. It is for
// key comparison only: a proof secret must reach the mint byte for byte.
func NormalizePubkey(pk string) string {
	pk = strings.ToLower(strings.TrimSpace(pk))
	if len(pk) == 64 {
		if _, err := hex.DecodeString(pk); err == nil {
			return "02" + pk
		}
	}
	return pk
}
