package cashu

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TokenPrefix is the prefix of serialized V3 tokens.
const TokenPrefix = "cashuA"

// ErrInvalidToken is returned for strings that cannot be decoded as tokens.
var ErrInvalidToken = errors.New("cashu: invalid token")

// Token is a decoded V3 token: proofs grouped by mint, one unit.
type Token struct {
	Entries []TokenEntry `json:"token"`
	Unit    string       `json:"unit,omitempty"`
	Memo    string       `json:"memo,omitempty"`
}

// TokenEntry holds the proofs issued by one mint.
type TokenEntry struct {
	Mint   string  `json:"mint"`
	Proofs []Proof `json:"proofs"`
}

// NewToken builds a single-mint token.
func NewToken(mintURL, unit string, proofs []Proof) Token {
	return Token{
		Entries: []TokenEntry{{Mint: mintURL, Proofs: proofs}},
		Unit:    unit,
	}
}

// Mint returns the mint URL of the first entry.
func (t Token) Mint() string {
	if len(t.Entries) == 0 {
		return ""
	}
	return t.Entries[0].Mint
}

// GetUnit returns the token unit, defaulting to DefaultUnit.
func (t Token) GetUnit() string {
	if t.Unit == "" {
		return DefaultUnit
	}
	return t.Unit
}

// Proofs returns the proofs of every entry.
func (t Token) Proofs() []Proof {
	var out []Proof
	for _, e := range t.Entries {
		out = append(out, e.Proofs...)
	}
	return out
}

// Amount returns the total value of the token.
func (t Token) Amount() uint64 {
	return SumProofs(t.Proofs())
}

// Encode serializes the token as a cashuA string.
func Encode(t Token) (string, error) {
	if len(t.Entries) == 0 {
		return "", fmt.Errorf("%w: no entries", ErrInvalidToken)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("cashu: marshal token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a cashuA token string. Both padded and unpadded, URL-safe
// and standard base64 bodies are accepted.
func Decode(s string) (Token, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "cashu:")
	body, ok := strings.CutPrefix(s, TokenPrefix)
	if !ok {
		return Token{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidToken, TokenPrefix)
	}

	raw, err := decodeBase64(body)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(t.Entries) == 0 || len(t.Proofs()) == 0 {
		return Token{}, fmt.Errorf("%w: no proofs", ErrInvalidToken)
	}
	return t, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
