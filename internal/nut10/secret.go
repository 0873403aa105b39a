// Package nut10 encodes and decodes spend-condition secrets.
//
// A secret is carried inside an ecash proof as a string. The only encoding
// produced and accepted by this package is the NUT-10 well-known secret
// format, identified by EncodingVersion:
//
//	["<kind>", {"nonce": "<hex>", "data": "<hex>", "tags": [["<key>", "<value>", ...], ...]}]
//
// For the P2PK kind, data is the compressed secp256k1 public key allowed to
// spend, and an optional ["locktime", "<unix seconds>"] tag gates redemption
// until that time.
package nut10

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EncodingVersion identifies the serialization produced by Secret.Encode.
const EncodingVersion = "nut10/1"

// Kind is the spend predicate carried by a secret.
type Kind string

// KindP2PK is the only predicate kind this package accepts. Subscription
// tokens are always pay-to-pubkey locks.
const KindP2PK Kind = "P2PK"

// Tag keys understood by this package.
const (
	TagLocktime = "locktime"
	TagSigFlag  = "sigflag"
	TagRefund   = "refund"
)

var (
	// ErrNotWellKnown is returned when a secret is not a NUT-10 secret.
	ErrNotWellKnown = errors.New("nut10: not a well-known secret")

	// ErrUnknownKind is returned when the secret kind is not supported.
	ErrUnknownKind = errors.New("nut10: unknown secret kind")
)

// Secret is a decoded NUT-10 secret.
type Secret struct {
	Kind  Kind
	Nonce string
	Data  string
	Tags  [][]string
}

type secretBody struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags"`
}

// Encode serializes the secret.
func (s Secret) Encode() (string, error) {
	if s.Kind == "" {
		return "", errors.New("nut10: secret kind is required")
	}
	tags := s.Tags
	if tags == nil {
		tags = [][]string{}
	}
	raw, err := json.Marshal([]any{string(s.Kind), secretBody{
		Nonce: s.Nonce,
		Data:  s.Data,
		Tags:  tags,
	}})
	if err != nil {
		return "", fmt.Errorf("nut10: marshal secret: %w", err)
	}
	return string(raw), nil
}

// Decode parses a secret string. Plain random secrets return ErrNotWellKnown.
func Decode(raw string) (Secret, error) {
	if len(raw) == 0 || raw[0] != '[' {
		return Secret{}, ErrNotWellKnown
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrNotWellKnown, err)
	}
	if len(parts) != 2 {
		return Secret{}, fmt.Errorf("%w: expected 2 elements, got %d", ErrNotWellKnown, len(parts))
	}

	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return Secret{}, fmt.Errorf("%w: kind: %v", ErrNotWellKnown, err)
	}
	switch Kind(kind) {
	case KindP2PK:
	default:
		return Secret{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var body secretBody
	if err := json.Unmarshal(parts[1], &body); err != nil {
		return Secret{}, fmt.Errorf("%w: body: %v", ErrNotWellKnown, err)
	}
	return Secret{
		Kind:  Kind(kind),
		Nonce: body.Nonce,
		Data:  body.Data,
		Tags:  body.Tags,
	}, nil
}

// Tag returns the first value of the named tag.
func (s Secret) Tag(key string) (string, bool) {
	for _, t := range s.Tags {
		if len(t) >= 2 && t[0] == key {
			return t[1], true
		}
	}
	return "", false
}

// Locktime returns the locktime tag, if present and well formed.
func (s Secret) Locktime() (time.Time, bool) {
	v, ok := s.Tag(TagLocktime)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

// NewNonce returns 32 random bytes, hex encoded.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("nut10: nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
