// Package redeem runs the redemption lifecycle of locked subscription
// tokens: detecting matured tokens, swapping them for owned proofs at the
// mint and reconciling the subscription and locked-token ledgers.
package redeem

import (
	"context"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
)

// ReceiveOptions carries the per-call parameters of MintWallet.Receive.
type ReceiveOptions struct {
	// Counter is the keyset counter used to derive the new outputs.
	Counter uint32
	// PrivateKey signs the P2PK witnesses of locked proofs.
	PrivateKey string
	// ProofsWeHave helps the wallet pick output denominations.
	ProofsWeHave []cashu.Proof
}

// MintWallet swaps received tokens for freshly owned proofs at one mint
// and unit. Receive returns cashu.ErrAlreadySpent when the mint reports
// the inputs as spent.
type MintWallet interface {
	Receive(ctx context.Context, token string, opts ReceiveOptions) ([]cashu.Proof, error)
}

// WalletProvider returns the wallet for a mint and unit.
type WalletProvider interface {
	MintWallet(mintURL, unit string) (MintWallet, error)
}

// Counters tracks keyset counters.
type Counters interface {
	// Keyset returns the active keyset id of the mint for unit.
	Keyset(ctx context.Context, mintURL, unit string) (string, error)
	Counter(ctx context.Context, keysetID string) (uint32, error)
	Increase(ctx context.Context, keysetID string, n uint32) error
}

// ProofStore persists owned proofs.
type ProofStore interface {
	AddProofs(ctx context.Context, proofs []cashu.Proof, mintURL, bucketID, label string) error
	Proofs(ctx context.Context, mintURL, unit string) ([]cashu.Proof, error)
}

// PaidToken is one payment-history entry.
type PaidToken struct {
	Amount   uint64
	Token    string
	Mint     string
	Unit     string
	Label    string
	BucketID string
	Date     time.Time
}

// PaymentHistory records received payments.
type PaymentHistory interface {
	AddPaidToken(ctx context.Context, t PaidToken) error
}

// Messenger sends direct messages. Delivery is best effort.
type Messenger interface {
	SendDM(ctx context.Context, npub, payload string) error
}

// KeyResolver finds the private key able to spend a P2PK-locked token.
type KeyResolver interface {
	PrivateKeyForToken(token string) (string, bool)
}

// Signals publishes local events.
type Signals interface {
	Publish(topic string, payload any) int
}
