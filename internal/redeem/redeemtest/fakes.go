// Package redeemtest provides test doubles for the redeem package.
package redeemtest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/nut10"
	"github.com/flemzord/nutsub/internal/redeem"
)

// LockedToken encodes a single-proof token locked to pubkey, optionally
// with a locktime.
func LockedToken(mintURL, pubkey string, amount uint64, locktime *time.Time) string {
	secret, err := nut10.P2PK{Pubkey: pubkey, Locktime: locktime}.Encode()
	if err != nil {
		panic(err)
	}
	tok := cashu.NewToken(mintURL, cashu.DefaultUnit, []cashu.Proof{{
		ID:     "keyset-1",
		Amount: amount,
		Secret: secret,
		C:      "02c0ffee",
	}})
	s, err := cashu.Encode(tok)
	if err != nil {
		panic(err)
	}
	return s
}

// ReceiveCall is one recorded Wallet.Receive call.
type ReceiveCall struct {
	Mint  string
	Unit  string
	Token string
	Opts  redeem.ReceiveOptions
}

// Wallet is a fake mint wallet and wallet provider. By default Receive
// returns one fresh proof per input proof.
type Wallet struct {
	// ReceiveFunc overrides the default behaviour when set.
	ReceiveFunc func(token string, opts redeem.ReceiveOptions) ([]cashu.Proof, error)
	// ProviderErr fails MintWallet.
	ProviderErr error

	mu    sync.Mutex
	calls []ReceiveCall
	seq   int
}

// Compile-time interface checks.
var (
	_ redeem.WalletProvider = (*Wallet)(nil)
	_ redeem.MintWallet     = (*boundWallet)(nil)
)

// MintWallet implements redeem.WalletProvider.
func (w *Wallet) MintWallet(mintURL, unit string) (redeem.MintWallet, error) {
	if w.ProviderErr != nil {
		return nil, w.ProviderErr
	}
	return &boundWallet{w: w, mint: mintURL, unit: unit}, nil
}

// Calls returns the recorded Receive calls.
func (w *Wallet) Calls() []ReceiveCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.calls)
}

// receive records the call and mints one proof per input proof.
func (w *Wallet) receive(mint, unit, token string, opts redeem.ReceiveOptions) ([]cashu.Proof, error) {
	w.mu.Lock()
	w.calls = append(w.calls, ReceiveCall{Mint: mint, Unit: unit, Token: token, Opts: opts})
	fn := w.ReceiveFunc
	w.mu.Unlock()

	if fn != nil {
		return fn(token, opts)
	}
	tok, err := cashu.Decode(token)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var out []cashu.Proof
	for _, p := range tok.Proofs() {
		w.seq++
		out = append(out, cashu.Proof{
			ID:     p.ID,
			Amount: p.Amount,
			Secret: fmt.Sprintf("owned-%d", w.seq),
			C:      "02beef",
		})
	}
	return out, nil
}

type boundWallet struct {
	w    *Wallet
	mint string
	unit string
}

func (b *boundWallet) Receive(_ context.Context, token string, opts redeem.ReceiveOptions) ([]cashu.Proof, error) {
	return b.w.receive(b.mint, b.unit, token, opts)
}

// Counters is an in-memory redeem.Counters.
type Counters struct {
	// KeysetID is returned by Keyset; "keyset-1" when empty.
	KeysetID    string
	IncreaseErr error

	mu     sync.Mutex
	values map[string]uint32
}

var (
	_ redeem.Counters     = (*Counters)(nil)
	_ redeem.KeysetSource = (*Counters)(nil)
	_ redeem.CounterStore = (*Counters)(nil)
)

// Keyset implements redeem.Counters.
func (c *Counters) Keyset(_ context.Context, _, _ string) (string, error) {
	if c.KeysetID == "" {
		return "keyset-1", nil
	}
	return c.KeysetID, nil
}

// ActiveKeyset implements redeem.KeysetSource.
func (c *Counters) ActiveKeyset(ctx context.Context, mintURL, unit string) (string, error) {
	return c.Keyset(ctx, mintURL, unit)
}

// RegisterKeyset implements redeem.CounterStore.
func (c *Counters) RegisterKeyset(context.Context, string, string, string) error { return nil }

// Counter implements redeem.Counters.
func (c *Counters) Counter(_ context.Context, keysetID string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[keysetID], nil
}

// Increase implements redeem.Counters.
func (c *Counters) Increase(_ context.Context, keysetID string, n uint32) error {
	if c.IncreaseErr != nil {
		return c.IncreaseErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]uint32)
	}
	c.values[keysetID] += n
	return nil
}

// AddedProofs is one recorded ProofStore.AddProofs call.
type AddedProofs struct {
	Proofs   []cashu.Proof
	Mint     string
	BucketID string
	Label    string
}

// ProofStore is an in-memory redeem.ProofStore.
type ProofStore struct {
	AddErr error

	mu    sync.Mutex
	added []AddedProofs
}

var _ redeem.ProofStore = (*ProofStore)(nil)

// AddProofs implements redeem.ProofStore.
func (s *ProofStore) AddProofs(_ context.Context, proofs []cashu.Proof, mintURL, bucketID, label string) error {
	if s.AddErr != nil {
		return s.AddErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, AddedProofs{
		Proofs:   slices.Clone(proofs),
		Mint:     mintURL,
		BucketID: bucketID,
		Label:    label,
	})
	return nil
}

// Proofs implements redeem.ProofStore.
func (s *ProofStore) Proofs(_ context.Context, mintURL, _ string) ([]cashu.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cashu.Proof
	for _, a := range s.added {
		if a.Mint == mintURL {
			out = append(out, a.Proofs...)
		}
	}
	return out, nil
}

// Added returns the recorded AddProofs calls.
func (s *ProofStore) Added() []AddedProofs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.added)
}

// History is an in-memory redeem.PaymentHistory.
type History struct {
	Err error

	mu      sync.Mutex
	entries []redeem.PaidToken
}

var _ redeem.PaymentHistory = (*History)(nil)

// AddPaidToken implements redeem.PaymentHistory.
func (h *History) AddPaidToken(_ context.Context, t redeem.PaidToken) error {
	if h.Err != nil {
		return h.Err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, t)
	return nil
}

// Entries returns the recorded payments.
func (h *History) Entries() []redeem.PaidToken {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}

// DM is one recorded direct message.
type DM struct {
	Npub    string
	Payload string
}

// Messenger records direct messages.
type Messenger struct {
	Err error

	mu   sync.Mutex
	sent []DM
}

var _ redeem.Messenger = (*Messenger)(nil)

// SendDM implements redeem.Messenger.
func (m *Messenger) SendDM(_ context.Context, npub, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, DM{Npub: npub, Payload: payload})
	return nil
}

// Sent returns the recorded messages.
func (m *Messenger) Sent() []DM {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// Keys resolves every token to Key. An empty Key resolves nothing.
type Keys struct {
	Key string
}

var _ redeem.KeyResolver = Keys{}

// PrivateKeyForToken implements redeem.KeyResolver.
func (k Keys) PrivateKeyForToken(string) (string, bool) {
	return k.Key, k.Key != ""
}
