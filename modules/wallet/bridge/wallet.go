package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/p2pk"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/timelock"
)

// Compile-time interface checks.
var (
	_ redeem.MintWallet     = (*MintWallet)(nil)
	_ timelock.OutputMinter = (*MintWallet)(nil)
)

// MintWallet is the daemon wallet of one mint and unit.
type MintWallet struct {
	client *Client
	mint   string
	unit   string
}

// Receive implements redeem.MintWallet. Locked proofs are signed locally
// with opts.PrivateKey, so the key is never sent to the daemon.
func (w *MintWallet) Receive(ctx context.Context, token string, opts redeem.ReceiveOptions) ([]cashu.Proof, error) {
	if opts.PrivateKey != "" {
		signed, err := signToken(token, opts.PrivateKey)
		if err != nil {
			return nil, err
		}
		token = signed
	}

	var out proofsResponse
	err := w.client.do(ctx, "receive", http.MethodPost, "/v1/receive", receiveRequest{
		Mint:         w.mint,
		Unit:         w.unit,
		Token:        token,
		Counter:      opts.Counter,
		ProofsWeHave: opts.ProofsWeHave,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Proofs) == 0 {
		return nil, fmt.Errorf("%w: receive returned no proofs", ErrRejected)
	}
	return out.Proofs, nil
}

// Split implements timelock.OutputMinter. Secrets are built locally and
// the daemon blinds one output per amount.
func (w *MintWallet) Split(ctx context.Context, amounts []uint64, opts timelock.SplitOptions) ([]cashu.Proof, error) {
	secrets := make([]string, len(amounts))
	for i := range amounts {
		if opts.BuildSecret == nil {
			break
		}
		s, err := opts.BuildSecret(i)
		if err != nil {
			return nil, fmt.Errorf("wallet.bridge: build secret %d: %w", i, err)
		}
		secrets[i] = s
	}

	var out proofsResponse
	err := w.client.do(ctx, "split", http.MethodPost, "/v1/split", splitRequest{
		Mint:    w.mint,
		Unit:    w.unit,
		Amounts: amounts,
		Secrets: secrets,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Proofs) != len(amounts) {
		return nil, fmt.Errorf("%w: split returned %d proofs for %d amounts", ErrRejected, len(out.Proofs), len(amounts))
	}
	return out.Proofs, nil
}

// signToken adds P2PK witnesses to every locked proof of token.
func signToken(token, privHex string) (string, error) {
	tok, err := cashu.Decode(token)
	if err != nil {
		return "", fmt.Errorf("wallet.bridge: %w", err)
	}
	if !cashu.NeedsSignature(tok.Proofs()) {
		return token, nil
	}
	for i := range tok.Entries {
		signed, err := p2pk.SignProofs(tok.Entries[i].Proofs, privHex)
		if err != nil {
			return "", fmt.Errorf("wallet.bridge: sign proofs: %w", err)
		}
		tok.Entries[i].Proofs = signed
	}
	return cashu.Encode(tok)
}
