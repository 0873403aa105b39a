package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/metrics"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/timelock"
)

// Compile-time interface checks.
var (
	_ redeem.WalletProvider   = (*Client)(nil)
	_ redeem.KeysetSource     = (*Client)(nil)
	_ timelock.MinterProvider = (*Client)(nil)
)

// Wire types of the daemon API.

type receiveRequest struct {
	Mint         string        `json:"mint"`
	Unit         string        `json:"unit"`
	Token        string        `json:"token"`
	Counter      uint32        `json:"counter"`
	ProofsWeHave []cashu.Proof `json:"proofs_we_have,omitempty"`
}

type splitRequest struct {
	Mint    string   `json:"mint"`
	Unit    string   `json:"unit"`
	Amounts []uint64 `json:"amounts"`
	Secrets []string `json:"secrets"`
}

type proofsResponse struct {
	Proofs []cashu.Proof `json:"proofs"`
}

type keysetResponse struct {
	ID   string `json:"id"`
	Unit string `json:"unit"`
}

// Client talks to the wallet daemon that holds the mint connections.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	filter *security.MintFilter
	logger *slog.Logger
}

// NewClient returns a daemon client for cfg. cfg must be valid.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   cfg.URL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		filter: security.NewMintFilter(cfg.Mints),
		logger: logger,
	}
}

// MintWallet implements redeem.WalletProvider.
func (c *Client) MintWallet(mintURL, unit string) (redeem.MintWallet, error) {
	return c.bind(mintURL, unit)
}

// OutputMinter implements timelock.MinterProvider.
func (c *Client) OutputMinter(mintURL, unit string) (timelock.OutputMinter, error) {
	return c.bind(mintURL, unit)
}

func (c *Client) bind(mintURL, unit string) (*MintWallet, error) {
	if err := c.filter.Check(mintURL); err != nil {
		return nil, err
	}
	if unit == "" {
		unit = cashu.DefaultUnit
	}
	return &MintWallet{client: c, mint: mintURL, unit: unit}, nil
}

// ActiveKeyset implements redeem.KeysetSource.
func (c *Client) ActiveKeyset(ctx context.Context, mintURL, unit string) (string, error) {
	q := url.Values{"mint": {mintURL}, "unit": {unit}}
	var out keysetResponse
	if err := c.do(ctx, "keyset", http.MethodGet, "/v1/keysets/active?"+q.Encode(), nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty keyset id for %s", ErrRejected, mintURL)
	}
	return out.ID, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "info", http.MethodGet, "/v1/info", nil, nil)
}

// do sends one JSON request and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.WalletRequests.WithLabelValues(op, result).Inc()
	}()

	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("wallet.bridge: marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("wallet.bridge: create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrDaemonDown, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("wallet.bridge: decode %s response: %w", op, err)
	}
	return nil
}
