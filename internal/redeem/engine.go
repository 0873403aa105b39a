package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/metrics"
)

// TracerName is the instrumentation scope of the redeemers' spans.
const TracerName = "github.com/flemzord/nutsub/internal/redeem"

// Defaults.
const (
	DefaultStaleAfter  = 10 * time.Minute
	DefaultMaxAttempts = 5
)

// Deps are the collaborators shared by both redeemers. Messenger and
// Signals are optional.
type Deps struct {
	Wallets   WalletProvider
	Counters  Counters
	Proofs    ProofStore
	Keys      KeyResolver
	History   PaymentHistory
	Messenger Messenger
	Signals   Signals

	Logger *slog.Logger
	Clock  func() time.Time
	Tracer trace.Tracer
}

// Config tunes the redeemers.
type Config struct {
	// StaleAfter is how long a claim may stay in processing before the
	// token becomes due again.
	StaleAfter time.Duration

	// MaxAttempts is the number of failed mint receives after which a
	// token is parked as stuck.
	MaxAttempts int

	// Enabled is the global auto-redeem switch, consulted at the start of
	// every pass. Nil means always enabled.
	Enabled func() bool
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

func (c Config) enabled() bool {
	return c.Enabled == nil || c.Enabled()
}

// engine holds what both redeemers share: decoding, key resolution, the
// mint swap and the claim bookkeeping.
type engine struct {
	worker string
	store  ledger.Store
	deps   Deps
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

func newEngine(store ledger.Store, deps Deps, cfg Config, worker string) engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return engine{
		worker: worker,
		store:  store,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With("worker", worker),
		tracer: tracer,
	}
}

func (e *engine) now() time.Time {
	if e.deps.Clock != nil {
		return e.deps.Clock()
	}
	return time.Now()
}

// prepared is a decoded token ready to be swapped. encoded is the stored
// token string, sent to the mint unchanged: its secrets are what the mint
// signed.
type prepared struct {
	token      cashu.Token
	encoded    string
	mint       string
	unit       string
	privateKey string
}

// prepare decodes tokenString and resolves the signing key of its P2PK
// proofs. The returned error wraps ErrDecode or ErrKeyNotFound.
func (e *engine) prepare(tokenString string) (prepared, error) {
	tok, err := cashu.Decode(tokenString)
	if err != nil {
		return prepared{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	p := prepared{
		token:   tok,
		encoded: tokenString,
		mint:    tok.Mint(),
		unit:    tok.GetUnit(),
	}
	if cashu.NeedsSignature(tok.Proofs()) {
		key, ok := e.deps.Keys.PrivateKeyForToken(tokenString)
		if !ok {
			return prepared{}, ErrKeyNotFound
		}
		p.privateKey = key
	}
	return p, nil
}

// receive swaps the token at its mint. It returns the new proofs and the
// keyset whose counter was used. The error wraps ErrMint unless it is
// cashu.ErrAlreadySpent.
func (e *engine) receive(ctx context.Context, p prepared) ([]cashu.Proof, string, error) {
	wallet, err := e.deps.Wallets.MintWallet(p.mint, p.unit)
	if err != nil {
		return nil, "", fmt.Errorf("%w: wallet for %s: %w", ErrMint, p.mint, err)
	}
	keyset, err := e.deps.Counters.Keyset(ctx, p.mint, p.unit)
	if err != nil {
		return nil, "", fmt.Errorf("%w: keyset: %w", ErrMint, err)
	}
	counter, err := e.deps.Counters.Counter(ctx, keyset)
	if err != nil {
		return nil, "", fmt.Errorf("%w: counter: %w", ErrMint, err)
	}

	var have []cashu.Proof
	if e.deps.Proofs != nil {
		have, err = e.deps.Proofs.Proofs(ctx, p.mint, p.unit)
		if err != nil {
			e.logger.Debug("redeem: could not load owned proofs", "mint", p.mint, "error", err)
			have = nil
		}
	}

	proofs, err := wallet.Receive(ctx, p.encoded, ReceiveOptions{
		Counter:      counter,
		PrivateKey:   p.privateKey,
		ProofsWeHave: have,
	})
	if err != nil {
		if errors.Is(err, cashu.ErrAlreadySpent) {
			return nil, keyset, err
		}
		return nil, keyset, fmt.Errorf("%w: %w", ErrMint, err)
	}
	return proofs, keyset, nil
}

// keep stores received proofs and advances the keyset counter. Failures
// here happen after the mint swap and wrap ErrLedgerWrite.
func (e *engine) keep(ctx context.Context, p prepared, proofs []cashu.Proof, keyset, bucketID, label string) error {
	if err := e.deps.Proofs.AddProofs(ctx, proofs, p.mint, bucketID, label); err != nil {
		return fmt.Errorf("%w: add proofs: %w", ErrLedgerWrite, err)
	}
	if err := e.deps.Counters.Increase(ctx, keyset, uint32(len(proofs))); err != nil {
		return fmt.Errorf("%w: increase counter: %w", ErrLedgerWrite, err)
	}
	return nil
}

func (e *engine) signal(topic string, payload any) {
	if e.deps.Signals != nil {
		e.deps.Signals.Publish(topic, payload)
	}
}

// alert logs a write failure that left funds and ledger out of sync.
func (e *engine) alert(msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err, "alert", true)
	e.logger.Error(msg, attrs...)
}

// writeFailure records a ledger write that failed after the mint swap and
// returns the error that aborts the pass.
func (e *engine) writeFailure(report *Report, tokenID, intervalKey string, err error) error {
	e.alert("redeem: ledger write failed after mint receive", err, "token_id", tokenID, "interval_key", intervalKey)
	metrics.LedgerWriteFailures.Inc()
	metrics.RedeemTokens.WithLabelValues(e.worker, metrics.OutcomeLedgerError).Inc()
	if !errors.Is(err, ErrLedgerWrite) {
		err = fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}
	report.fail(tokenID, intervalKey, ErrLedgerWrite, err)
	return err
}
