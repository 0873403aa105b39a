// Package timelock builds the pre-committed, time-gated outputs of a
// subscription: one P2PK-locked output per period, each unlocking one
// interval after the previous.
package timelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/nut10"
)

var (
	// ErrUnevenSplit is returned when the total cannot be divided into
	// equal period amounts.
	ErrUnevenSplit = errors.New("timelock: total is not divisible by period count")

	// ErrInvalidParams is returned for non-positive counts, amounts or intervals.
	ErrInvalidParams = errors.New("timelock: invalid parameters")
)

// SplitOptions configures one call to the wallet's blind-output primitive.
type SplitOptions struct {
	// BuildSecret returns the secret for the output at index.
	BuildSecret func(index int) (string, error)
}

// OutputMinter is the wallet primitive that mints one blinded output per
// requested amount, using the supplied secret for each output.
type OutputMinter interface {
	Split(ctx context.Context, amounts []uint64, opts SplitOptions) ([]cashu.Proof, error)
}

// MinterProvider returns the output minter of a mint and unit.
type MinterProvider interface {
	OutputMinter(mintURL, unit string) (OutputMinter, error)
}

// Outputs is the result of BuildTimedOutputs. Proofs[i] pays period i and
// unlocks at UnlockTimes[i].
type Outputs struct {
	Proofs      []cashu.Proof
	UnlockTimes []time.Time
}

type buildOptions struct {
	lockFirst bool
}

// Option customises BuildTimedOutputs.
type Option func(*buildOptions)

// WithLockedFirstPeriod time-gates the first output at the start time
// instead of leaving it immediately redeemable.
func WithLockedFirstPeriod() Option {
	return func(o *buildOptions) { o.lockFirst = true }
}

// Schedule returns the unlock time of each of count periods.
func Schedule(start time.Time, interval time.Duration, count int) []time.Time {
	start = start.Truncate(time.Second)
	out := make([]time.Time, count)
	for i := range count {
		out[i] = start.Add(time.Duration(i) * interval)
	}
	return out
}

// BuildTimedOutputs mints count outputs worth total/count each. Every
// output is spendable only by creatorPubkey; output i >= 1 additionally
// carries a locktime of start + i*interval. Output 0 has no locktime unless
// WithLockedFirstPeriod is given.
//
// Errors from the minter are returned as is (wrapped); no cleanup of
// partially minted outputs is attempted.
func BuildTimedOutputs(
	ctx context.Context,
	minter OutputMinter,
	total uint64,
	count int,
	creatorPubkey string,
	start time.Time,
	interval time.Duration,
	opts ...Option,
) (Outputs, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if count <= 0 || total == 0 || interval <= 0 || creatorPubkey == "" {
		return Outputs{}, fmt.Errorf("%w: count=%d total=%d interval=%s", ErrInvalidParams, count, total, interval)
	}
	if total%uint64(count) != 0 {
		return Outputs{}, fmt.Errorf("%w: %d / %d", ErrUnevenSplit, total, count)
	}

	per := total / uint64(count)
	amounts := make([]uint64, count)
	for i := range amounts {
		amounts[i] = per
	}

	unlocks := Schedule(start, interval, count)
	build := func(index int) (string, error) {
		if index < 0 || index >= count {
			return "", fmt.Errorf("timelock: output index %d out of range", index)
		}
		cond := nut10.P2PK{Pubkey: creatorPubkey}
		if index > 0 || o.lockFirst {
			lt := unlocks[index]
			cond.Locktime = &lt
		}
		return cond.Encode()
	}

	proofs, err := minter.Split(ctx, amounts, SplitOptions{BuildSecret: build})
	if err != nil {
		return Outputs{}, fmt.Errorf("timelock: split: %w", err)
	}
	if len(proofs) != count {
		return Outputs{}, fmt.Errorf("timelock: minter returned %d outputs, want %d", len(proofs), count)
	}

	return Outputs{Proofs: proofs, UnlockTimes: unlocks}, nil
}
