package redeem

import (
	"errors"
	"fmt"
	"strings"
)

// Failure reasons of a single token.
var (
	// ErrDecode marks a token string that cannot be decoded. The row is
	// left untouched for manual inspection.
	ErrDecode = errors.New("redeem: decode token")

	// ErrKeyNotFound marks a token whose P2PK lock matches no known key.
	ErrKeyNotFound = errors.New("redeem: private key not found")

	// ErrMint marks a failed mint receive. The claim is released for a
	// later retry.
	ErrMint = errors.New("redeem: mint receive")

	// ErrNotify marks a failed claim notification. It never affects the
	// ledger.
	ErrNotify = errors.New("redeem: notify")

	// ErrLedgerWrite marks a ledger write that failed after the mint
	// already swapped the proofs. It aborts the pass and must be
	// investigated by an operator.
	ErrLedgerWrite = errors.New("redeem: ledger write after receive")

	// ErrClaimLost marks a token another worker claimed first.
	ErrClaimLost = errors.New("redeem: claim lost")
)

// Failure is the outcome of one token that was not claimed.
type Failure struct {
	TokenID     string
	IntervalKey string
	Reason      error
	Err         error
}

// Error implements error.
func (f Failure) Error() string {
	return fmt.Sprintf("token %s: %v", f.TokenID, f.Err)
}

// Unwrap exposes both the reason sentinel and the underlying error.
func (f Failure) Unwrap() []error {
	return []error{f.Reason, f.Err}
}

// Report summarises one pass.
type Report struct {
	Scanned  int
	Claimed  []string
	Failures []Failure
	// Stuck lists tokens moved to the stuck state during this pass.
	Stuck []string
}

// Failed reports whether any token failed with reason.
func (r Report) Failed(reason error) bool {
	for _, f := range r.Failures {
		if errors.Is(f.Reason, reason) {
			return true
		}
	}
	return false
}

// Err joins the failures into one error, or nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// String implements fmt.Stringer.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scanned=%d claimed=%d failed=%d", r.Scanned, len(r.Claimed), len(r.Failures))
	if len(r.Stuck) > 0 {
		fmt.Fprintf(&b, " stuck=%d", len(r.Stuck))
	}
	return b.String()
}

func (r *Report) fail(tokenID, intervalKey string, reason, err error) {
	r.Failures = append(r.Failures, Failure{
		TokenID:     tokenID,
		IntervalKey: intervalKey,
		Reason:      reason,
		Err:         err,
	})
}
