// Package subscription manages the subscription ledger: creation of a
// subscription with its pre-committed locked tokens, cancellation,
// interval bookkeeping and live projections of the table.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flemzord/nutsub/internal/ledger"
)

var (
	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("subscription: invalid input")

	// ErrIntervalNotFound is returned when no interval has the requested
	// month index.
	ErrIntervalNotFound = errors.New("subscription: interval not found")

	// ErrCounterparty rejects a notice whose sender or recipient does not
	// match the subscription of record. It wraps ErrInvalidInput.
	ErrCounterparty = fmt.Errorf("%w: wrong counterparty", ErrInvalidInput)
)

// AddInput describes a subscription to persist. Optional fields are
// normalized by Add.
type AddInput struct {
	CreatorNpub       string            `validate:"required"`
	SubscriberNpub    string            `validate:"omitempty"`
	TierID            string            `validate:"required"`
	TierName          string            `validate:"omitempty"`
	CreatorName       string            `validate:"omitempty"`
	CreatorAvatar     string            `validate:"omitempty"`
	Benefits          []string          `validate:"omitempty,dive,required"`
	CreatorP2PK       string            `validate:"required"`
	MintURL           string            `validate:"required,url"`
	Unit              string            `validate:"omitempty"`
	AmountPerInterval uint64            `validate:"gt=0"`
	Frequency         string            `validate:"omitempty"`
	IntervalDays      int               `validate:"gte=0"`
	StartDate         time.Time         `validate:"required"`
	CommitmentLength  int               `validate:"gt=0"`
	Intervals         []ledger.Interval `validate:"omitempty,dive"`
}

// CancelResult reports what Cancel changed.
type CancelResult struct {
	// Cancelled lists the ids of every matched subscription.
	Cancelled []string
	// DeletedTokenIDs lists the future locked tokens that were removed.
	DeletedTokenIDs []string
}

// Ledger is the subscription ledger. It is safe for concurrent use; every
// mutation runs in one store transaction.
type Ledger struct {
	store    ledger.Store
	now      func() time.Time
	newID    func() string
	validate *validator.Validate
	logger   *slog.Logger
	// identities are the node's own npubs; payment notices must be
	// addressed to one of them when set.
	identities []string
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithIdentity sets the npubs this node receives notices as. Empty values
// are ignored.
func WithIdentity(npubs ...string) Option {
	return func(l *Ledger) {
		for _, n := range npubs {
			if n != "" {
				l.identities = append(l.identities, n)
			}
		}
	}
}

// NewLedger creates a ledger backed by store.
func NewLedger(store ledger.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		now:      time.Now,
		newID:    uuid.NewString,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() ledger.Store { return l.store }

// Add validates and normalizes input, assigns a fresh id and persists the
// subscription.
func (l *Ledger) Add(ctx context.Context, in AddInput) (ledger.Subscription, error) {
	sub, err := l.normalize(in)
	if err != nil {
		return ledger.Subscription{}, err
	}

	err = l.store.Update(ctx, func(tx ledger.Tx) error {
		return tx.Subscriptions().Put(ctx, sub)
	})
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("subscription: add: %w", err)
	}

	l.logger.Info("subscription: added",
		"subscription_id", sub.ID,
		"creator", sub.CreatorNpub,
		"tier_id", sub.TierID,
		"intervals", len(sub.Intervals),
	)
	return sub, nil
}

func (l *Ledger) normalize(in AddInput) (ledger.Subscription, error) {
	if err := l.validate.Struct(in); err != nil {
		return ledger.Subscription{}, validationError(err)
	}

	freq := ParseFrequency(in.Frequency)
	days := in.IntervalDays
	if days == 0 {
		days = freq.Days()
	}

	benefits := in.Benefits
	if benefits == nil {
		benefits = []string{}
	}

	now := l.now()
	sub := ledger.Subscription{
		ID:                l.newID(),
		CreatorNpub:       in.CreatorNpub,
		SubscriberNpub:    in.SubscriberNpub,
		TierID:            in.TierID,
		TierName:          in.TierName,
		CreatorName:       in.CreatorName,
		CreatorAvatar:     in.CreatorAvatar,
		Benefits:          slices.Clone(benefits),
		CreatorP2PK:       in.CreatorP2PK,
		MintURL:           in.MintURL,
		Unit:              in.Unit,
		AmountPerInterval: in.AmountPerInterval,
		Frequency:         string(freq),
		IntervalDays:      days,
		StartDate:         in.StartDate,
		CommitmentLength:  in.CommitmentLength,
		Intervals:         normalizeIntervals(in.Intervals, in.CommitmentLength),
		Status:            ledger.SubscriptionActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := checkIntervals(sub.Intervals); err != nil {
		return ledger.Subscription{}, err
	}
	return sub, nil
}

func normalizeIntervals(in []ledger.Interval, total int) []ledger.Interval {
	out := slices.Clone(in)
	if out == nil {
		out = []ledger.Interval{}
	}
	for i := range out {
		iv := &out[i]
		if iv.Status == "" {
			iv.Status = ledger.IntervalPending
		}
		iv.Redeemed = iv.Status == ledger.IntervalClaimed
		if iv.TotalPeriods == 0 {
			iv.TotalPeriods = total
		}
	}
	slices.SortStableFunc(out, func(a, b ledger.Interval) int {
		return a.MonthIndex - b.MonthIndex
	})
	return out
}

// checkIntervals enforces unique keys, unique token references and unlock
// times strictly increasing with the month index.
func checkIntervals(ivs []ledger.Interval) error {
	var errs []error
	keys := make(map[string]struct{}, len(ivs))
	tokens := make(map[string]struct{}, len(ivs))
	for i, iv := range ivs {
		if iv.IntervalKey == "" {
			errs = append(errs, fmt.Errorf("interval %d: interval key is required", iv.MonthIndex))
		} else if _, dup := keys[iv.IntervalKey]; dup {
			errs = append(errs, fmt.Errorf("interval %d: duplicate interval key %q", iv.MonthIndex, iv.IntervalKey))
		}
		keys[iv.IntervalKey] = struct{}{}

		if iv.LockedTokenID != "" {
			if _, dup := tokens[iv.LockedTokenID]; dup {
				errs = append(errs, fmt.Errorf("interval %d: locked token %q referenced twice", iv.MonthIndex, iv.LockedTokenID))
			}
			tokens[iv.LockedTokenID] = struct{}{}
		}

		if i > 0 {
			prev := ivs[i-1]
			if iv.MonthIndex == prev.MonthIndex {
				errs = append(errs, fmt.Errorf("interval %d: duplicate month index", iv.MonthIndex))
			} else if !iv.UnlockAt.After(prev.UnlockAt) {
				errs = append(errs, fmt.Errorf("interval %d: unlock time must be after interval %d", iv.MonthIndex, prev.MonthIndex))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(errs...))
}

// Cancel cancels every subscription of creatorNpub. Locked tokens of
// intervals that unlock after now are deleted in one bulk call; matured
// intervals are kept. Every matched subscription ends cancelled, including
// those without future intervals. Both writes share one transaction.
func (l *Ledger) Cancel(ctx context.Context, creatorNpub string) (CancelResult, error) {
	var res CancelResult
	now := l.now()

	err := l.store.Update(ctx, func(tx ledger.Tx) error {
		res = CancelResult{}
		subs, err := tx.Subscriptions().ListByCreator(ctx, creatorNpub)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return nil
		}

		future := []string{}
		for _, sub := range subs {
			for _, iv := range sub.Intervals {
				if iv.UnlockAt.After(now) && iv.LockedTokenID != "" {
					future = append(future, iv.LockedTokenID)
				}
			}
		}
		if err := tx.LockedTokens().BulkDelete(ctx, future); err != nil {
			return fmt.Errorf("delete future tokens: %w", err)
		}

		for _, sub := range subs {
			if sub.Status != ledger.SubscriptionCancelled || sub.CancelledAt == nil {
				at := now
				sub.CancelledAt = &at
			}
			sub.Status = ledger.SubscriptionCancelled
			sub.UpdatedAt = now
			if err := tx.Subscriptions().Put(ctx, sub); err != nil {
				return err
			}
			res.Cancelled = append(res.Cancelled, sub.ID)
		}
		res.DeletedTokenIDs = future
		return nil
	})
	if err != nil {
		return CancelResult{}, fmt.Errorf("subscription: cancel %s: %w", creatorNpub, err)
	}

	l.logger.Info("subscription: cancelled",
		"creator", creatorNpub,
		"subscriptions", len(res.Cancelled),
		"deleted_tokens", len(res.DeletedTokenIDs),
	)
	return res, nil
}

// MarkIntervalRedeemed sets the interval with monthIndex to claimed and
// redeemed, writing the whole interval list back in one transaction.
// Sibling intervals are left unchanged.
func (l *Ledger) MarkIntervalRedeemed(ctx context.Context, subscriptionID string, monthIndex int) error {
	return l.markRedeemed(ctx, subscriptionID, monthIndex, nil)
}

// markRedeemed marks the interval claimed once check, when given, accepts
// the stored subscription.
func (l *Ledger) markRedeemed(ctx context.Context, subscriptionID string, monthIndex int, check func(ledger.Subscription) error) error {
	err := l.store.Update(ctx, func(tx ledger.Tx) error {
		sub, err := tx.Subscriptions().Get(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(sub); err != nil {
				return err
			}
		}
		idx, ok := sub.IntervalIndexByMonth(monthIndex)
		if !ok {
			return fmt.Errorf("%w: month %d", ErrIntervalNotFound, monthIndex)
		}
		sub.Intervals[idx].Status = ledger.IntervalClaimed
		sub.Intervals[idx].Redeemed = true
		sub.UpdatedAt = l.now()
		return tx.Subscriptions().Put(ctx, sub)
	})
	if err != nil {
		return fmt.Errorf("subscription: mark interval %s/%d redeemed: %w", subscriptionID, monthIndex, err)
	}
	return nil
}

// Delete removes the subscription row.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	err := l.store.Update(ctx, func(tx ledger.Tx) error {
		return tx.Subscriptions().Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("subscription: delete %s: %w", id, err)
	}
	return nil
}

// Get returns one subscription.
func (l *Ledger) Get(ctx context.Context, id string) (ledger.Subscription, error) {
	var sub ledger.Subscription
	err := l.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(ctx, id)
		return err
	})
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("subscription: get %s: %w", id, err)
	}
	return sub, nil
}

// List returns every subscription ordered by creation time.
func (l *Ledger) List(ctx context.Context) ([]ledger.Subscription, error) {
	var subs []ledger.Subscription
	err := l.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		subs, err = tx.Subscriptions().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: list: %w", err)
	}
	return subs, nil
}

// ListByCreator returns the subscriptions paying creatorNpub.
func (l *Ledger) ListByCreator(ctx context.Context, creatorNpub string) ([]ledger.Subscription, error) {
	var subs []ledger.Subscription
	err := l.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		subs, err = tx.Subscriptions().ListByCreator(ctx, creatorNpub)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: list by creator: %w", err)
	}
	return subs, nil
}

// LockedTokens returns every locked-token row ordered by unlock time.
func (l *Ledger) LockedTokens(ctx context.Context) ([]ledger.LockedToken, error) {
	var toks []ledger.LockedToken
	err := l.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		toks, err = tx.LockedTokens().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: list locked tokens: %w", err)
	}
	return toks, nil
}
