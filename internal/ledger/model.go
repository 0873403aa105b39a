// Package ledger defines the persisted subscription and locked-token
// records and the transactional store they live in.
package ledger

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

// Subscription states.
const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// IntervalStatus is the lifecycle state of one payment interval.
type IntervalStatus string

// Interval states.
const (
	IntervalPending    IntervalStatus = "pending"
	IntervalUnlockable IntervalStatus = "unlockable"
	IntervalProcessing IntervalStatus = "processing"
	IntervalClaimed    IntervalStatus = "claimed"
)

// TokenStatus is the lifecycle state of a locked token.
type TokenStatus string

// Locked token states. Stuck is terminal until an operator resets it.
const (
	TokenPending    TokenStatus = "pending"
	TokenProcessing TokenStatus = "processing"
	TokenClaimed    TokenStatus = "claimed"
	TokenStuck      TokenStatus = "stuck"
)

// Subscription is a recurring payment from a subscriber to a creator tier.
type Subscription struct {
	ID                string             `json:"id"`
	CreatorNpub       string             `json:"creator_npub"`
	SubscriberNpub    string             `json:"subscriber_npub,omitempty"`
	TierID            string             `json:"tier_id"`
	TierName          string             `json:"tier_name"`
	CreatorName       string             `json:"creator_name"`
	CreatorAvatar     string             `json:"creator_avatar"`
	Benefits          []string           `json:"benefits"`
	CreatorP2PK       string             `json:"creator_p2pk"`
	MintURL           string             `json:"mint_url"`
	Unit              string             `json:"unit"`
	AmountPerInterval uint64             `json:"amount_per_interval"`
	Frequency         string             `json:"frequency"`
	IntervalDays      int                `json:"interval_days"`
	StartDate         time.Time          `json:"start_date"`
	CommitmentLength  int                `json:"commitment_length"`
	Intervals         []Interval         `json:"intervals"`
	Status            SubscriptionStatus `json:"status"`
	CancelledAt       *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Interval is one scheduled payment period, mapped 1:1 to a locked token.
type Interval struct {
	IntervalKey   string         `json:"interval_key"`
	LockedTokenID string         `json:"locked_token_id"`
	UnlockAt      time.Time      `json:"unlock_at"`
	Status        IntervalStatus `json:"status"`
	TokenString   string         `json:"token_string"`
	Redeemed      bool           `json:"redeemed"`
	MonthIndex    int            `json:"month_index"`
	TotalPeriods  int            `json:"total_periods"`

	// ProcessingSince is set while a redeemer holds a claim on the interval.
	ProcessingSince *time.Time `json:"processing_since,omitempty"`
}

// LockedToken is one time-locked token awaiting redemption.
type LockedToken struct {
	ID              string      `json:"id"`
	TokenString     string      `json:"token_string"`
	Amount          uint64      `json:"amount"`
	Owner           string      `json:"owner"`
	TierID          string      `json:"tier_id"`
	IntervalKey     string      `json:"interval_key"`
	UnlockAt        time.Time   `json:"unlock_at"`
	Status          TokenStatus `json:"status"`
	Redeemed        bool        `json:"redeemed"`
	SubscriptionID  string      `json:"subscription_id,omitempty"`
	AutoRedeem      bool        `json:"auto_redeem"`
	CreatorNpub     string      `json:"creator_npub"`
	CreatorP2PK     string      `json:"creator_p2pk,omitempty"`
	SubscriberNpub  string      `json:"subscriber_npub,omitempty"`
	MonthIndex      int         `json:"month_index"`
	TotalPeriods    int         `json:"total_periods"`
	Label           string      `json:"label,omitempty"`
	Attempts        int         `json:"attempts"`
	LastError       string      `json:"last_error,omitempty"`
	ProcessingSince *time.Time  `json:"processing_since,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the subscription.
func (s Subscription) Clone() Subscription {
	s.Benefits = slices.Clone(s.Benefits)
	s.Intervals = slices.Clone(s.Intervals)
	for i := range s.Intervals {
		if ps := s.Intervals[i].ProcessingSince; ps != nil {
			t := *ps
			s.Intervals[i].ProcessingSince = &t
		}
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		s.CancelledAt = &t
	}
	return s
}

// IntervalIndexByMonth returns the position of the interval with the given
// month index.
func (s *Subscription) IntervalIndexByMonth(monthIndex int) (int, bool) {
	i := slices.IndexFunc(s.Intervals, func(iv Interval) bool {
		return iv.MonthIndex == monthIndex
	})
	return i, i >= 0
}

// IntervalIndexForToken returns the position of the interval referencing
// the locked token, matched by token id or interval key.
func (s *Subscription) IntervalIndexForToken(tokenID, intervalKey string) (int, bool) {
	i := slices.IndexFunc(s.Intervals, func(iv Interval) bool {
		return (tokenID != "" && iv.LockedTokenID == tokenID) ||
			(intervalKey != "" && iv.IntervalKey == intervalKey)
	})
	return i, i >= 0
}

// Redeemable reports whether the interval may still be redeemed under the
// subscription's state: every interval of an active subscription, and the
// intervals of a cancelled one that had matured by cancellation time.
func (s *Subscription) Redeemable(iv Interval) bool {
	if s.Status != SubscriptionCancelled {
		return true
	}
	return s.CancelledAt != nil && !iv.UnlockAt.After(*s.CancelledAt)
}

// Clone returns a copy of the token.
func (t LockedToken) Clone() LockedToken {
	if t.ProcessingSince != nil {
		ps := *t.ProcessingSince
		t.ProcessingSince = &ps
	}
	return t
}

// Due reports whether the token should be picked up by a redemption pass
// at now. Tokens in processing are due again once their claim started
// before staleBefore.
func (t LockedToken) Due(now, staleBefore time.Time) bool {
	if !t.AutoRedeem || t.UnlockAt.After(now) {
		return false
	}
	switch t.Status {
	case TokenPending:
		return true
	case TokenProcessing:
		return t.ProcessingSince != nil && t.ProcessingSince.Before(staleBefore)
	default:
		return false
	}
}
