package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
)

// DM payload types exchanged between subscriber and creator.
const (
	NoticePayment = "cashu_subscription_payment"
	NoticeClaimed = "cashu_subscription_claimed"
)

// PaymentNotice delivers one locked period token to the creator.
type PaymentNotice struct {
	Type           string `json:"type"`
	Token          string `json:"token"`
	SubscriptionID string `json:"subscription_id"`
	TierID         string `json:"tier_id"`
	MonthIndex     int    `json:"month_index"`
	TotalMonths    int    `json:"total_months"`
	UnlockTime     int64  `json:"unlock_time,omitempty"`
	Frequency      string `json:"frequency,omitempty"`
	IntervalDays   int    `json:"interval_days,omitempty"`
}

// ClaimedNotice tells the counterparty that a period was redeemed.
type ClaimedNotice struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
	TierID         string `json:"tier_id"`
	MonthIndex     int    `json:"month_index"`
	TotalMonths    int    `json:"total_months"`
}

// NewPaymentNotice builds the delivery notice of one interval.
func NewPaymentNotice(sub ledger.Subscription, iv ledger.Interval) PaymentNotice {
	return PaymentNotice{
		Type:           NoticePayment,
		Token:          iv.TokenString,
		SubscriptionID: sub.ID,
		TierID:         sub.TierID,
		MonthIndex:     iv.MonthIndex,
		TotalMonths:    iv.TotalPeriods,
		UnlockTime:     iv.UnlockAt.Unix(),
		Frequency:      sub.Frequency,
		IntervalDays:   sub.IntervalDays,
	}
}

// NewClaimedNotice builds the claim notice for a redeemed token.
func NewClaimedNotice(tok ledger.LockedToken) ClaimedNotice {
	return ClaimedNotice{
		Type:           NoticeClaimed,
		SubscriptionID: tok.SubscriptionID,
		TierID:         tok.TierID,
		MonthIndex:     tok.MonthIndex,
		TotalMonths:    tok.TotalPeriods,
	}
}

// EncodeNotice serializes a notice as a DM payload.
func EncodeNotice(n any) (string, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("subscription: encode notice: %w", err)
	}
	return string(raw), nil
}

// HandleMessage applies an incoming DM payload from senderNpub addressed
// to recipientNpub. Payment notices become creator-owned locked-token
// rows; claimed notices mark the matching interval redeemed. It reports
// whether the payload was a subscription notice. A notice from or to the
// wrong party fails with ErrCounterparty and changes nothing.
func (l *Ledger) HandleMessage(ctx context.Context, senderNpub, recipientNpub, payload string) (bool, error) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return false, nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return false, nil
	}

	switch head.Type {
	case NoticePayment:
		var n PaymentNotice
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return true, fmt.Errorf("subscription: decode payment notice: %w", err)
		}
		if n.Token == "" {
			return true, fmt.Errorf("%w: payment notice without token", ErrInvalidInput)
		}
		return true, l.acceptPayment(ctx, senderNpub, recipientNpub, n)

	case NoticeClaimed:
		var n ClaimedNotice
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return true, fmt.Errorf("subscription: decode claimed notice: %w", err)
		}
		err := l.markRedeemed(ctx, n.SubscriptionID, n.MonthIndex, func(sub ledger.Subscription) error {
			if senderNpub == "" || senderNpub != sub.CreatorNpub {
				return fmt.Errorf("%w: claimed notice for %s from %q", ErrCounterparty, sub.ID, senderNpub)
			}
			return nil
		})
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ErrIntervalNotFound) {
			l.logger.Debug("subscription: claimed notice for unknown interval",
				"subscription_id", n.SubscriptionID,
				"month_index", n.MonthIndex,
			)
			return true, nil
		}
		return true, err

	default:
		return false, nil
	}
}

// checkPaymentParties applies the counterparty rule outside any
// transaction: both parties named and distinct, and the recipient one of
// the node's identities when those are known.
func (l *Ledger) checkPaymentParties(senderNpub, recipientNpub string) error {
	switch {
	case senderNpub == "" || recipientNpub == "":
		return fmt.Errorf("%w: payment notice without sender or recipient", ErrCounterparty)
	case senderNpub == recipientNpub:
		return fmt.Errorf("%w: payment notice sent to its sender", ErrCounterparty)
	case len(l.identities) > 0 && !slices.Contains(l.identities, recipientNpub):
		return fmt.Errorf("%w: payment notice addressed to %q", ErrCounterparty, recipientNpub)
	}
	return nil
}

func (l *Ledger) acceptPayment(ctx context.Context, senderNpub, recipientNpub string, n PaymentNotice) error {
	if err := l.checkPaymentParties(senderNpub, recipientNpub); err != nil {
		return err
	}

	// An undecodable token is still recorded so it can be inspected.
	var amount uint64
	if tok, err := cashu.Decode(n.Token); err == nil {
		amount = tok.Amount()
	}

	now := l.now()
	row := ledger.LockedToken{
		ID:             l.newID(),
		TokenString:    n.Token,
		Amount:         amount,
		Owner:          OwnerCreator,
		TierID:         n.TierID,
		IntervalKey:    IntervalKey(n.SubscriptionID, n.MonthIndex),
		UnlockAt:       time.Unix(n.UnlockTime, 0),
		Status:         ledger.TokenPending,
		SubscriptionID: n.SubscriptionID,
		AutoRedeem:     true,
		CreatorNpub:    recipientNpub,
		SubscriberNpub: senderNpub,
		MonthIndex:     n.MonthIndex,
		TotalPeriods:   n.TotalMonths,
		Label:          PaymentLabel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var duplicate bool
	err := l.store.Update(ctx, func(tx ledger.Tx) error {
		sub, err := tx.Subscriptions().Get(ctx, n.SubscriptionID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
		case err != nil:
			return err
		case sub.CreatorNpub != recipientNpub || (sub.SubscriberNpub != "" && sub.SubscriberNpub != senderNpub):
			return fmt.Errorf("%w: payment notice for %s from %q to %q", ErrCounterparty, sub.ID, senderNpub, recipientNpub)
		}

		existing, err := tx.LockedTokens().List(ctx)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.TokenString == n.Token {
				duplicate = true
				return nil
			}
			if e.SubscriptionID == n.SubscriptionID && e.Owner == OwnerCreator && e.SubscriberNpub != senderNpub {
				return fmt.Errorf("%w: subscription %s is paid by another subscriber", ErrCounterparty, n.SubscriptionID)
			}
		}
		return tx.LockedTokens().Put(ctx, row)
	})
	if errors.Is(err, ErrCounterparty) {
		return err
	}
	if err != nil {
		return fmt.Errorf("subscription: accept payment: %w", err)
	}
	if duplicate {
		l.logger.Debug("subscription: duplicate payment notice ignored", "subscription_id", n.SubscriptionID)
		return nil
	}

	l.logger.Info("subscription: payment received",
		"subscription_id", n.SubscriptionID,
		"month_index", n.MonthIndex,
		"amount", amount,
		"unlock_at", row.UnlockAt,
	)
	return nil
}
