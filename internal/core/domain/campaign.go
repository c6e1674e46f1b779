package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverfundingPolicy decides what happens to the part of a donation that
// exceeds what a campaign still needs.
type OverfundingPolicy string

const (
	// OverfundingCap accepts only the remaining amount.
	OverfundingCap OverfundingPolicy = "cap"
	// OverfundingReject refuses the whole donation.
	OverfundingReject OverfundingPolicy = "reject"
)

// Campaign is a project funding campaign with a fixed target.
type Campaign struct {
	ID           int64           `json:"id"`
	Creator      string          `json:"creator"`
	Name         string          `json:"name"`
	Website      string          `json:"website"`
	Description  string          `json:"description"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	RaisedAmount decimal.Decimal `json:"raised_amount"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// Remaining is the amount still needed to reach the target.
func (c *Campaign) Remaining() decimal.Decimal {
	r := c.TargetAmount.Sub(c.RaisedAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Acceptable returns how much of amount the campaign can absorb under the
// policy. ok is false when the policy rejects the donation.
func (c *Campaign) Acceptable(amount decimal.Decimal, policy OverfundingPolicy) (accepted decimal.Decimal, ok bool) {
	remaining := c.Remaining()
	if amount.LessThanOrEqual(remaining) {
		return amount, true
	}
	if policy == OverfundingReject {
		return decimal.Zero, false
	}
	return remaining, true
}

// Raise adds an accepted amount and closes the campaign when the target is met.
// It reports whether this call closed the campaign.
func (c *Campaign) Raise(accepted decimal.Decimal, at time.Time) bool {
	c.RaisedAmount = c.RaisedAmount.Add(accepted)
	if c.IsActive && c.RaisedAmount.GreaterThanOrEqual(c.TargetAmount) {
		c.IsActive = false
		c.ClosedAt = &at
		return true
	}
	return false
}

// Donation is one accepted contribution, replayed from DONATION events.
type Donation struct {
	Seq        int64           `json:"seq"`
	CampaignID int64           `json:"campaign_id"`
	Donor      string          `json:"donor"`
	Amount     decimal.Decimal `json:"amount"`
	Requested  decimal.Decimal `json:"requested"`
	Reference  string          `json:"reference,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DonationReceipt is returned by a donation, or by its idempotent replay.
type DonationReceipt struct {
	Campaign *Campaign    `json:"campaign"`
	Donation Donation     `json:"donation"`
	Event    *LedgerEvent `json:"event"`
}
