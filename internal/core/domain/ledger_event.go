package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// EventType names a committed ledger mutation.
type EventType string

const (
	EventIdentityRegistered EventType = "IDENTITY_REGISTERED"
	EventMint               EventType = "MINT"
	EventTransfer           EventType = "TRANSFER"
	EventRetire             EventType = "RETIRE"
	EventDeposit            EventType = "DEPOSIT"
	EventRequestSubmitted   EventType = "REQUEST_SUBMITTED"
	EventRequestReviewed    EventType = "REQUEST_REVIEWED"
	EventCampaignCreated    EventType = "CAMPAIGN_CREATED"
	EventDonation           EventType = "DONATION"
	EventCertificateMinted  EventType = "CERTIFICATE_MINTED"
	EventSale               EventType = "SALE"
	EventListingChanged     EventType = "LISTING_CHANGED"
)

// RoutingKey is the broker routing key, e.g. "ledger.donation".
func (t EventType) RoutingKey() string {
	return "ledger." + strings.ToLower(string(t))
}

// GenesisHash is the previous hash of the first event.
var GenesisHash = strings.Repeat("0", 64)

// LedgerEvent is one entry of the append-only, hash-chained audit log.
// Balance effects are fully described by Asset, From, To and Amount:
// an empty From mints, an empty To burns.
type LedgerEvent struct {
	Seq         int64           `json:"seq"`
	Type        EventType       `json:"type"`
	Actor       string          `json:"actor"`
	Asset       Asset           `json:"asset,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	SubjectID   *int64          `json:"subject_id,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// ChainHead is the latest sealed position of the event chain.
type ChainHead struct {
	Seq  int64
	Hash string
}

// MovesValue reports whether the event changes balances.
func (e *LedgerEvent) MovesValue() bool {
	return e.Asset != "" && e.Amount.IsPositive()
}

type canonicalEvent struct {
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Actor     string          `json:"actor"`
	Asset     Asset           `json:"asset"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    string          `json:"amount"`
	SubjectID *int64          `json:"subject_id"`
	Reference string          `json:"reference"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// Canonical is the deterministic encoding covered by the hash.
func (e *LedgerEvent) Canonical() []byte {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	b, err := json.Marshal(canonicalEvent{
		Seq:       e.Seq,
		Type:      e.Type,
		Actor:     e.Actor,
		Asset:     e.Asset,
		From:      e.From,
		To:        e.To,
		Amount:    e.Amount.String(),
		SubjectID: e.SubjectID,
		Reference: e.Reference,
		Payload:   payload,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// payload is produced by json.Marshal; an invalid one is a programming error
		panic(err)
	}
	return b
}

// ComputeHash returns hex(BLAKE2b-256(prevHash || canonical)).
func (e *LedgerEvent) ComputeHash() string {
	prev, _ := hex.DecodeString(e.PrevHash)
	sum := blake2b.Sum256(append(prev, e.Canonical()...))
	return hex.EncodeToString(sum[:])
}

// Seal positions the event after head and stamps its hash.
func (e *LedgerEvent) Seal(head ChainHead) {
	e.Seq = head.Seq + 1
	e.PrevHash = head.Hash
	if e.PrevHash == "" {
		e.PrevHash = GenesisHash
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
	e.Hash = e.ComputeHash()
}

// SameOperation reports whether a stored event describes the same operation as
// a retried call carrying the same reference.
func (e *LedgerEvent) SameOperation(t EventType, to string, subjectID *int64) bool {
	if e.Type != t {
		return false
	}
	if to != "" && e.To != to {
		return false
	}
	if subjectID != nil && (e.SubjectID == nil || *e.SubjectID != *subjectID) {
		return false
	}
	return true
}

// EventFilter narrows an event listing.
type EventFilter struct {
	Type      EventType
	Identity  string // matches actor, from or to
	SubjectID *int64
	AfterSeq  int64
	Limit     int
}

// VerifyReport is the outcome of replaying the event chain.
type VerifyReport struct {
	Events     int64             `json:"events"`
	HeadSeq    int64             `json:"head_seq"`
	HeadHash   string            `json:"head_hash"`
	ChainValid bool              `json:"chain_valid"`
	Balanced   bool              `json:"balanced"`
	Supply     map[Asset]*Supply `json:"supply"`
	Problems   []string          `json:"problems,omitempty"`
}

// OK is true when the chain and every balance check out.
func (r *VerifyReport) OK() bool {
	return r.ChainValid && r.Balanced
}

// ChainProblem records a broken link or hash.
func (r *VerifyReport) ChainProblem(format string, args ...any) {
	r.ChainValid = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// BalanceProblem records a balance or supply mismatch.
func (r *VerifyReport) BalanceProblem(format string, args ...any) {
	r.Balanced = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}
