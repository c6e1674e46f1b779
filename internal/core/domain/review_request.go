package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestKind distinguishes the two approval workflows.
type RequestKind string

const (
	RequestKindIssuance RequestKind = "ISSUANCE"
	RequestKindProject  RequestKind = "PROJECT"
)

// RequestStatus is the lifecycle state of a review request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// ParseRequestStatus accepts any case ("pending", "APPROVED").
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch RequestStatus(upper(s)) {
	case RequestStatusPending:
		return RequestStatusPending, true
	case RequestStatusApproved:
		return RequestStatusApproved, true
	case RequestStatusRejected:
		return RequestStatusRejected, true
	}
	return "", false
}

// Decision is the administrator's verdict on a request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ParseDecision accepts "approve"/"approved" and "reject"/"rejected" in any case.
func ParseDecision(s string) (Decision, bool) {
	switch upper(s) {
	case "APPROVE", "APPROVED":
		return DecisionApprove, true
	case "REJECT", "REJECTED":
		return DecisionReject, true
	}
	return "", false
}

// Status maps the decision to the terminal status it produces.
func (d Decision) Status() RequestStatus {
	if d == DecisionApprove {
		return RequestStatusApproved
	}
	return RequestStatusRejected
}

// ReviewRequest is an issuance request or a project submission.
// Amount is the requested allocation for projects and the minted amount for
// approved issuance requests; it is zero otherwise.
type ReviewRequest struct {
	ID          int64           `json:"id"`
	Kind        RequestKind     `json:"kind"`
	Requester   string          `json:"requester"`
	EvidenceRef string          `json:"evidence_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Status      RequestStatus   `json:"status"`
	ReviewedBy  *string         `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsPending returns true while the request awaits review.
func (r *ReviewRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// Reviewed returns true once the status has left Pending.
func (r *ReviewRequest) Reviewed() bool {
	return r.Status == RequestStatusApproved || r.Status == RequestStatusRejected
}
