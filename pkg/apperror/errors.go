package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"` // entity id, attempted value, ...
	Err        error          `json:"-"`                 // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, apperror.ErrCampaignClosed()).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With attaches a detail key to the error and returns it for chaining.
func (e *AppError) With(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the AppError in err's chain, or SYS_001.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "SYS_001"
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Identity Registry (IDN) ----

func ErrNotRegistered(identity string) *AppError {
	return New("IDN_001", "Identity is not registered", http.StatusForbidden).With("identity", identity)
}

func ErrAlreadyRegistered(identity string) *AppError {
	return New("IDN_002", "Identity is already registered", http.StatusConflict).With("identity", identity)
}

func ErrInvalidHandle(handle string) *AppError {
	return New("IDN_003", "Handle must be between 1 and 64 characters", http.StatusBadRequest).With("handle", handle)
}

func ErrNotAdmin(identity string) *AppError {
	return New("IDN_004", "Operation requires the administrator", http.StatusForbidden).With("identity", identity)
}

func ErrInvalidIdentity(identity string) *AppError {
	return New("IDN_005", "Identity is not a valid account address", http.StatusBadRequest).With("identity", identity)
}

// ---- Ledger (LED) ----

func ErrInsufficientBalance(identity, asset, balance, requested string) *AppError {
	return New("LED_001", "Insufficient balance", http.StatusPaymentRequired).
		With("identity", identity).
		With("asset", asset).
		With("balance", balance).
		With("requested", requested)
}

func ErrInvalidAmount(amount string) *AppError {
	return New("LED_002", "Amount must be a positive integer number of base units", http.StatusBadRequest).With("amount", amount)
}

func ErrNotFound(entity string, id any) *AppError {
	return New("LED_003", fmt.Sprintf("%s not found", entity), http.StatusNotFound).With("id", id)
}

func ErrDuplicateReference(reference string) *AppError {
	return New("LED_004", "Reference was already used for a different operation", http.StatusConflict).With("reference", reference)
}

// ---- Review workflows (WFL) ----

func ErrAlreadyReviewed(id int64, status string) *AppError {
	return New("WFL_001", "Request has already been reviewed", http.StatusConflict).
		With("id", id).
		With("status", status)
}

func ErrInvalidEvidence() *AppError {
	return New("WFL_002", "Evidence reference must not be empty", http.StatusBadRequest)
}

// ---- Funding pool (FND) ----

func ErrCampaignClosed(id int64) *AppError {
	return New("FND_001", "Campaign is fully funded and closed", http.StatusConflict).With("campaign_id", id)
}

func ErrOverfundingRejected(id int64, remaining, requested string) *AppError {
	return New("FND_002", "Donation exceeds the amount the campaign still needs", http.StatusUnprocessableEntity).
		With("campaign_id", id).
		With("remaining", remaining).
		With("requested", requested)
}

func ErrSelfDonation(id int64) *AppError {
	return New("FND_003", "Campaign creators cannot donate to their own campaign", http.StatusUnprocessableEntity).With("campaign_id", id)
}

// ---- Marketplace (MKT) ----

func ErrInvalidPrice(price string) *AppError {
	return New("MKT_001", "Price must be a non-negative integer number of base units", http.StatusBadRequest).With("price", price)
}

func ErrInsufficientPayment(id int64, price, payment string) *AppError {
	return New("MKT_002", "Payment is below the certificate price", http.StatusPaymentRequired).
		With("certificate_id", id).
		With("price", price).
		With("payment", payment)
}

func ErrSelfPurchase(id int64) *AppError {
	return New("MKT_003", "Owner cannot buy their own certificate", http.StatusUnprocessableEntity).With("certificate_id", id)
}

func ErrNotListed(id int64) *AppError {
	return New("MKT_004", "Certificate is not listed for sale", http.StatusConflict).With("certificate_id", id)
}

func ErrNotOwner(id int64) *AppError {
	return New("MKT_005", "Only the owner can change the listing", http.StatusForbidden).With("certificate_id", id)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
