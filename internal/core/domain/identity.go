package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// MaxHandleLength is the longest display handle the registry accepts.
const MaxHandleLength = 64

// Identity is a registered principal. IsAdmin is derived from configuration
// and never persisted.
type Identity struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeIdentity validates an account address and returns its EIP-55
// checksummed form.
func NormalizeIdentity(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", false
	}
	return common.HexToAddress(raw).Hex(), true
}

// NormalizeHandle trims the handle and reports whether it is acceptable.
func NormalizeHandle(raw string) (string, bool) {
	h := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(h)
	return h, n > 0 && n <= MaxHandleLength
}
