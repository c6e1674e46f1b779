package dto

import (
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"carbon-ledger/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("safe_url", validateSafeURL)
		_ = v.RegisterValidation("evm_address", validateEVMAddress)
		_ = v.RegisterValidation("base_units", validateBaseUnits)
		_ = v.RegisterValidation("content_ref", validateContentRef)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, dot and colon.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateSafeURL accepts only http/https URLs.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true // optional field; use "required" tag to enforce presence
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func validateEVMAddress(fl validator.FieldLevel) bool {
	return common.IsHexAddress(strings.TrimSpace(fl.Field().String()))
}

// validateBaseUnits accepts whole numbers. Sign and zero checks belong to
// the services so that they report InvalidAmount or InvalidPrice.
func validateBaseUnits(fl validator.FieldLevel) bool {
	_, err := domain.ParseBaseUnits(fl.Field().String())
	return err == nil
}

// validateContentRef accepts an opaque content reference: printable and
// without inner whitespace. Blank values pass so the workflow can report
// InvalidEvidence.
func validateContentRef(fl validator.FieldLevel) bool {
	ref := strings.TrimSpace(fl.Field().String())
	for _, r := range ref {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Amount parses a field already checked by base_units.
func Amount(s string) decimal.Decimal {
	d, _ := domain.ParseBaseUnits(s)
	return d
}

// SanitizeStruct trims whitespace from every exported string field (including
// *string) of a struct pointer. Text is stored as submitted; encoding for
// display is left to the renderer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				s := sanitize(elem.String())
				elem.SetString(s)
			}
		}
	}
}

func sanitize(s string) string {
	return strings.TrimSpace(s)
}
