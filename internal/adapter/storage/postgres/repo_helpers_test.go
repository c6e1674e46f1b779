package postgres

import (
	"github.com/shopspring/decimal"
)

const (
	alice = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// decimalArg matches a decimal argument by value rather than representation.
type decimalArg struct{ want decimal.Decimal }

func (a decimalArg) Match(v any) bool {
	switch got := v.(type) {
	case decimal.Decimal:
		return got.Equal(a.want)
	case string:
		d, err := decimal.NewFromString(got)
		return err == nil && d.Equal(a.want)
	}
	return false
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eqDec(s string) decimalArg { return decimalArg{want: dec(s)} }
