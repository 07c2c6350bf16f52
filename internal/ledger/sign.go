package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignOf infers polarity from a raw value. Parenthesized text and a leading or trailing
// minus are negative; otherwise the parsed number decides. Zero and text give no sign.
func SignOf(v any) (int, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return 0, false
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		return -1, true
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return -1, true
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	switch d.Sign() {
	case 1:
		return 1, true
	case -1:
		return -1, true
	}
	return 0, false
}

// ExplicitSign accepts a classifier-supplied amount_sign only when it is exactly -1 or +1.
func ExplicitSign(v any) (int, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return 0, false
	case int:
		s = fmt.Sprint(t)
	case int64:
		s = fmt.Sprint(t)
	case float64:
		s = decimal.NewFromFloat(t).String()
	case json.Number:
		s = t.String()
	case string:
		s = t
	default:
		return 0, false
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	if err != nil {
		return 0, false
	}
	switch {
	case d.Equal(decimal.NewFromInt(1)):
		return 1, true
	case d.Equal(decimal.NewFromInt(-1)):
		return -1, true
	}
	return 0, false
}

// SignInput carries the raw values a sign rule looks at.
type SignInput struct {
	SheetIndex      int
	TransactionType string // lowercased
	Quantity        any
	Amount          any
}

// SignRule is one row of the policy table. The first rule whose Applies matches decides.
type SignRule struct {
	Name    string
	Applies func(SignInput) bool
	Sign    func(SignInput) (int, bool)
}

// SignPolicy resolves amount_sign when the classifier did not supply a usable one.
type SignPolicy struct {
	Rules []SignRule
}

// Resolve walks the rules and falls back to the amount's own sign.
func (p SignPolicy) Resolve(in SignInput) (int, bool) {
	for _, r := range p.Rules {
		if r.Applies(in) {
			return r.Sign(in)
		}
	}
	return AmountSign(in)
}

// AmountSign uses the raw amount's polarity.
func AmountSign(in SignInput) (int, bool) {
	return SignOf(in.Amount)
}

// InvertQuantity treats a positive quantity as an outflow and vice versa, falling back
// to the amount when the quantity carries no sign.
func InvertQuantity(in SignInput) (int, bool) {
	if q, ok := SignOf(in.Quantity); ok {
		return -q, true
	}
	return SignOf(in.Amount)
}

// NewSignPolicy builds the default rule table: quantity inversion on the secondary
// sheet and for the listed transaction types. A negative sheet index disables the sheet rule.
func NewSignPolicy(secondarySheet int, invertTypes []string) SignPolicy {
	types := make(map[string]bool, len(invertTypes))
	for _, t := range invertTypes {
		types[strings.ToLower(strings.TrimSpace(t))] = true
	}
	var rules []SignRule
	if secondarySheet >= 0 {
		rules = append(rules, SignRule{
			Name:    fmt.Sprintf("sheet_%d_quantity", secondarySheet),
			Applies: func(in SignInput) bool { return in.SheetIndex == secondarySheet },
			Sign:    InvertQuantity,
		})
	}
	if len(types) > 0 {
		rules = append(rules, SignRule{
			Name:    "fund_flow_quantity",
			Applies: func(in SignInput) bool { return types[in.TransactionType] },
			Sign:    InvertQuantity,
		})
	}
	return SignPolicy{Rules: rules}
}

// DefaultSignPolicy inverts quantity on sheet 1 and for subscriptions and redemptions.
func DefaultSignPolicy() SignPolicy {
	return NewSignPolicy(1, []string{"subscription", "redemption"})
}

// Unsign strips polarity from a magnitude. Numbers lose their sign; text loses at most one
// marker: enclosing parentheses, else a leading minus, else a trailing minus.
func Unsign(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		if t < 0 {
			return -t
		}
		return t
	case int64:
		if t < 0 {
			return -t
		}
		return t
	case float64:
		if t < 0 {
			return -t
		}
		return t
	case json.Number:
		s := strings.TrimSpace(t.String())
		return json.Number(strings.TrimPrefix(s, "-"))
	case decimal.Decimal:
		return t.Abs()
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		s = strings.TrimSpace(s[1 : len(s)-1])
	case strings.HasPrefix(s, "-"):
		s = strings.TrimLeft(s[1:], " ")
	case strings.HasSuffix(s, "-"):
		s = strings.TrimRight(s[:len(s)-1], " ")
	}
	if s == "" {
		return nil
	}
	return s
}
