package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Columns is the ordered statement_txn column list. Every Record carries exactly these keys.
var Columns = []string{
	"transaction_type", "booking_text", "description",
	"account", "custody_account", "debit_account", "credit_account",
	"client_name", "order_no", "settlement_no", "document_no",
	"trade_date", "settle_date", "value_date", "booking_date", "ex_date", "due_date", "period_from", "period_to",
	"currency", "amount", "amount_sign", "gross_amount", "net_amount", "amount_text",
	"quantity", "price", "nominal", "coupon_rate_percent", "fx_rate", "trading_currency",
	"security_name", "ticker", "isin", "valor", "cusip", "sedol",
	"execution_venue", "execution_time",
	"commission", "stock_exchange_fee", "third_party_executions_fee", "foreign_financial_fee", "other_fee", "fees_total",
	"withholding_tax", "transaction_tax", "taxes_total",
	"realized_pl", "transaction_gain", "exchange_gain",
	"bank_name", "counterparty_bic", "beneficiary_name", "beneficiary_account",
	"createdon", "file_name", "client_id", "cash_distribution_amount",
}

// Magnitudes are stored unsigned once amount_sign is known.
var Magnitudes = []string{"amount", "quantity", "gross_amount", "net_amount"}

// signalFields decide the drop gate.
var signalFields = []string{"description", "custody_account", "trade_date", "amount", "quantity", "amount_sign"}

var columnSet = func() map[string]bool {
	m := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		m[c] = true
	}
	return m
}()

// IsColumn reports whether key belongs to the fixed field set.
func IsColumn(key string) bool {
	return columnSet[key]
}

// Record is one ledger row. Absent values are nil, never "".
type Record map[string]any

// Clamp builds a Record from classifier output: unknown keys are dropped, missing keys
// become nil and blank strings become nil. Anything that is not an object yields an all-nil record.
func Clamp(obj any) Record {
	rec := make(Record, len(Columns))
	for _, c := range Columns {
		rec[c] = nil
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return rec
	}
	for _, c := range Columns {
		rec[c] = clampValue(m[c])
	}
	return rec
}

func clampValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return t
	case json.Number, float64, int, int64, bool:
		return t
	default:
		// nested objects and arrays are kept as their JSON text
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// Dropped reports whether every signal field is blank.
func (r Record) Dropped() bool {
	for _, k := range signalFields {
		if !isBlank(r[k]) {
			return false
		}
	}
	return true
}

// Values returns the record in Columns order.
func (r Record) Values() []any {
	out := make([]any, len(Columns))
	for i, c := range Columns {
		out[i] = r[c]
	}
	return out
}
