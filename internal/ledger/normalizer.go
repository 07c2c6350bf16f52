package ledger

import (
	"fmt"
	"strings"
	"time"

	"Mail2Ledger/internal/slicer"
)

// Source identifies where a record came from; these values always win over the classifier's.
type Source struct {
	FileName string
	ClientID int64
	BankName string
}

// Normalizer resolves polarity, cleans magnitudes, stamps system fields and applies the drop gate.
type Normalizer struct {
	policy SignPolicy
	now    func() time.Time
}

func NewNormalizer(policy SignPolicy) *Normalizer {
	return &Normalizer{policy: policy, now: time.Now}
}

// Normalize returns the record and whether it should be kept.
func (n *Normalizer) Normalize(classified map[string]any, row slicer.RowContext, sheetIndex int, src Source) (Record, bool) {
	rec := Clamp(classified)

	sign, ok := ExplicitSign(rec["amount_sign"])
	if !ok {
		sign, ok = n.policy.Resolve(SignInput{
			SheetIndex:      sheetIndex,
			TransactionType: transactionType(rec, row),
			Quantity:        rec["quantity"],
			Amount:          rec["amount"],
		})
	}
	if ok {
		rec["amount_sign"] = sign
		for _, k := range Magnitudes {
			rec[k] = Unsign(rec[k])
		}
	} else {
		rec["amount_sign"] = nil
	}

	rec["createdon"] = n.now().UTC()
	rec["file_name"] = nilIfEmpty(src.FileName)
	rec["client_id"] = nil
	if src.ClientID != 0 {
		rec["client_id"] = src.ClientID
	}
	rec["bank_name"] = nilIfEmpty(src.BankName)
	rec["value_date"] = rec["trade_date"]

	if rec.Dropped() {
		return rec, false
	}
	return rec, true
}

func transactionType(rec Record, row slicer.RowContext) string {
	if v := rec["transaction_type"]; !isBlank(v) {
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
	for _, key := range []string{"Type", "Transaction Type"} {
		if v, ok := row.Fields.Get(key); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
