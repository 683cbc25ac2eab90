package pipeline

import (
	"fmt"
	"strings"
)

// maxDocumentIDBytes is the Firestore document id size limit.
const maxDocumentIDBytes = 1500

// KeyFunc derives the deterministic document id of a record.
type KeyFunc func(RawRecord) (string, error)

// NormalizeID replaces every non alphanumeric byte with '_' and caps the length.
func NormalizeID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxDocumentIDBytes {
		out = out[:maxDocumentIDBytes]
	}
	return out
}

// CostDocumentID is {billing_account}_{date}_{project}_{service}, normalized.
func CostDocumentID(billingAccount, date, project, service string) string {
	return NormalizeID(billingAccount + "_" + date + "_" + project + "_" + service)
}

// CostKey reads billing_account_id, date, project_id and service from the payload.
func CostKey(rec RawRecord) (string, error) {
	account := rec.String("billing_account_id")
	date := rec.String("date")
	if account == "" || date == "" {
		return "", malformed("cost record without billing_account_id/date (scope %s)", rec.ScopeID)
	}
	return CostDocumentID(account, date, rec.String("project_id"), rec.String("service")), nil
}

// InvoiceDocumentID is {billing_account_id}-{YYYY-MM}.
func InvoiceDocumentID(billingAccount, month string) string {
	return billingAccount + "-" + month
}

func InvoiceKey(rec RawRecord) (string, error) {
	account := rec.String("billing_account_id")
	month := rec.String("invoice_month")
	if account == "" || len(month) != len("2006-01") {
		return "", malformed("invoice without billing_account_id/invoice_month (scope %s)", rec.ScopeID)
	}
	return InvoiceDocumentID(account, month), nil
}

// ProviderKey uses the last path segment of the provider-issued name verbatim.
func ProviderKey(rec RawRecord) (string, error) {
	id := LastSegment(rec.NaturalKey)
	if id == "" {
		return "", malformed("record without provider id (scope %s)", rec.ScopeID)
	}
	return id, nil
}

// FieldKey uses a payload field verbatim.
func FieldKey(field string) KeyFunc {
	return func(rec RawRecord) (string, error) {
		v := fmt.Sprint(rec.Payload[field])
		if rec.Payload[field] == nil || v == "" {
			return "", malformed("record without %s (scope %s)", field, rec.ScopeID)
		}
		return strings.ReplaceAll(v, "/", "_"), nil
	}
}

// NaturalKey uses RawRecord.NaturalKey as is.
func NaturalKey(rec RawRecord) (string, error) {
	if rec.NaturalKey == "" {
		return "", malformed("record without natural key (scope %s)", rec.ScopeID)
	}
	return rec.NaturalKey, nil
}

func LastSegment(name string) string {
	name = strings.TrimRight(strings.TrimSpace(name), "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
