package enums

// PaymentVerdict is the normalized result of a payment source.
type PaymentVerdict string

const (
	PaymentVerdictSucceeded PaymentVerdict = "succeeded"
	PaymentVerdictFailed    PaymentVerdict = "failed"
	PaymentVerdictPending   PaymentVerdict = "pending"
)

// IsValid reports whether the value is a known PaymentVerdict.
func (v PaymentVerdict) IsValid() bool {
	switch v {
	case PaymentVerdictSucceeded, PaymentVerdictFailed, PaymentVerdictPending:
		return true
	}
	return false
}
