package enums

import "fmt"

// FraudAlertStatus tracks the review lifecycle of a fraud alert.
type FraudAlertStatus string

const (
	FraudAlertStatusOpen           FraudAlertStatus = "open"
	FraudAlertStatusCleared        FraudAlertStatus = "cleared"
	FraudAlertStatusConfirmedFraud FraudAlertStatus = "confirmed_fraud"
)

var validFraudAlertStatuses = []FraudAlertStatus{
	FraudAlertStatusOpen,
	FraudAlertStatusCleared,
	FraudAlertStatusConfirmedFraud,
}

// String implements fmt.Stringer.
func (s FraudAlertStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s FraudAlertStatus) IsValid() bool {
	for _, candidate := range validFraudAlertStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFraudAlertStatus converts raw input into a FraudAlertStatus.
func ParseFraudAlertStatus(value string) (FraudAlertStatus, error) {
	for _, candidate := range validFraudAlertStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fraud alert status %q", value)
}
