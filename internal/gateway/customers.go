package gateway

import (
	"context"
	"fmt"
	"strings"
)

// EmailLookup resolves the user reference from the gateway customer record.
// Wallets are keyed by the same reference the checkout flow hands the
// gateway, which for this provider is the customer email.
type EmailLookup struct{}

// NewEmailLookup returns the default customer lookup.
func NewEmailLookup() *EmailLookup {
	return &EmailLookup{}
}

// ResolveUserID implements CustomerLookup.
func (l *EmailLookup) ResolveUserID(_ context.Context, customer WebhookCustomer) (string, error) {
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	if email != "" {
		return email, nil
	}
	if customer.ID != 0 {
		return fmt.Sprintf("customer-%d", customer.ID), nil
	}
	return "", fmt.Errorf("customer has no email or id")
}
