package gateway

import "encoding/json"

// WebhookPayload is the gateway's wire shape, decoded as-is. Amount stays a
// json.Number until normalization so it is never routed through a float.
type WebhookPayload struct {
	Event     string            `json:"event"`
	EventType string            `json:"event.type"`
	Data      WebhookData       `json:"data"`
	MetaData  map[string]string `json:"meta_data"`
}

// WebhookData is the nested transaction object of a gateway event.
type WebhookData struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Amount   json.Number     `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
	Customer WebhookCustomer `json:"customer"`
}

// WebhookCustomer identifies the paying customer on a gateway event.
type WebhookCustomer struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}
