package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// WalletTransaction records one gateway event against a wallet. The primary
// key is the gateway-supplied transaction reference and doubles as the
// idempotency boundary: replays of the same id never touch the balance twice.
type WalletTransaction struct {
	ID            string                  `gorm:"column:id;type:text;primaryKey"`
	UserID        string                  `gorm:"column:user_id;type:text;not null;index"`
	Type          enums.TransactionType   `gorm:"column:type;type:transaction_type_enum;not null"`
	Amount        decimal.Decimal         `gorm:"column:amount;type:numeric(20,2);not null"`
	Currency      enums.Currency          `gorm:"column:currency;type:text;not null"`
	Status        enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`
	FailureReason *string                 `gorm:"column:failure_reason"`
	RelatedEntity *string                 `gorm:"column:related_entity"`
	Metadata      json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
