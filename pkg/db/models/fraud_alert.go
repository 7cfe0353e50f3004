package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// FraudAlert is raised when the fraud guard flags a transaction, or when a
// history lookup timed out and the transaction needs asynchronous review.
// It references the transaction, it does not own it.
type FraudAlert struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID string                 `gorm:"column:transaction_id;type:text;not null;index"`
	UserID        string                 `gorm:"column:user_id;type:text;not null;index"`
	Reason        string                 `gorm:"column:reason;type:text;not null"`
	Score         decimal.Decimal        `gorm:"column:score;type:numeric(6,2);not null"`
	Status        enums.FraudAlertStatus `gorm:"column:status;type:fraud_alert_status_enum;not null;default:'open'"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}
