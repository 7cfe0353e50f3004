package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the single mutable balance per user. It is mutated only by the
// ledger engine under optimistic concurrency: every balance write must carry
// the version it read, and bumps it by one.
type Wallet struct {
	ID        uint            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string          `gorm:"column:user_id;type:text;not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0"`
	Version   int64           `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
