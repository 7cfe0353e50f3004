package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// AuditEntry is one immutable line in the append-only audit trail. The
// correlation id is the wallet transaction id or notification log id the
// entry belongs to, so reconciliation can replay a full pipeline pass.
type AuditEntry struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CorrelationID string           `gorm:"column:correlation_id;type:text;not null;index"`
	Stage         enums.AuditStage `gorm:"column:stage;type:audit_stage_enum;not null"`
	Outcome       string           `gorm:"column:outcome;type:text;not null"`
	Detail        json.RawMessage  `gorm:"column:detail;type:jsonb"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime;index"`
}
