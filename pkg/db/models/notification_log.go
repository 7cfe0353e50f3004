package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// NotificationLog groups the dispatch attempts for one notification request.
// Attempts only ever increases; sent is terminal. Resends append attempts to
// the same row using the stored payload, never re-supplied variables.
type NotificationLog struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RecipientRef string                    `gorm:"column:recipient_ref;type:text;not null;index"`
	Channel      enums.NotificationChannel `gorm:"column:channel;type:notification_channel_enum;not null"`
	TemplateKey  string                    `gorm:"column:template_key;type:text;not null"`
	Payload      json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status       enums.NotificationStatus  `gorm:"column:status;type:notification_status_enum;not null;default:'pending'"`
	Attempts     int                       `gorm:"column:attempts;not null;default:0"`
	LastError    *string                   `gorm:"column:last_error"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
