package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

// ListParams filters the notification log listing.
type ListParams struct {
	RecipientRef string
	Channel      *enums.NotificationChannel
	Status       *enums.NotificationStatus
	From         *time.Time
	To           *time.Time
	Pagination   pagination.Params
}

// LogList is one page of notification logs.
type LogList struct {
	Logs       []models.NotificationLog
	NextCursor string
}

// Repository exposes persistence helpers for notification logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, log *models.NotificationLog) error
	Get(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error)
	List(ctx context.Context, params ListParams) (*LogList, error)
	// RecordAttempt increments the attempt counter and stores the latest
	// provider error, leaving status untouched.
	RecordAttempt(ctx context.Context, id uuid.UUID, lastError *string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.NotificationStatus, lastError *string) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notification log repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, log *models.NotificationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error) {
	var log models.NotificationLog
	err := r.db.WithContext(ctx).First(&log, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListParams) (*LogList, error) {
	limit := pagination.LimitWithBuffer(params.Pagination.Limit)
	normalized := pagination.NormalizeLimit(params.Pagination.Limit)

	cursor, err := pagination.ParseCursor(params.Pagination.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.NotificationLog{})
	if params.RecipientRef != "" {
		query = query.Where("recipient_ref = ?", params.RecipientRef)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at < ?", *params.To)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var logs []models.NotificationLog
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	list := &LogList{Logs: logs}
	if len(logs) > normalized {
		next := logs[normalized]
		list.Logs = logs[:normalized]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID})
	}
	return list, nil
}

func (r *repositoryImpl) RecordAttempt(ctx context.Context, id uuid.UUID, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
}

func (r *repositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.NotificationStatus, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
		}).Error
}
