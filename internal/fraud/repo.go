package fraud

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
)

// AlertRepository manages persistence for fraud alerts.
type AlertRepository interface {
	WithTx(tx *gorm.DB) AlertRepository
	Create(ctx context.Context, alert *models.FraudAlert) error
	ListByTransactionID(ctx context.Context, transactionID string) ([]models.FraudAlert, error)
	UpdateStatus(ctx context.Context, alertID string, status enums.FraudAlertStatus) error
}

// HistoryRepository reads recent wallet transactions for rule evaluation.
type HistoryRepository interface {
	RecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]models.WalletTransaction, error)
}

type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository returns a fraud alert repository bound to the database.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) WithTx(tx *gorm.DB) AlertRepository {
	if tx == nil {
		return r
	}
	return &alertRepository{db: tx}
}

func (r *alertRepository) Create(ctx context.Context, alert *models.FraudAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *alertRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]models.FraudAlert, error) {
	var alerts []models.FraudAlert
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepository) UpdateStatus(ctx context.Context, alertID string, status enums.FraudAlertStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.FraudAlert{}).
		Where("id = ?", alertID).
		Update("status", status).Error
}

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository returns a transaction history reader for rule checks.
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) RecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
