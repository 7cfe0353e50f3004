package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
	"github.com/shopspring/decimal"
)

// Repository manages persistence for wallets and wallet transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetTransaction(ctx context.Context, id string) (*models.WalletTransaction, error)
	// ClaimTransaction inserts the pending row if the id is unseen. The
	// returned bool reports whether this caller won the claim.
	ClaimTransaction(ctx context.Context, txn *models.WalletTransaction) (bool, error)
	// TransitionStatus moves a transaction from one status to another. The
	// from-status guard makes each transition first-writer-wins.
	TransitionStatus(ctx context.Context, id string, from, to enums.TransactionStatus, failureReason *string) (bool, error)
	ListTransactions(ctx context.Context, userID string, params pagination.Params) (*TransactionList, error)

	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	// EnsureWallet creates a zero-balance wallet for the user if none exists.
	EnsureWallet(ctx context.Context, userID string) (*models.Wallet, error)
	// UpdateWalletBalance applies a compare-and-swap on the wallet version.
	// The returned bool reports whether the version matched.
	UpdateWalletBalance(ctx context.Context, walletID uint, balance decimal.Decimal, version int64) (bool, error)
}

// TransactionList is one page of transactions plus the next-page cursor.
type TransactionList struct {
	Transactions []models.WalletTransaction
	NextCursor   string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetTransaction(ctx context.Context, id string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ClaimTransaction(ctx context.Context, txn *models.WalletTransaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(txn)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id string, from, to enums.TransactionStatus, failureReason *string) (bool, error) {
	updates := map[string]any{"status": to}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	result := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListTransactions(ctx context.Context, userID string, params pagination.Params) (*TransactionList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)

	// Transaction ids are gateway text refs, so the shared uuid cursor does
	// not apply; the cursor here is the created_at of the last row.
	cursor, err := parseTimeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("created_at < ?", *cursor)
	}

	var txns []models.WalletTransaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}

	list := &TransactionList{}
	if len(txns) > limit {
		txns = txns[:limit]
		list.NextCursor = encodeTimeCursor(txns[len(txns)-1].CreatedAt)
	}
	list.Transactions = txns
	return list, nil
}

func (r *repository) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) EnsureWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	wallet := &models.Wallet{UserID: userID, Balance: decimal.Zero}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(wallet).Error; err != nil {
		return nil, err
	}
	return r.GetWallet(ctx, userID)
}

func (r *repository) UpdateWalletBalance(ctx context.Context, walletID uint, balance decimal.Decimal, version int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND version = ?", walletID, version).
		Updates(map[string]any{
			"balance": balance,
			"version": version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func encodeTimeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339Nano)))
}

func parseTimeCursor(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(decoded))
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return &t, nil
}
