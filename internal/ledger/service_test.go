package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/internal/fraud"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS wallets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL UNIQUE,
  balance NUMERIC NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  failure_reason TEXT,
  related_entity TEXT,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubFraud struct {
	assessment *fraud.Assessment
}

func (s *stubFraud) Evaluate(_ context.Context, _ *gateway.LedgerEvent) (*fraud.Assessment, error) {
	if s.assessment != nil {
		return s.assessment, nil
	}
	return &fraud.Assessment{}, nil
}

type recordedAudit struct {
	Stage   enums.AuditStage
	Outcome string
}

type fakeLedgerRecorder struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (f *fakeLedgerRecorder) Record(_ context.Context, stage enums.AuditStage, _ string, outcome string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedAudit{Stage: stage, Outcome: outcome})
}

func (f *fakeLedgerRecorder) RecordTx(_ context.Context, tx *gorm.DB, stage enums.AuditStage, _ string, outcome string, _ any) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedAudit{Stage: stage, Outcome: outcome})
	return nil
}

func (f *fakeLedgerRecorder) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

type ledgerFixture struct {
	db      *gorm.DB
	service Service
	audit   *fakeLedgerRecorder
	fraud   *stubFraud
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db := setupLedgerTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	recorder := &fakeLedgerRecorder{}
	guard := &stubFraud{}

	svc, err := NewService(ServiceParams{
		DB:     &gormTxRunner{db: db},
		Repo:   NewRepository(db),
		Fraud:  guard,
		Outbox: outbox.NewService(outbox.NewRepository(db), logg),
		Audit:  recorder,
		Logger: logg,
	})
	require.NoError(t, err)

	return &ledgerFixture{db: db, service: svc, audit: recorder, fraud: guard}
}

func depositEvent(id, userID, amount string) *gateway.LedgerEvent {
	return &gateway.LedgerEvent{
		ID:       id,
		UserID:   userID,
		Type:     enums.TransactionTypeDeposit,
		Amount:   decimal.RequireFromString(amount),
		Currency: enums.CurrencyNGN,
		Status:   enums.PaymentStatusSuccessful,
	}
}

func deductionEvent(id, userID, amount string) *gateway.LedgerEvent {
	event := depositEvent(id, userID, amount)
	event.Type = enums.TransactionTypeDeduction
	return event
}

func countOutboxRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	return count
}

func countOutboxRowsOfType(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestApplyDepositCompletesAndCreditsWallet(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	result, err := fx.service.Apply(ctx, depositEvent("TX-100", "U1", "250.00"))
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)

	assert.Equal(t, enums.TransactionStatusCompleted, result.Transaction.Status)
	assert.False(t, result.Replayed)
	require.NotNil(t, result.BalanceAfter)
	assert.True(t, result.BalanceAfter.Equal(decimal.RequireFromString("250.00")))

	wallet, err := fx.service.GetWallet(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("250.00")))
	assert.EqualValues(t, 1, wallet.Version)

	assert.EqualValues(t, 1, countOutboxRows(t, fx.db))
	assert.Contains(t, fx.audit.outcomes(), "completed")
}

func TestApplyReplayDoesNotDoubleCredit(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	first, err := fx.service.Apply(ctx, depositEvent("TX-101", "U1", "100.00"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := fx.service.Apply(ctx, depositEvent("TX-101", "U1", "100.00"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, enums.TransactionStatusCompleted, second.Transaction.Status)

	wallet, err := fx.service.GetWallet(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("100.00")))
	assert.EqualValues(t, 1, countOutboxRows(t, fx.db))
}

func TestApplyDeductionConservesBalance(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	_, err := fx.service.Apply(ctx, depositEvent("TX-102", "U1", "100.00"))
	require.NoError(t, err)

	result, err := fx.service.Apply(ctx, deductionEvent("TX-103", "U1", "40.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, result.Transaction.Status)

	wallet, err := fx.service.GetWallet(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("60.00")))
	assert.EqualValues(t, 2, wallet.Version)
}

func TestApplyDeductionInsufficientBalanceFails(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	_, err := fx.service.Apply(ctx, depositEvent("TX-104", "U1", "50.00"))
	require.NoError(t, err)

	result, err := fx.service.Apply(ctx, deductionEvent("TX-105", "U1", "80.00"))
	require.NoError(t, err)

	assert.Equal(t, enums.TransactionStatusFailed, result.Transaction.Status)
	require.NotNil(t, result.Transaction.FailureReason)
	assert.Equal(t, "insufficient_balance", *result.Transaction.FailureReason)
	assert.Nil(t, result.BalanceAfter)

	wallet, err := fx.service.GetWallet(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("50.00")))

	// The failure still emits an applied event so the user is notified.
	assert.EqualValues(t, 2, countOutboxRows(t, fx.db))
}

func TestApplyFraudBlockedFailsTransaction(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fraud.assessment = &fraud.Assessment{
		Blocked: true,
		Reasons: []string{"amount_threshold"},
	}
	ctx := context.Background()

	result, err := fx.service.Apply(ctx, depositEvent("TX-106", "U1", "900000.00"))
	require.NoError(t, err)

	assert.Equal(t, enums.TransactionStatusFailed, result.Transaction.Status)
	require.NotNil(t, result.Transaction.FailureReason)
	assert.Equal(t, "fraud_blocked:amount_threshold", *result.Transaction.FailureReason)

	// The wallet must stay untouched.
	_, err = fx.service.GetWallet(ctx, "U1")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	assert.EqualValues(t, 1, countOutboxRows(t, fx.db))
}

func TestApplyFraudBlockedEmitsAlertEvent(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fraud.assessment = &fraud.Assessment{
		Blocked: true,
		Reasons: []string{"amount_threshold"},
		Score:   decimal.NewFromInt(60),
		AlertID: uuid.New(),
	}
	ctx := context.Background()

	result, err := fx.service.Apply(ctx, depositEvent("TX-113", "U1", "900000.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusFailed, result.Transaction.Status)

	// The applied event and the alert event commit together.
	assert.EqualValues(t, 1, countOutboxRowsOfType(t, fx.db, enums.EventLedgerApplied))
	assert.EqualValues(t, 1, countOutboxRowsOfType(t, fx.db, enums.EventFraudAlertRaised))
	assert.EqualValues(t, 0, countOutboxRowsOfType(t, fx.db, enums.EventNotificationRequested))
}

func TestApplyInconclusiveScreeningEmitsReviewEvents(t *testing.T) {
	fx := newLedgerFixture(t)
	fx.fraud.assessment = &fraud.Assessment{
		Inconclusive: true,
		Reasons:      []string{"history_unavailable"},
		AlertID:      uuid.New(),
	}
	ctx := context.Background()

	result, err := fx.service.Apply(ctx, depositEvent("TX-114", "U1", "75.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, result.Transaction.Status)

	wallet, err := fx.service.GetWallet(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("75.00")))

	// An inconclusive screening never blocks the money but tells the user
	// the transaction is under review.
	assert.EqualValues(t, 1, countOutboxRowsOfType(t, fx.db, enums.EventLedgerApplied))
	assert.EqualValues(t, 1, countOutboxRowsOfType(t, fx.db, enums.EventFraudAlertRaised))
	assert.EqualValues(t, 1, countOutboxRowsOfType(t, fx.db, enums.EventNotificationRequested))
}

func TestApplyGatewayFailureSkipsWallet(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	event := depositEvent("TX-107", "U1", "75.00")
	event.Status = enums.PaymentStatusFailed

	result, err := fx.service.Apply(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, enums.TransactionStatusFailed, result.Transaction.Status)
	require.NotNil(t, result.Transaction.FailureReason)
	assert.Equal(t, "gateway_failed", *result.Transaction.FailureReason)

	_, err = fx.service.GetWallet(ctx, "U1")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestApplyGatewayPendingStaysPending(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	event := depositEvent("TX-108", "U1", "75.00")
	event.Status = enums.PaymentStatusPending

	result, err := fx.service.Apply(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, enums.TransactionStatusPending, result.Transaction.Status)
	assert.EqualValues(t, 0, countOutboxRows(t, fx.db))

	stored, err := fx.service.GetTransaction(ctx, "TX-108")
	require.NoError(t, err)
	assert.False(t, stored.Status.IsTerminal())
}

func TestApplyConcurrentDeliveriesCreditOnce(t *testing.T) {
	fx := newLedgerFixture(t)
	event := depositEvent("TX-109", "U1", "30.00")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = fx.service.Apply(context.Background(), event)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
		}
	}

	wallet, err := fx.service.GetWallet(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("30.00")))
	assert.EqualValues(t, 1, countOutboxRows(t, fx.db))
}

func TestApplyConcurrentDistinctDepositsSumExactly(t *testing.T) {
	fx := newLedgerFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			event := depositEvent(fmt.Sprintf("TX-120-%d", slot), "U1", "25.00")
			_, errs[slot] = fx.service.Apply(context.Background(), event)
		}(i)
	}
	wg.Wait()

	// Distinct events never collide on the claim, so every application
	// must land; the version CAS absorbs the balance races.
	for _, err := range errs {
		require.NoError(t, err)
	}

	wallet, err := fx.service.GetWallet(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("200.00")))
	assert.EqualValues(t, workers, wallet.Version)
	assert.EqualValues(t, workers, countOutboxRows(t, fx.db))
}

func TestListTransactionsPaginates(t *testing.T) {
	fx := newLedgerFixture(t)
	ctx := context.Background()

	for _, id := range []string{"TX-110", "TX-111", "TX-112"} {
		_, err := fx.service.Apply(ctx, depositEvent(id, "U1", "10.00"))
		require.NoError(t, err)
	}

	page, err := fx.service.ListTransactions(ctx, "U1", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := fx.service.ListTransactions(ctx, "U1", pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Transactions, 1)
	assert.Empty(t, rest.NextCursor)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
