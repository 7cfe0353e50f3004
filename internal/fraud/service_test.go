package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
)

type stubHistory struct {
	txns  []models.WalletTransaction
	delay time.Duration
}

func (s *stubHistory) RecentTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]models.WalletTransaction, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.txns, nil
}

type captureAlerts struct {
	alerts []models.FraudAlert
}

func (c *captureAlerts) WithTx(tx *gorm.DB) AlertRepository { return c }

func (c *captureAlerts) Create(ctx context.Context, alert *models.FraudAlert) error {
	c.alerts = append(c.alerts, *alert)
	return nil
}

func (c *captureAlerts) ListByTransactionID(ctx context.Context, transactionID string) ([]models.FraudAlert, error) {
	return c.alerts, nil
}

func (c *captureAlerts) UpdateStatus(ctx context.Context, alertID string, status enums.FraudAlertStatus) error {
	return nil
}

type noopRecorder struct {
	outcomes []string
}

func (n *noopRecorder) Record(ctx context.Context, stage enums.AuditStage, correlationID, outcome string, detail any) {
	n.outcomes = append(n.outcomes, outcome)
}

func (n *noopRecorder) RecordTx(ctx context.Context, tx *gorm.DB, stage enums.AuditStage, correlationID, outcome string, detail any) error {
	n.Record(ctx, stage, correlationID, outcome, detail)
	return nil
}

func defaultFraudConfig() config.FraudConfig {
	return config.FraudConfig{
		AmountThreshold: "500000",
		VelocityWindow:  10 * time.Minute,
		VelocityCap:     5,
		AverageMultiple: 10,
		HistoryTimeout:  2 * time.Second,
		HistoryLimit:    50,
	}
}

func newGuard(t *testing.T, cfg config.FraudConfig, history HistoryRepository, alerts AlertRepository, recorder *noopRecorder) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:  cfg,
		History: history,
		Alerts:  alerts,
		Audit:   recorder,
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
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

func completedTxn(id, userID, amount string, created time.Time) models.WalletTransaction {
	return models.WalletTransaction{
		ID:        id,
		UserID:    userID,
		Type:      enums.TransactionTypeDeposit,
		Amount:    decimal.RequireFromString(amount),
		Currency:  enums.CurrencyNGN,
		Status:    enums.TransactionStatusCompleted,
		CreatedAt: created,
	}
}

func TestEvaluatePassesCleanEvent(t *testing.T) {
	alerts := &captureAlerts{}
	recorder := &noopRecorder{}
	guard := newGuard(t, defaultFraudConfig(), &stubHistory{}, alerts, recorder)

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-1", "U1", "100.00"))
	require.NoError(t, err)

	assert.False(t, assessment.Blocked)
	assert.False(t, assessment.Inconclusive)
	assert.Empty(t, alerts.alerts)
	assert.Equal(t, []string{"passed"}, recorder.outcomes)
}

func TestEvaluateBlocksOverThreshold(t *testing.T) {
	alerts := &captureAlerts{}
	recorder := &noopRecorder{}
	guard := newGuard(t, defaultFraudConfig(), &stubHistory{}, alerts, recorder)

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-2", "U1", "500000.01"))
	require.NoError(t, err)

	assert.True(t, assessment.Blocked)
	assert.Contains(t, assessment.Reasons, ReasonAmountThreshold)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, "TX-2", alerts.alerts[0].TransactionID)
	assert.Equal(t, enums.FraudAlertStatusOpen, alerts.alerts[0].Status)
	assert.Equal(t, alerts.alerts[0].ID, assessment.AlertID)
	assert.Equal(t, []string{"blocked"}, recorder.outcomes)
}

func TestEvaluateBlocksOnVelocity(t *testing.T) {
	now := time.Now()
	history := &stubHistory{}
	for i := 0; i < 5; i++ {
		history.txns = append(history.txns, completedTxn(
			"TX-old", "U1", "10.00", now.Add(-time.Duration(i)*time.Minute)))
	}

	alerts := &captureAlerts{}
	guard := newGuard(t, defaultFraudConfig(), history, alerts, &noopRecorder{})

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-3", "U1", "10.00"))
	require.NoError(t, err)

	assert.True(t, assessment.Blocked)
	assert.Contains(t, assessment.Reasons, ReasonVelocity)
}

func TestEvaluateIgnoresTransactionsOutsideWindow(t *testing.T) {
	now := time.Now()
	history := &stubHistory{}
	for i := 0; i < 5; i++ {
		history.txns = append(history.txns, completedTxn(
			"TX-old", "U1", "10.00", now.Add(-time.Duration(i+1)*time.Hour)))
	}

	guard := newGuard(t, defaultFraudConfig(), history, &captureAlerts{}, &noopRecorder{})

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-4", "U1", "10.00"))
	require.NoError(t, err)
	assert.False(t, assessment.Blocked)
}

func TestEvaluateBlocksLargeMultipleOfAverage(t *testing.T) {
	now := time.Now()
	history := &stubHistory{txns: []models.WalletTransaction{
		completedTxn("TX-a", "U1", "100.00", now.Add(-5*time.Hour)),
		completedTxn("TX-b", "U1", "120.00", now.Add(-4*time.Hour)),
		completedTxn("TX-c", "U1", "80.00", now.Add(-3*time.Hour)),
	}}

	alerts := &captureAlerts{}
	guard := newGuard(t, defaultFraudConfig(), history, alerts, &noopRecorder{})

	// average 100, multiple 10 -> limit 1000
	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-5", "U1", "1500.00"))
	require.NoError(t, err)

	assert.True(t, assessment.Blocked)
	assert.Contains(t, assessment.Reasons, ReasonAverageMultiple)
}

func TestEvaluateAverageRuleNeedsSamples(t *testing.T) {
	now := time.Now()
	history := &stubHistory{txns: []models.WalletTransaction{
		completedTxn("TX-a", "U1", "5.00", now.Add(-5*time.Hour)),
	}}

	guard := newGuard(t, defaultFraudConfig(), history, &captureAlerts{}, &noopRecorder{})

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-6", "U1", "400.00"))
	require.NoError(t, err)
	assert.False(t, assessment.Blocked)
}

func TestEvaluateTimeoutIsInconclusiveNotBlocked(t *testing.T) {
	cfg := defaultFraudConfig()
	cfg.HistoryTimeout = 20 * time.Millisecond

	alerts := &captureAlerts{}
	recorder := &noopRecorder{}
	guard := newGuard(t, cfg, &stubHistory{delay: 500 * time.Millisecond}, alerts, recorder)

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-7", "U1", "50.00"))
	require.NoError(t, err)

	assert.False(t, assessment.Blocked)
	assert.True(t, assessment.Inconclusive)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, ReasonHistoryUnavailable, alerts.alerts[0].Reason)
	assert.Equal(t, enums.FraudAlertStatusOpen, alerts.alerts[0].Status)
	assert.NotEqual(t, uuid.Nil, assessment.AlertID)
	assert.Equal(t, []string{"inconclusive"}, recorder.outcomes)
}

func TestEvaluateScoreAccumulates(t *testing.T) {
	now := time.Now()
	history := &stubHistory{}
	for i := 0; i < 6; i++ {
		history.txns = append(history.txns, completedTxn(
			"TX-old", "U1", "100.00", now.Add(-time.Duration(i)*time.Minute)))
	}

	guard := newGuard(t, defaultFraudConfig(), history, &captureAlerts{}, &noopRecorder{})

	assessment, err := guard.Evaluate(context.Background(), depositEvent("TX-8", "U1", "600000.00"))
	require.NoError(t, err)

	assert.True(t, assessment.Blocked)
	assert.True(t, assessment.Score.GreaterThanOrEqual(decimal.NewFromInt(90)), "score %s", assessment.Score)
}
