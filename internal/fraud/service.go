package fraud

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
)

const (
	ReasonAmountThreshold    = "amount_threshold"
	ReasonVelocity           = "velocity"
	ReasonAverageMultiple    = "average_multiple"
	ReasonHistoryUnavailable = "history_unavailable"

	historyLookback = 24 * time.Hour
	minAvgSamples   = 3
)

var ruleWeights = map[string]int64{
	ReasonAmountThreshold: 60,
	ReasonVelocity:        30,
	ReasonAverageMultiple: 40,
}

// Assessment is the outcome of screening a canonical event. AlertID is set
// when an open alert row was recorded for this event, so the caller can emit
// the alert on its own transaction boundary.
type Assessment struct {
	Score        decimal.Decimal
	Blocked      bool
	Inconclusive bool
	Reasons      []string
	AlertID      uuid.UUID
}

// Service screens canonical events against deterministic rules before the
// ledger commits them.
type Service interface {
	Evaluate(ctx context.Context, event *gateway.LedgerEvent) (*Assessment, error)
}

// ServiceParams wires the fraud guard dependencies.
type ServiceParams struct {
	Config  config.FraudConfig
	History HistoryRepository
	Alerts  AlertRepository
	Audit   audit.Recorder
	Logger  *logger.Logger
	Metrics *metrics.PipelineMetrics
}

type service struct {
	cfg       config.FraudConfig
	threshold decimal.Decimal
	history   HistoryRepository
	alerts    AlertRepository
	audit     audit.Recorder
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
}

// NewService validates the parameters and returns the fraud guard.
func NewService(params ServiceParams) (Service, error) {
	if params.History == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "history repository is required")
	}
	if params.Alerts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alert repository is required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	threshold, err := decimal.NewFromString(params.Config.AmountThreshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse fraud amount threshold")
	}
	return &service{
		cfg:       params.Config,
		threshold: threshold,
		history:   params.History,
		alerts:    params.Alerts,
		audit:     params.Audit,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

func (s *service) Evaluate(ctx context.Context, event *gateway.LedgerEvent) (*Assessment, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}

	history, err := s.fetchHistory(ctx, event.UserID)
	if err != nil {
		// A fraud subsystem outage must never block a legitimate payment.
		// The transaction proceeds and an open alert queues it for review.
		s.logg.Warn(s.logg.WithTransactionID(ctx, event.ID), "fraud history lookup failed, flagging for review")
		assessment := &Assessment{Inconclusive: true, Reasons: []string{ReasonHistoryUnavailable}}
		s.raiseAlert(ctx, event, assessment, ReasonHistoryUnavailable)
		s.audit.Record(ctx, enums.AuditStageFraud, event.ID, "inconclusive", map[string]any{"reason": ReasonHistoryUnavailable})
		return assessment, nil
	}

	assessment := s.applyRules(event, history)
	if assessment.Blocked {
		s.raiseAlert(ctx, event, assessment, strings.Join(assessment.Reasons, ","))
		s.audit.Record(ctx, enums.AuditStageFraud, event.ID, "blocked", map[string]any{
			"score":   assessment.Score.String(),
			"reasons": assessment.Reasons,
		})
		return assessment, nil
	}

	s.audit.Record(ctx, enums.AuditStageFraud, event.ID, "passed", map[string]any{"score": assessment.Score.String()})
	return assessment, nil
}

func (s *service) fetchHistory(ctx context.Context, userID string) ([]models.WalletTransaction, error) {
	timeout := s.cfg.HistoryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	return s.history.RecentTransactions(lookupCtx, userID, time.Now().Add(-historyLookback), limit)
}

func (s *service) applyRules(event *gateway.LedgerEvent, history []models.WalletTransaction) *Assessment {
	assessment := &Assessment{Score: decimal.Zero}

	if event.Amount.GreaterThan(s.threshold) {
		s.fire(assessment, ReasonAmountThreshold)
	}

	windowStart := time.Now().Add(-s.cfg.VelocityWindow)
	inWindow := 0
	var completedSum decimal.Decimal
	completedCount := 0
	for _, txn := range history {
		if txn.ID == event.ID {
			continue
		}
		if txn.CreatedAt.After(windowStart) {
			inWindow++
		}
		if txn.Status == enums.TransactionStatusCompleted {
			completedSum = completedSum.Add(txn.Amount)
			completedCount++
		}
	}

	if s.cfg.VelocityCap > 0 && inWindow >= s.cfg.VelocityCap {
		s.fire(assessment, ReasonVelocity)
	}

	if s.cfg.AverageMultiple > 0 && completedCount >= minAvgSamples {
		avg := completedSum.Div(decimal.NewFromInt(int64(completedCount)))
		limit := avg.Mul(decimal.NewFromInt(int64(s.cfg.AverageMultiple)))
		if event.Amount.GreaterThan(limit) {
			s.fire(assessment, ReasonAverageMultiple)
		}
	}

	return assessment
}

func (s *service) fire(assessment *Assessment, reason string) {
	assessment.Blocked = true
	assessment.Reasons = append(assessment.Reasons, reason)
	assessment.Score = assessment.Score.Add(decimal.NewFromInt(ruleWeights[reason]))
}

func (s *service) raiseAlert(ctx context.Context, event *gateway.LedgerEvent, assessment *Assessment, reason string) {
	alert := &models.FraudAlert{
		ID:            uuid.New(),
		TransactionID: event.ID,
		UserID:        event.UserID,
		Reason:        reason,
		Score:         assessment.Score,
		Status:        enums.FraudAlertStatusOpen,
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		s.logg.Error(s.logg.WithTransactionID(ctx, event.ID), "fraud alert write failed", err)
		return
	}
	assessment.AlertID = alert.ID
	s.metrics.IncFraudAlert(reason)
}
