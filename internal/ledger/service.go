package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/internal/fraud"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/internal/notify"
	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

const (
	occMaxRetries  = 5
	occBaseBackoff = 10 * time.Millisecond

	reasonGatewayFailed       = "gateway_failed"
	reasonFraudBlocked        = "fraud_blocked"
	reasonInsufficientBalance = "insufficient_balance"
)

var errInsufficientBalance = errors.New("insufficient balance")

// Result is the outcome of applying a canonical event to the ledger.
type Result struct {
	Transaction *models.WalletTransaction
	// Replayed is true when the event id had already reached a terminal
	// state and this application was a no-op.
	Replayed bool
	// BalanceAfter is set when the transaction completed.
	BalanceAfter *decimal.Decimal
}

// Service applies canonical events to wallet balances exactly once.
type Service interface {
	Apply(ctx context.Context, event *gateway.LedgerEvent) (*Result, error)
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	GetTransaction(ctx context.Context, id string) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, userID string, params pagination.Params) (*TransactionList, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the ledger engine dependencies.
type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Fraud   fraud.Service
	Outbox  *outbox.Service
	Audit   audit.Recorder
	Logger  *logger.Logger
	Metrics *metrics.PipelineMetrics
}

type service struct {
	db      txRunner
	repo    Repository
	fraud   fraud.Service
	outbox  *outbox.Service
	audit   audit.Recorder
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
}

// NewService validates the parameters and returns the ledger engine.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository is required")
	}
	if params.Fraud == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fraud guard is required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service is required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		fraud:   params.Fraud,
		outbox:  params.Outbox,
		audit:   params.Audit,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) Apply(ctx context.Context, event *gateway.LedgerEvent) (*Result, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	started := time.Now()
	ctx = s.logg.WithTransactionID(ctx, event.ID)

	// Replay short-circuit: a terminal transaction is the idempotency
	// contract for at-least-once webhook delivery.
	existing, err := s.repo.GetTransaction(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if existing != nil && existing.Status.IsTerminal() {
		s.audit.Record(ctx, enums.AuditStageLedger, event.ID, "replay", nil)
		s.metrics.IncLedgerResult(string(event.Type), "replay")
		return &Result{Transaction: existing, Replayed: true}, nil
	}

	claimed, pending, err := s.claim(ctx, event)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the claim race. The winner's row decides: terminal means
		// replay, non-terminal means the first application is still running.
		current, err := s.repo.GetTransaction(ctx, event.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read back claimed transaction")
		}
		if current != nil && current.Status.IsTerminal() {
			s.audit.Record(ctx, enums.AuditStageLedger, event.ID, "replay", nil)
			s.metrics.IncLedgerResult(string(event.Type), "replay")
			return &Result{Transaction: current, Replayed: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction application in flight")
	}

	result, err := s.applyClaimed(ctx, event)
	if err != nil {
		return nil, err
	}
	if result.Transaction == nil {
		result.Transaction = pending
	}
	s.metrics.IncLedgerResult(string(event.Type), string(result.Transaction.Status))
	s.metrics.ObserveLedgerDuration(string(event.Type), time.Since(started))
	return result, nil
}

func (s *service) claim(ctx context.Context, event *gateway.LedgerEvent) (bool, *models.WalletTransaction, error) {
	meta, err := encodeMeta(event.Meta)
	if err != nil {
		return false, nil, err
	}
	pending := &models.WalletTransaction{
		ID:       event.ID,
		UserID:   event.UserID,
		Type:     event.Type,
		Amount:   event.Amount,
		Currency: event.Currency,
		Status:   enums.TransactionStatusPending,
		Metadata: meta,
	}
	claimed, err := s.repo.ClaimTransaction(ctx, pending)
	if err != nil {
		return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim transaction")
	}
	if claimed {
		s.audit.Record(ctx, enums.AuditStageLedger, event.ID, "pending", map[string]string{
			"type":   string(event.Type),
			"amount": event.Amount.String(),
		})
	}
	return claimed, pending, nil
}

func (s *service) applyClaimed(ctx context.Context, event *gateway.LedgerEvent) (*Result, error) {
	switch event.Status {
	case enums.PaymentStatusFailed:
		return s.finalizeFailed(ctx, event, enums.TransactionStatusPending, reasonGatewayFailed, nil)
	case enums.PaymentStatusPending:
		// The gateway has not settled yet; a later webhook finishes the job.
		return &Result{}, nil
	}

	assessment, err := s.fraud.Evaluate(ctx, event)
	if err != nil {
		return nil, err
	}
	if assessment.Blocked {
		reason := reasonFraudBlocked
		if len(assessment.Reasons) > 0 {
			reason = reasonFraudBlocked + ":" + strings.Join(assessment.Reasons, ",")
		}
		return s.finalizeFailed(ctx, event, enums.TransactionStatusPending, reason, assessment)
	}

	confirmed, err := s.repo.TransitionStatus(ctx, event.ID, enums.TransactionStatusPending, enums.TransactionStatusConfirmed, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm transaction")
	}
	if !confirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction left pending state concurrently")
	}
	s.audit.Record(ctx, enums.AuditStageLedger, event.ID, "confirmed", nil)

	balanceAfter, err := s.settle(ctx, event, assessment)
	if errors.Is(err, errInsufficientBalance) {
		return s.finalizeFailed(ctx, event, enums.TransactionStatusConfirmed, reasonInsufficientBalance, assessment)
	}
	if err != nil {
		return nil, err
	}

	final, err := s.repo.GetTransaction(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completed transaction")
	}
	return &Result{Transaction: final, BalanceAfter: balanceAfter}, nil
}

// settle moves the wallet balance and completes the transaction in one
// database transaction, retrying on wallet version conflicts.
func (s *service) settle(ctx context.Context, event *gateway.LedgerEvent, assessment *fraud.Assessment) (*decimal.Decimal, error) {
	var balanceAfter decimal.Decimal

	backoff := retry.WithMaxRetries(occMaxRetries, retry.NewExponential(occBaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			wallet, err := repo.EnsureWallet(ctx, event.UserID)
			if err != nil {
				return err
			}

			next := wallet.Balance.Add(event.Amount)
			if !event.Type.Credits() {
				next = wallet.Balance.Sub(event.Amount)
				if next.IsNegative() {
					return errInsufficientBalance
				}
			}

			swapped, err := repo.UpdateWalletBalance(ctx, wallet.ID, next, wallet.Version)
			if err != nil {
				return err
			}
			if !swapped {
				return retry.RetryableError(errors.New("wallet version conflict"))
			}

			completed, err := repo.TransitionStatus(ctx, event.ID, enums.TransactionStatusConfirmed, enums.TransactionStatusCompleted, nil)
			if err != nil {
				return err
			}
			if !completed {
				return errors.New("transaction left confirmed state concurrently")
			}

			if err := s.audit.RecordTx(ctx, tx, enums.AuditStageLedger, event.ID, "completed", map[string]string{
				"balance_after": next.String(),
			}); err != nil {
				return err
			}

			balanceAfter = next
			if err := s.emitApplied(ctx, tx, event, enums.TransactionStatusCompleted, next.String(), nil); err != nil {
				return err
			}
			return s.emitAlertEvents(ctx, tx, event, assessment)
		})
	})
	if err != nil {
		if errors.Is(err, errInsufficientBalance) {
			return nil, errInsufficientBalance
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle wallet balance")
	}
	return &balanceAfter, nil
}

// finalizeFailed parks the transaction in FAILED and still emits the applied
// event: a failed financial event leaves a trace and notifies the user.
func (s *service) finalizeFailed(ctx context.Context, event *gateway.LedgerEvent, from enums.TransactionStatus, reason string, assessment *fraud.Assessment) (*Result, error) {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.TransitionStatus(ctx, event.ID, from, enums.TransactionStatusFailed, &reason)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction state changed concurrently")
		}
		if err := s.audit.RecordTx(ctx, tx, enums.AuditStageLedger, event.ID, "failed", map[string]string{
			"reason": reason,
		}); err != nil {
			return err
		}
		if err := s.emitApplied(ctx, tx, event, enums.TransactionStatusFailed, "", &reason); err != nil {
			return err
		}
		return s.emitAlertEvents(ctx, tx, event, assessment)
	})
	if err != nil {
		return nil, err
	}

	final, loadErr := s.repo.GetTransaction(ctx, event.ID)
	if loadErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "load failed transaction")
	}
	return &Result{Transaction: final}, nil
}

func (s *service) emitApplied(ctx context.Context, tx *gorm.DB, event *gateway.LedgerEvent, status enums.TransactionStatus, balanceAfter string, failureReason *string) error {
	payload := payloads.LedgerAppliedEvent{
		TransactionID: event.ID,
		UserID:        event.UserID,
		Type:          event.Type,
		Amount:        event.Amount.String(),
		Currency:      event.Currency,
		Status:        status,
		BalanceAfter:  balanceAfter,
		FailureReason: failureReason,
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLedgerApplied,
		AggregateType: enums.AggregateWalletTransaction,
		AggregateID:   event.ID,
		Actor:         &outbox.ActorRef{UserID: event.UserID},
		Data:          payload,
		Version:       1,
	})
}

// emitAlertEvents queues the fraud alert recorded during this application
// and, for inconclusive screenings, a review notice to the user. Both ride
// the same transaction as the terminal transition.
func (s *service) emitAlertEvents(ctx context.Context, tx *gorm.DB, event *gateway.LedgerEvent, assessment *fraud.Assessment) error {
	if assessment == nil || assessment.AlertID == uuid.Nil {
		return nil
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventFraudAlertRaised,
		AggregateType: enums.AggregateWalletTransaction,
		AggregateID:   event.ID,
		Actor:         &outbox.ActorRef{UserID: event.UserID},
		Data: payloads.FraudAlertRaisedEvent{
			AlertID:       assessment.AlertID,
			TransactionID: event.ID,
			UserID:        event.UserID,
			Reason:        strings.Join(assessment.Reasons, ","),
			Score:         assessment.Score.String(),
			Status:        enums.FraudAlertStatusOpen,
		},
		Version: 1,
	}); err != nil {
		return err
	}

	if !assessment.Inconclusive {
		return nil
	}
	notificationID := uuid.New()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   notificationID.String(),
		Actor:         &outbox.ActorRef{UserID: event.UserID},
		Data: payloads.NotificationRequestedEvent{
			NotificationID: notificationID,
			RecipientRef:   event.UserID,
			TemplateKey:    notify.TemplateTransactionReview,
			Variables: map[string]string{
				"transaction_id": event.ID,
				"amount":         event.Amount.String(),
				"currency":       string(event.Currency),
			},
		},
		Version: 1,
	})
}

func (s *service) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if wallet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	return wallet, nil
}

func (s *service) GetTransaction(ctx context.Context, id string) (*models.WalletTransaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, userID string, params pagination.Params) (*TransactionList, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListTransactions(ctx, userID, params)
}

func encodeMeta(meta map[string]string) (json.RawMessage, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode metadata")
	}
	return raw, nil
}
