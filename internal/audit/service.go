package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

// Recorder is the write-side contract injected into every pipeline stage.
type Recorder interface {
	// Record appends an audit entry best-effort. Failures are logged and
	// swallowed so the money path never stalls on the audit trail.
	Record(ctx context.Context, stage enums.AuditStage, correlationID, outcome string, detail any)
	// RecordTx appends an audit entry inside the caller's transaction and
	// returns the write error, for entries that must commit with the ledger.
	RecordTx(ctx context.Context, tx *gorm.DB, stage enums.AuditStage, correlationID, outcome string, detail any) error
}

// Service exposes the audit trail for recording and reconciliation queries.
type Service interface {
	Recorder
	ListByCorrelation(ctx context.Context, correlationID string) ([]models.AuditEntry, error)
	ListByTimeRange(ctx context.Context, from, to time.Time, params pagination.Params) (*EntryList, error)
}

// ServiceParams wires the audit service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates the parameters and returns the audit service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repository is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) Record(ctx context.Context, stage enums.AuditStage, correlationID, outcome string, detail any) {
	entry, err := buildEntry(stage, correlationID, outcome, detail)
	if err != nil {
		s.logg.Error(ctx, "audit detail marshal failed", err)
		return
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		fields := map[string]any{
			"stage":          stage,
			"correlation_id": correlationID,
			"outcome":        outcome,
		}
		s.logg.Error(s.logg.WithFields(ctx, fields), "audit write failed", err)
	}
}

func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, stage enums.AuditStage, correlationID, outcome string, detail any) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	entry, err := buildEntry(stage, correlationID, outcome, detail)
	if err != nil {
		return err
	}
	return s.repo.WithTx(tx).Create(ctx, entry)
}

func (s *service) ListByCorrelation(ctx context.Context, correlationID string) ([]models.AuditEntry, error) {
	if correlationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "correlation id is required")
	}
	return s.repo.ListByCorrelationID(ctx, correlationID)
}

func (s *service) ListByTimeRange(ctx context.Context, from, to time.Time, params pagination.Params) (*EntryList, error) {
	if !to.After(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "time range end must be after start")
	}
	return s.repo.ListByTimeRange(ctx, from, to, params)
}

func buildEntry(stage enums.AuditStage, correlationID, outcome string, detail any) (*models.AuditEntry, error) {
	if !stage.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid audit stage")
	}
	if correlationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "correlation id is required")
	}
	if outcome == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome is required")
	}

	entry := &models.AuditEntry{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Stage:         stage,
		Outcome:       outcome,
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal audit detail")
		}
		entry.Detail = raw
	}
	return entry, nil
}
