package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
)

// SendRequest asks for a notification across one or more channels. An empty
// channel list falls back to the configured default channel.
type SendRequest struct {
	RecipientRef string
	Channels     []enums.NotificationChannel
	TemplateKey  string
	Variables    map[string]string
}

// SendResult aggregates the per-channel logs of one send request.
type SendResult struct {
	Status enums.NotificationStatus
	Logs   []*models.NotificationLog
}

// Service renders and delivers notifications with retry, one log per channel.
type Service interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	Resend(ctx context.Context, logID uuid.UUID) (*models.NotificationLog, error)
	Get(ctx context.Context, logID uuid.UUID) (*models.NotificationLog, error)
	List(ctx context.Context, params ListParams) (*LogList, error)
}

// ServiceParams wires the dispatcher dependencies.
type ServiceParams struct {
	Config    config.NotifyConfig
	Repo      Repository
	Registry  *Registry
	Providers []Provider
	Audit     audit.Recorder
	Logger    *logger.Logger
	Metrics   *metrics.PipelineMetrics
}

type service struct {
	cfg       config.NotifyConfig
	repo      Repository
	registry  *Registry
	providers map[enums.NotificationChannel]Provider
	audit     audit.Recorder
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
}

type storedPayload struct {
	Variables map[string]string `json:"variables"`
}

// NewService validates the parameters and returns the dispatcher.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification repository is required")
	}
	if params.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "template registry is required")
	}
	if len(params.Providers) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one channel provider is required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.Config.MaxAttempts <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "max attempts must be positive")
	}

	providers := make(map[enums.NotificationChannel]Provider, len(params.Providers))
	for _, p := range params.Providers {
		providers[p.Channel()] = p
	}
	return &service{
		cfg:       params.Config,
		repo:      params.Repo,
		registry:  params.Registry,
		providers: providers,
		audit:     params.Audit,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

func (s *service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.RecipientRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient ref is required")
	}
	if req.TemplateKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "template key is required")
	}

	channels := req.Channels
	if len(channels) == 0 {
		fallback := enums.NotificationChannel(s.cfg.DefaultChannel)
		if !fallback.IsValid() {
			fallback = enums.NotificationChannelEmail
		}
		channels = []enums.NotificationChannel{fallback}
	}
	for _, channel := range channels {
		if !channel.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown channel %q", channel))
		}
	}

	payload, err := json.Marshal(storedPayload{Variables: req.Variables})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification payload")
	}

	result := &SendResult{}
	var sent, failed int
	var dispatchErr error
	for _, channel := range channels {
		log := &models.NotificationLog{
			ID:           uuid.New(),
			RecipientRef: req.RecipientRef,
			Channel:      channel,
			TemplateKey:  req.TemplateKey,
			Payload:      payload,
			Status:       enums.NotificationStatusPending,
		}
		if err := s.repo.Create(ctx, log); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist notification log")
		}

		if err := s.dispatch(ctx, log, req.Variables); err != nil {
			failed++
			dispatchErr = multierr.Append(dispatchErr, err)
		} else {
			sent++
		}
		refreshed, loadErr := s.repo.Get(ctx, log.ID)
		if loadErr == nil && refreshed != nil {
			log = refreshed
		}
		result.Logs = append(result.Logs, log)
	}

	switch {
	case failed == 0:
		result.Status = enums.NotificationStatusSent
	case sent == 0:
		result.Status = enums.NotificationStatusFailed
	default:
		result.Status = enums.NotificationStatusPartial
	}
	return result, dispatchErr
}

// dispatch renders and delivers one log, retrying transient provider failures
// with capped exponential backoff. Render failures never retry.
func (s *service) dispatch(ctx context.Context, log *models.NotificationLog, vars map[string]string) error {
	started := time.Now()
	ctx = s.logg.WithNotificationID(ctx, log.ID.String())
	channel := string(log.Channel)

	rendered, err := s.registry.Render(log.TemplateKey, log.Channel, vars)
	if err != nil {
		msg := err.Error()
		if updateErr := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusFailed, &msg); updateErr != nil {
			s.logg.Error(ctx, "failed to mark notification log", updateErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "render_failed", map[string]string{
			"template": log.TemplateKey,
			"channel":  channel,
		})
		s.metrics.IncDispatchAttempt(channel, "render_failed")
		return err
	}

	provider, ok := s.providers[log.Channel]
	if !ok {
		msg := fmt.Sprintf("no provider configured for channel %s", channel)
		if updateErr := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusFailed, &msg); updateErr != nil {
			s.logg.Error(ctx, "failed to mark notification log", updateErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "failed", map[string]string{"reason": msg})
		return pkgerrors.New(pkgerrors.CodeDeliveryFailed, msg)
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.WithCappedDuration(s.cfg.MaxBackoff, retry.NewExponential(s.cfg.BaseBackoff)))
	deliverErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptErr := s.deliverOnce(ctx, provider, log, rendered)
		if attemptErr != nil {
			return retry.RetryableError(attemptErr)
		}
		return nil
	})

	if deliverErr != nil {
		msg := deliverErr.Error()
		if updateErr := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusFailed, &msg); updateErr != nil {
			s.logg.Error(ctx, "failed to mark notification log", updateErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "failed", map[string]string{
			"channel": channel,
			"error":   msg,
		})
		s.metrics.ObserveDispatchDuration(channel, time.Since(started))
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, deliverErr, "notification delivery exhausted retries")
	}

	if err := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusSent, nil); err != nil {
		s.logg.Error(ctx, "failed to mark notification log", err)
	}
	s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "sent", map[string]string{"channel": channel})
	s.metrics.ObserveDispatchDuration(channel, time.Since(started))
	return nil
}

// deliverOnce makes exactly one provider call and records the attempt.
func (s *service) deliverOnce(ctx context.Context, provider Provider, log *models.NotificationLog, rendered *Rendered) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	err := provider.Deliver(callCtx, DeliveryRequest{
		RecipientRef: log.RecipientRef,
		Title:        rendered.Title,
		Content:      rendered.Content,
	})

	channel := string(log.Channel)
	if err != nil {
		msg := err.Error()
		if recordErr := s.repo.RecordAttempt(ctx, log.ID, &msg); recordErr != nil {
			s.logg.Error(ctx, "failed to record dispatch attempt", recordErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "attempt_failed", map[string]string{
			"channel": channel,
			"error":   msg,
		})
		s.metrics.IncDispatchAttempt(channel, "failed")
		return err
	}

	if recordErr := s.repo.RecordAttempt(ctx, log.ID, nil); recordErr != nil {
		s.logg.Error(ctx, "failed to record dispatch attempt", recordErr)
	}
	s.metrics.IncDispatchAttempt(channel, "sent")
	return nil
}

// Resend issues exactly one extra attempt for a prior log using its stored
// variables. Attempts increase regardless of outcome; sent logs are terminal.
func (s *service) Resend(ctx context.Context, logID uuid.UUID) (*models.NotificationLog, error) {
	log, err := s.repo.Get(ctx, logID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification log")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification log not found")
	}
	if log.Status == enums.NotificationStatusSent {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "notification already sent")
	}

	var stored storedPayload
	if err := json.Unmarshal(log.Payload, &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored payload")
	}

	ctx = s.logg.WithNotificationID(ctx, log.ID.String())
	rendered, renderErr := s.registry.Render(log.TemplateKey, log.Channel, stored.Variables)
	if renderErr != nil {
		msg := renderErr.Error()
		if recordErr := s.repo.RecordAttempt(ctx, log.ID, &msg); recordErr != nil {
			s.logg.Error(ctx, "failed to record dispatch attempt", recordErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "render_failed", nil)
		return s.refresh(ctx, log.ID, renderErr)
	}

	provider, ok := s.providers[log.Channel]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryFailed, fmt.Sprintf("no provider configured for channel %s", log.Channel))
	}

	deliverErr := s.deliverOnce(ctx, provider, log, rendered)
	if deliverErr != nil {
		msg := deliverErr.Error()
		if updateErr := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusFailed, &msg); updateErr != nil {
			s.logg.Error(ctx, "failed to mark notification log", updateErr)
		}
		s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "failed", map[string]string{"error": msg})
		return s.refresh(ctx, log.ID, nil)
	}

	if err := s.repo.UpdateStatus(ctx, log.ID, enums.NotificationStatusSent, nil); err != nil {
		s.logg.Error(ctx, "failed to mark notification log", err)
	}
	s.audit.Record(ctx, enums.AuditStageDispatch, log.ID.String(), "sent", map[string]string{"resend": "true"})
	return s.refresh(ctx, log.ID, nil)
}

func (s *service) refresh(ctx context.Context, id uuid.UUID, pending error) (*models.NotificationLog, error) {
	log, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload notification log")
	}
	return log, pending
}

func (s *service) Get(ctx context.Context, logID uuid.UUID) (*models.NotificationLog, error) {
	log, err := s.repo.Get(ctx, logID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification log")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "notification log not found")
	}
	return log, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*LogList, error) {
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid date range")
	}
	return s.repo.List(ctx, params)
}
