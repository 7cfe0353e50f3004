package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/paywallet-backend/api/responses"
	"github.com/angelmondragon/paywallet-backend/api/validators"
	"github.com/angelmondragon/paywallet-backend/internal/notify"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

type sendNotificationRequest struct {
	RecipientRef string            `json:"recipientRef" validate:"required"`
	Channels     []string          `json:"channels,omitempty"`
	TemplateKey  string            `json:"templateKey" validate:"required"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// SendNotification dispatches a notification on behalf of another service.
func SendNotification(svc notify.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}

		var body sendNotificationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := notify.SendRequest{
			RecipientRef: validators.SanitizeString(body.RecipientRef, 256),
			TemplateKey:  validators.SanitizeString(body.TemplateKey, 128),
			Variables:    body.Variables,
		}
		for _, raw := range body.Channels {
			channel := enums.NotificationChannel(strings.ToLower(strings.TrimSpace(raw)))
			if !channel.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown channel").WithDetails(map[string]string{"channel": raw}))
				return
			}
			req.Channels = append(req.Channels, channel)
		}

		result, err := svc.Send(r.Context(), req)
		if err != nil && result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Partial and failed dispatches still return the logs; the rows
		// carry the per-channel outcome and stay eligible for resend.
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ResendNotification issues one more dispatch attempt for a prior log.
func ResendNotification(svc notify.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}

		logID, err := uuid.Parse(chi.URLParam(r, "logId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid log id"))
			return
		}

		log, err := svc.Resend(r.Context(), logID)
		if err != nil && log == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, log)
	}
}

// GetNotification returns one notification log.
func GetNotification(svc notify.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}

		logID, err := uuid.Parse(chi.URLParam(r, "logId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid log id"))
			return
		}

		log, err := svc.Get(r.Context(), logID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, log)
	}
}

// ListNotifications returns paginated notification logs with filters.
func ListNotifications(svc notify.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}

		params := notify.ListParams{
			RecipientRef: strings.TrimSpace(r.URL.Query().Get("recipientRef")),
			Pagination: pagination.Params{
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Pagination.Limit = value
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("channel")); raw != "" {
			channel := enums.NotificationChannel(strings.ToLower(raw))
			if !channel.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown channel"))
				return
			}
			params.Channel = &channel
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseNotificationStatus(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown status"))
				return
			}
			params.Status = &status
		}

		var parseErr error
		if params.From, parseErr = parseTimeParam(r, "from"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		}
		if params.To, parseErr = parseTimeParam(r, "to"); parseErr != nil {
			responses.WriteError(r.Context(), logg, w, parseErr)
			return
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid timestamp").WithDetails(map[string]string{"field": key})
	}
	return &value, nil
}
