package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paywallet-backend/api/responses"
	"github.com/angelmondragon/paywallet-backend/internal/audit"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

// AuditByCorrelation returns the full trail for one transaction or
// notification, oldest first. Reconciliation reads this to replay what the
// pipeline decided and when.
func AuditByCorrelation(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		correlationID := strings.TrimSpace(chi.URLParam(r, "correlationId"))
		if correlationID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "correlation id is required"))
			return
		}

		entries, err := svc.ListByCorrelation(r.Context(), correlationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// AuditByTimeRange returns a paginated window of audit entries.
func AuditByTimeRange(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		from, err := parseTimeParam(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := parseTimeParam(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if from == nil || to == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "from and to are required"))
			return
		}

		params := pagination.Params{
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, convErr := strconv.Atoi(limitStr)
			if convErr != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Limit = value
		}

		list, err := svc.ListByTimeRange(r.Context(), *from, *to, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
