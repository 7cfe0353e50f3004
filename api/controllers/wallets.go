package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paywallet-backend/api/responses"
	"github.com/angelmondragon/paywallet-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

type walletResponse struct {
	UserID   string `json:"userId"`
	Balance  string `json:"balance"`
	Version  int64  `json:"version"`
	Currency string `json:"currency,omitempty"`
}

// WalletFetch returns the current balance for one user.
func WalletFetch(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := chi.URLParam(r, "userId")
		wallet, err := svc.GetWallet(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletResponse{
			UserID:  wallet.UserID,
			Balance: wallet.Balance.String(),
			Version: wallet.Version,
		})
	}
}

// WalletTransactions lists a user's ledger history, newest first.
func WalletTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := chi.URLParam(r, "userId")
		params := pagination.Params{
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Limit = value
		}

		list, err := svc.ListTransactions(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// TransactionFetch returns a single ledger transaction by its gateway ref.
func TransactionFetch(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		txn, err := svc.GetTransaction(r.Context(), chi.URLParam(r, "transactionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}
