package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/paywallet-backend/api/responses"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/internal/ledger"
	"github.com/angelmondragon/paywallet-backend/internal/signature"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
)

type webhookGuard interface {
	CheckAndMark(ctx context.Context, txRef string) (bool, error)
	Delete(ctx context.Context, txRef string) error
}

type webhookResponse struct {
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status"`
}

// GatewayWebhook authenticates and applies payment gateway events. The
// gateway delivers at least once; duplicates answer 200 without re-applying.
func GatewayWebhook(verifier *signature.Verifier, normalizer *gateway.Normalizer, ledgerSvc ledger.Service, guard webhookGuard, pipelineMetrics *metrics.PipelineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if verifier == nil || normalizer == nil || ledgerSvc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		payload, decodeErr := gateway.Decode(body)
		correlationID := "unparsed"
		if decodeErr == nil && payload.Data.TxRef != "" {
			correlationID = payload.Data.TxRef
		}
		ctx = logg.WithTransactionID(ctx, correlationID)

		if err := verifier.Verify(ctx, correlationID, body, r.Header.Get(verifier.Header())); err != nil {
			pipelineMetrics.IncWebhookResult("rejected")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if decodeErr != nil {
			pipelineMetrics.IncWebhookResult("malformed")
			responses.WriteError(ctx, logg, w, decodeErr)
			return
		}

		txRef := payload.Data.TxRef
		if txRef == "" {
			pipelineMetrics.IncWebhookResult("malformed")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tx_ref is required"))
			return
		}

		alreadySeen, err := guard.CheckAndMark(ctx, txRef)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadySeen {
			// The redis key alone cannot prove the event was applied: a crash
			// between the mark and the ledger commit leaves the key with no
			// transaction row behind it. Only a terminal row settles the
			// duplicate answer; anything else re-applies, which the ledger's
			// pending-row claim makes safe.
			existing, lookupErr := ledgerSvc.GetTransaction(ctx, txRef)
			switch {
			case lookupErr == nil && existing.Status.IsTerminal():
				pipelineMetrics.IncWebhookResult("duplicate")
				responses.WriteSuccess(w, webhookResponse{TransactionID: txRef, Status: "duplicate"})
				return
			case lookupErr != nil && !pkgerrors.HasCode(lookupErr, pkgerrors.CodeNotFound):
				responses.WriteError(ctx, logg, w, lookupErr)
				return
			}
		}

		event, err := normalizer.Normalize(ctx, payload)
		if err != nil {
			_ = guard.Delete(ctx, txRef)
			if pkgerrors.HasCode(err, pkgerrors.CodeUnsupportedEvent) {
				// Audited and dropped; answering 200 stops gateway retries
				// for events this system will never understand.
				pipelineMetrics.IncWebhookResult("unsupported")
				responses.WriteSuccess(w, webhookResponse{TransactionID: txRef, Status: "ignored"})
				return
			}
			pipelineMetrics.IncWebhookResult("invalid")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := ledgerSvc.Apply(ctx, event)
		if err != nil {
			_ = guard.Delete(ctx, txRef)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := "applied"
		if result.Replayed {
			status = "duplicate"
		}
		pipelineMetrics.IncWebhookResult(status)
		logg.Info(ctx, "gateway event processed")
		responses.WriteSuccess(w, webhookResponse{
			TransactionID: result.Transaction.ID,
			Status:        status,
		})
	}
}
