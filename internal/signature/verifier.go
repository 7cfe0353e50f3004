package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
)

// Verifier authenticates gateway webhooks by recomputing the HMAC-SHA256
// digest of the exact raw request bytes.
type Verifier struct {
	secret []byte
	header string
	audit  audit.Recorder
}

// VerifierParams wires the verifier dependencies.
type VerifierParams struct {
	Gateway config.GatewayConfig
	Audit   audit.Recorder
}

// NewVerifier validates the webhook secret up front so a misconfigured
// deployment fails at boot instead of accepting unsigned traffic.
func NewVerifier(params VerifierParams) (*Verifier, error) {
	secret := strings.TrimSpace(params.Gateway.WebhookSecret)
	if secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway webhook secret is required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder is required")
	}
	header := strings.TrimSpace(params.Gateway.SignatureHeader)
	if header == "" {
		header = "Verif-Hash"
	}
	return &Verifier{
		secret: []byte(secret),
		header: header,
		audit:  params.Audit,
	}, nil
}

// Header returns the HTTP header the gateway carries the digest in.
func (v *Verifier) Header() string {
	return v.header
}

// Verify checks the provided digest against the raw body. The audit entry
// records the outcome only, never the digest or secret.
func (v *Verifier) Verify(ctx context.Context, correlationID string, rawBody []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		v.audit.Record(ctx, enums.AuditStageSignature, correlationID, "missing_header", nil)
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature header missing")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		v.audit.Record(ctx, enums.AuditStageSignature, correlationID, "rejected", nil)
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature mismatch")
	}

	v.audit.Record(ctx, enums.AuditStageSignature, correlationID, "verified", nil)
	return nil
}
