package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
)

type recordedEntry struct {
	stage         enums.AuditStage
	correlationID string
	outcome       string
	detail        any
}

type fakeRecorder struct {
	entries []recordedEntry
}

func (f *fakeRecorder) Record(ctx context.Context, stage enums.AuditStage, correlationID, outcome string, detail any) {
	f.entries = append(f.entries, recordedEntry{stage: stage, correlationID: correlationID, outcome: outcome, detail: detail})
}

func (f *fakeRecorder) RecordTx(ctx context.Context, tx *gorm.DB, stage enums.AuditStage, correlationID, outcome string, detail any) error {
	f.Record(ctx, stage, correlationID, outcome, detail)
	return nil
}

func newTestVerifier(t *testing.T, secret string) (*Verifier, *fakeRecorder) {
	t.Helper()
	recorder := &fakeRecorder{}
	verifier, err := NewVerifier(VerifierParams{
		Gateway: config.GatewayConfig{WebhookSecret: secret, SignatureHeader: "Verif-Hash"},
		Audit:   recorder,
	})
	require.NoError(t, err)
	return verifier, recorder
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	verifier, recorder := newTestVerifier(t, "top-secret")
	body := []byte(`{"event":"charge.completed"}`)

	err := verifier.Verify(context.Background(), "TX-1", body, sign("top-secret", body))
	require.NoError(t, err)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, enums.AuditStageSignature, recorder.entries[0].stage)
	assert.Equal(t, "verified", recorder.entries[0].outcome)
}

func TestVerifyAcceptsUppercaseHexDigest(t *testing.T) {
	verifier, _ := newTestVerifier(t, "top-secret")
	body := []byte(`{"event":"charge.completed"}`)

	digest := strings.ToUpper(sign("top-secret", body))
	require.NoError(t, verifier.Verify(context.Background(), "TX-1", body, digest))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	verifier, recorder := newTestVerifier(t, "top-secret")
	body := []byte(`{"event":"charge.completed","data":{"amount":100}}`)
	digest := sign("top-secret", body)

	tampered := []byte(`{"event":"charge.completed","data":{"amount":999}}`)
	err := verifier.Verify(context.Background(), "TX-1", tampered, digest)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSignatureInvalid))
	assert.Equal(t, "rejected", recorder.entries[0].outcome)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	verifier, _ := newTestVerifier(t, "top-secret")
	body := []byte(`{"event":"charge.completed"}`)

	err := verifier.Verify(context.Background(), "TX-1", body, sign("other-secret", body))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSignatureInvalid))
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	verifier, recorder := newTestVerifier(t, "top-secret")

	err := verifier.Verify(context.Background(), "TX-1", []byte(`{}`), "")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSignatureInvalid))
	assert.Equal(t, "missing_header", recorder.entries[0].outcome)
}

func TestVerifyAuditNeverContainsDigest(t *testing.T) {
	verifier, recorder := newTestVerifier(t, "top-secret")
	body := []byte(`{"event":"charge.completed"}`)
	digest := sign("top-secret", body)

	require.NoError(t, verifier.Verify(context.Background(), "TX-1", body, digest))
	for _, entry := range recorder.entries {
		assert.Nil(t, entry.detail)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierParams{
		Gateway: config.GatewayConfig{WebhookSecret: "   "},
		Audit:   &fakeRecorder{},
	})
	require.Error(t, err)
}

func TestHeaderDefaultsWhenBlank(t *testing.T) {
	verifier, err := NewVerifier(VerifierParams{
		Gateway: config.GatewayConfig{WebhookSecret: "s"},
		Audit:   &fakeRecorder{},
	})
	require.NoError(t, err)
	assert.Equal(t, "Verif-Hash", verifier.Header())
}
