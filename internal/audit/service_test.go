package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paywallet-backend/pkg/db/models"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/pagination"
)

func setupAuditTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS audit_entries (
  id TEXT PRIMARY KEY,
  correlation_id TEXT NOT NULL,
  stage TEXT NOT NULL,
  outcome TEXT NOT NULL,
  detail TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newAuditService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func createEntry(t *testing.T, db *gorm.DB, correlationID string, stage enums.AuditStage, created time.Time) *models.AuditEntry {
	t.Helper()
	entry := &models.AuditEntry{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Stage:         stage,
		Outcome:       "ok",
		CreatedAt:     created,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}

func TestRecordPersistsEntry(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	svc.Record(context.Background(), enums.AuditStageSignature, "TX-1", "verified", map[string]string{"header": "Verif-Hash"})

	entries, err := svc.ListByCorrelation(context.Background(), "TX-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AuditStageSignature, entries[0].Stage)
	assert.Equal(t, "verified", entries[0].Outcome)
	assert.Contains(t, string(entries[0].Detail), "Verif-Hash")
}

func TestRecordSwallowsRepositoryFailure(t *testing.T) {
	svc := newAuditService(t, &failingAuditRepo{})

	// must not panic or propagate
	svc.Record(context.Background(), enums.AuditStageLedger, "TX-2", "completed", nil)
}

func TestRecordTxRequiresTransaction(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	err := svc.RecordTx(context.Background(), nil, enums.AuditStageLedger, "TX-3", "completed", nil)
	require.Error(t, err)
}

func TestRecordTxWritesWithinTransaction(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.RecordTx(context.Background(), tx, enums.AuditStageLedger, "TX-4", "completed", nil)
	})
	require.NoError(t, err)

	entries, err := svc.ListByCorrelation(context.Background(), "TX-4")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestListByCorrelationOrdersByTime(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	now := time.Now().UTC()
	createEntry(t, db, "TX-5", enums.AuditStageLedger, now)
	createEntry(t, db, "TX-5", enums.AuditStageSignature, now.Add(-time.Minute))
	createEntry(t, db, "TX-other", enums.AuditStageFraud, now)

	entries, err := svc.ListByCorrelation(context.Background(), "TX-5")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.AuditStageSignature, entries[0].Stage)
	assert.Equal(t, enums.AuditStageLedger, entries[1].Stage)
}

func TestListByTimeRangePagination(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		createEntry(t, db, "TX-6", enums.AuditStageDispatch, now.Add(-time.Duration(i)*time.Minute))
	}

	from := now.Add(-time.Hour)
	to := now.Add(time.Hour)

	first, err := svc.ListByTimeRange(context.Background(), from, to, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListByTimeRange(context.Background(), from, to, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Empty(t, second.NextCursor)
}

func TestListByTimeRangeRejectsInvertedRange(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := newAuditService(t, NewRepository(db))

	now := time.Now().UTC()
	_, err := svc.ListByTimeRange(context.Background(), now, now.Add(-time.Hour), pagination.Params{})
	require.Error(t, err)
}

type failingAuditRepo struct{}

func (f *failingAuditRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *failingAuditRepo) Create(ctx context.Context, entry *models.AuditEntry) error {
	return errors.New("write failed")
}

func (f *failingAuditRepo) ListByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *failingAuditRepo) ListByTimeRange(ctx context.Context, from, to time.Time, params pagination.Params) (*EntryList, error) {
	return nil, errors.New("not implemented")
}
