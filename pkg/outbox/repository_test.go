package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}))
	return db
}

func insertOutboxEvent(t *testing.T, db *gorm.DB, attempts int, created time.Time) models.OutboxEvent {
	t.Helper()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventInvoicePaid,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		AttemptCount:  attempts,
	}
	require.NoError(t, db.Create(&event).Error)
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("id = ?", event.ID).
		Update("created_at", created).Error)
	return event
}

func TestRepositoryFetchUnpublishedForPublish(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	now := time.Now().UTC()
	older := insertOutboxEvent(t, db, 0, now.Add(-time.Minute))
	newer := insertOutboxEvent(t, db, 0, now)
	exhausted := insertOutboxEvent(t, db, 10, now.Add(-2*time.Minute))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, older.ID, rows[0].ID)
		assert.Equal(t, newer.ID, rows[1].ID)
		for _, row := range rows {
			assert.NotEqual(t, exhausted.ID, row.ID)
		}
		return nil
	}))

	_, err := repo.FetchUnpublishedForPublish(nil, 10, 10)
	assert.Error(t, err)
}

func TestRepositoryMarkPublishedTxExcludesRowFromNextFetch(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	event := insertOutboxEvent(t, db, 0, time.Now().UTC())

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, event.ID)
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}

func TestRepositoryMarkFailedTxIncrementsAttempts(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	event := insertOutboxEvent(t, db, 0, time.Now().UTC())

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, event.ID, errors.New("transient"))
	}))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", event.ID).Error)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "transient", *row.LastError)
}

func TestRepositoryMarkTerminalTxPinsAttemptCount(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	event := insertOutboxEvent(t, db, 3, time.Now().UTC())

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, event.ID, errors.New("invalid payload"), 10)
	}))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", event.ID).Error)
	assert.Equal(t, 10, row.AttemptCount)
	require.NotNil(t, row.LastError)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}
