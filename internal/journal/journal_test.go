package journal

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitlease/backend/internal/engine"
)

func TestStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO engine_events").
		WithArgs("ev-1", engine.EventSessionStarted, int64(3), int64(7), "batch-1", "borrower",
			int64(2), int64(14), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Append(engine.Event{
		ID:        "ev-1",
		Type:      engine.EventSessionStarted,
		Timestamp: ts,
		ListingID: 3,
		SessionID: 7,
		BatchID:   "batch-1",
		Actor:     "borrower",
		Units:     2,
		Amount:    14,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	ts := time.Now()

	mock.ExpectQuery("SELECT event_id, event_type, listing_id, session_id, batch_id, actor, units, amount, created_at FROM engine_events ORDER BY id DESC LIMIT \\$1").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "event_type", "listing_id", "session_id", "batch_id", "actor", "units", "amount", "created_at"}).
			AddRow("ev-2", engine.EventSessionEnded, 3, 7, "batch-1", "borrower", 2, 14, ts).
			AddRow("ev-1", engine.EventSessionStarted, 3, 7, "batch-1", "borrower", 2, 14, ts))

	records, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, engine.EventSessionEnded, records[0].Type)
	assert.Equal(t, uint64(3), records[0].ListingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreByListing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery("SELECT event_id, event_type, listing_id, session_id, batch_id, actor, units, amount, created_at FROM engine_events WHERE listing_id = \\$1 ORDER BY id ASC LIMIT \\$2").
		WithArgs(int64(3), 50).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "event_type", "listing_id", "session_id", "batch_id", "actor", "units", "amount", "created_at"}).
			AddRow("ev-1", engine.EventListingCreated, 3, 0, "batch-1", "lender", 10, 1, time.Now()))

	records, err := store.ByListing(3, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.EventListingCreated, records[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
