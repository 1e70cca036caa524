// Package journal persists the engine's event stream to Postgres for
// external indexing. It is a pure consumer of state transitions: a journal
// failure never affects custody, so Append errors surface only in logs.
package journal

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/unitlease/backend/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes one event record. Implements engine.EventSink.
func (s *Store) Append(ev engine.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO engine_events (event_id, event_type, listing_id, session_id, batch_id, actor, units, amount, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.Type, int64(ev.ListingID), int64(ev.SessionID), ev.BatchID, ev.Actor, ev.Units, ev.Amount, payload, ev.Timestamp)
	return err
}

// Record is one journaled event as served to readers.
type Record struct {
	EventID   string    `json:"eventId"`
	Type      string    `json:"type"`
	ListingID uint64    `json:"listingId,omitempty"`
	SessionID uint64    `json:"sessionId,omitempty"`
	BatchID   string    `json:"batchId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Units     int64     `json:"units,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT event_id, event_type, listing_id, session_id, batch_id, actor, units, amount, created_at
		FROM engine_events
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByListing returns the event history of one listing, oldest first.
func (s *Store) ByListing(listingID uint64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT event_id, event_type, listing_id, session_id, batch_id, actor, units, amount, created_at
		FROM engine_events
		WHERE listing_id = $1
		ORDER BY id ASC
		LIMIT $2`, int64(listingID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var r Record
		var listingID, sessionID int64
		if err := rows.Scan(&r.EventID, &r.Type, &listingID, &sessionID, &r.BatchID, &r.Actor, &r.Units, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ListingID = uint64(listingID)
		r.SessionID = uint64(sessionID)
		records = append(records, r)
	}
	return records, rows.Err()
}
