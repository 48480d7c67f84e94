package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/google/uuid"
)

// AnnounceRecord is one accepted propagation node announce.
type AnnounceRecord struct {
	ID            string    `json:"id"`
	Destination   string    `json:"destination"`
	Name          string    `json:"name,omitempty"`
	Hops          *int      `json:"hops"`
	StampCost     *int      `json:"stamp_cost"`
	TransferLimit *int      `json:"transfer_limit"`
	SyncLimit     *int      `json:"sync_limit"`
	AnnouncedAt   time.Time `json:"announced_at"`
}

// AnnounceStore reads and writes the propagation_announces table.
type AnnounceStore struct {
	db *sql.DB
}

// NewAnnounceStore wraps an open, migrated database.
func NewAnnounceStore(db *sql.DB) *AnnounceStore {
	return &AnnounceStore{db: db}
}

const announceColumns = `id, destination, name, hops, stamp_cost, transfer_limit, sync_limit, announced_at`

// Insert appends rec. An empty ID is filled with a new UUID.
func (s *AnnounceStore) Insert(ctx context.Context, rec AnnounceRecord) (AnnounceRecord, error) {
	if rec.Destination == "" {
		return rec, errors.NewValidationError("destination", "must not be empty", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AnnouncedAt.IsZero() {
		rec.AnnouncedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO propagation_announces (`+announceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Destination, rec.Name,
		intValue(rec.Hops), intValue(rec.StampCost), intValue(rec.TransferLimit), intValue(rec.SyncLimit),
		rec.AnnouncedAt.UnixMilli())
	if err != nil {
		return rec, errors.NewDatabaseError("insert announce", err)
	}
	return rec, nil
}

// Recent returns up to limit announces, newest first.
func (s *AnnounceStore) Recent(ctx context.Context, limit int) ([]AnnounceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+announceColumns+` FROM propagation_announces ORDER BY announced_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("query recent announces", err)
	}
	return scanAnnounces(rows)
}

// LatestSince returns the most recent announce of every destination heard
// at or after since, ordered by destination.
func (s *AnnounceStore) LatestSince(ctx context.Context, since time.Time) ([]AnnounceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+announceColumns+` FROM propagation_announces a
WHERE a.announced_at >= ?
  AND a.announced_at = (
	SELECT MAX(b.announced_at) FROM propagation_announces b WHERE b.destination = a.destination
  )
ORDER BY a.destination, a.id`, since.UnixMilli())
	if err != nil {
		return nil, errors.NewDatabaseError("query latest announces", err)
	}
	all, err := scanAnnounces(rows)
	if err != nil {
		return nil, err
	}

	// Identical timestamps for one destination yield several rows; keep one.
	out := all[:0]
	for _, rec := range all {
		if len(out) > 0 && out[len(out)-1].Destination == rec.Destination {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteBefore removes announces older than cutoff.
func (s *AnnounceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM propagation_announces WHERE announced_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errors.NewDatabaseError("delete announces", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Count returns the number of stored announces.
func (s *AnnounceStore) Count(ctx context.Context) (int64, error) {
	var n nullInt
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM propagation_announces`).Scan(&n); err != nil {
		return 0, errors.NewDatabaseError("count announces", err)
	}
	return n.Int64, nil
}

func scanAnnounces(rows *sql.Rows) ([]AnnounceRecord, error) {
	defer rows.Close()

	var out []AnnounceRecord
	for rows.Next() {
		var (
			rec                                  AnnounceRecord
			hops, stamp, transfer, sync, tsMilli nullInt
		)
		if err := rows.Scan(&rec.ID, &rec.Destination, &rec.Name, &hops, &stamp, &transfer, &sync, &tsMilli); err != nil {
			return nil, errors.NewDatabaseError("scan announce", err)
		}
		if !tsMilli.Valid {
			return nil, errors.NewDatabaseError("scan announce", fmt.Errorf("announce %s has no timestamp", rec.ID))
		}
		rec.Hops = hops.ptr()
		rec.StampCost = stamp.ptr()
		rec.TransferLimit = transfer.ptr()
		rec.SyncLimit = sync.ptr()
		rec.AnnouncedAt = time.UnixMilli(tsMilli.Int64)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate announces", err)
	}
	return out, nil
}
