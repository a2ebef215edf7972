package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

const defaultHistoryLimit = 50

// HistoryRepository records the pages kiosk tabs settle on.
type HistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistoryRepository creates a new [HistoryRepository] with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

// Record stores a visit of tabID to url.
//
// A repeat of the tab's most recent url only refreshes the stored title, so reconciliation polls and
// title changes do not produce duplicate rows. It reports whether a new row was written.
func (r *HistoryRepository) Record(tabID, url, title string) (bool, error) {
	if tabID == "" || url == "" {
		return false, fmt.Errorf("%w: tab id and url", shared.ErrMissingArgument)
	}

	var lastID, lastURL, lastTitle string
	err := r.db.QueryRow(
		"SELECT id, url, title FROM history WHERE tab_id = ? ORDER BY sequence DESC LIMIT 1", tabID,
	).Scan(&lastID, &lastURL, &lastTitle)
	switch {
	case err == nil && lastURL == url:
		if title == lastTitle {
			return false, nil
		}
		if _, err := r.db.Exec("UPDATE history SET title = ? WHERE id = ?", title, lastID); err != nil {
			return false, fmt.Errorf("failed to update visit: %w", err)
		}
		return false, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("failed to query last visit: %w", err)
	}

	sequence, err := NextSequence(r.db, "history")
	if err != nil {
		return false, fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `INSERT INTO history (id, sequence, tab_id, url, title, visited_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.Exec(query, shared.GenerateID(), sequence, tabID, url, title, r.now()); err != nil {
		return false, fmt.Errorf("failed to insert visit: %w", err)
	}
	return true, nil
}

// Recent returns up to limit visits, newest first. A non-positive limit uses the default of 50.
func (r *HistoryRepository) Recent(limit int) ([]models.Visit, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.Query(`
		SELECT id, sequence, tab_id, url, title, visited_at
		FROM history
		ORDER BY sequence DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		var v models.Visit
		if err := rows.Scan(&v.ID, &v.Sequence, &v.TabID, &v.URL, &v.Title, &v.VisitedAt); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return visits, nil
}

// Clear deletes every visit. Sequence numbers keep increasing.
func (r *HistoryRepository) Clear() (int64, error) {
	result, err := r.db.Exec("DELETE FROM history")
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}
