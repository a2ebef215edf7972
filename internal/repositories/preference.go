package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

// Preference keys.
const (
	KeySelectedRoom    = "selected_room_id"
	KeySelectedSession = "selected_session_id"
)

// PreferenceRepository stores string settings that survive restarts.
type PreferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository creates a new [PreferenceRepository] with the given database connection
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the value for key, or [shared.ErrNotFound].
func (r *PreferenceRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: preference %s", shared.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query preference: %w", err)
	}
	return value, nil
}

// Lookup is [PreferenceRepository.Get] with a fallback for missing keys.
func (r *PreferenceRepository) Lookup(key, fallback string) string {
	value, err := r.Get(key)
	if err != nil {
		return fallback
	}
	return value
}

// Set inserts or replaces the value for key.
func (r *PreferenceRepository) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: preference key", shared.ErrMissingArgument)
	}

	query := `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (r *PreferenceRepository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM preferences WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}
