package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

// TokenRepository stores one OAuth token per provider.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Load returns the stored token for provider, or [shared.ErrNotFound].
func (r *TokenRepository) Load(ctx context.Context, provider string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT access_token, refresh_token, token_type, expiry FROM oauth_tokens WHERE provider = ?", provider,
	).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s token", shared.ErrNotFound, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

// Save inserts or replaces the token for provider.
func (r *TokenRepository) Save(ctx context.Context, provider string, tok *oauth2.Token) error {
	if provider == "" || tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("%w: provider and access token", shared.ErrMissingArgument)
	}

	var expiry any
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry
	}

	query := `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, provider, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry, time.Now()); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Delete removes the token for provider. Missing tokens are not an error.
func (r *TokenRepository) Delete(ctx context.Context, provider string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE provider = ?", provider); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
