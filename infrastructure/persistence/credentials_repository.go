package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
)

// CredentialsRepository keeps platform credentials in PostgreSQL.
type CredentialsRepository struct{ db *sql.DB }

func NewCredentialsRepository(db *sql.DB) repository.ICredentials {
	return &CredentialsRepository{db: db}
}

func (r *CredentialsRepository) UpsertCredentials(ctx context.Context, c *model.PlatformCredentials) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	extra, err := encodeExtra(c.Extra)
	if err != nil {
		return err
	}
	q := `INSERT INTO platform_credentials (user_id, platform, access_token, refresh_token, expires_at, extra, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		  ON CONFLICT (user_id, platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			extra=EXCLUDED.extra,
			updated_at=EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, q, c.UserID, string(c.Platform), c.AccessToken, c.RefreshToken, c.ExpiresAt, extra, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CredentialsRepository) GetCredentials(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformCredentials, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, platform, access_token, refresh_token, expires_at, extra, created_at, updated_at FROM platform_credentials WHERE user_id=$1 AND platform=$2`, userID, string(platform))
	return scanCredentials(row, userID, platform)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredentials(row rowScanner, userID string, platform model.PlatformID) (*model.PlatformCredentials, error) {
	c := &model.PlatformCredentials{}
	var exp sql.NullTime
	var refresh, extra sql.NullString
	var plat string
	if err := row.Scan(&c.ID, &c.UserID, &plat, &c.AccessToken, &refresh, &exp, &extra, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("credentials", fmt.Sprintf("%s/%s", userID, platform))
		}
		return nil, err
	}
	c.Platform = model.PlatformID(plat)
	c.RefreshToken = refresh.String
	if exp.Valid {
		c.ExpiresAt = &exp.Time
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &c.Extra); err != nil {
			return nil, fmt.Errorf("decode credentials extra: %w", err)
		}
	}
	return c, nil
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode credentials extra: %w", err)
	}
	return string(b), nil
}
