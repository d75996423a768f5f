package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
)

type CredentialsRepositoryMSSQL struct{ db *sql.DB }

func NewCredentialsRepositoryMSSQL(db *sql.DB) repository.ICredentials {
	return &CredentialsRepositoryMSSQL{db: db}
}

// EnsureCredentialsSchemaMSSQL creates the platform_credentials table for SQL Server if it does not exist.
func EnsureCredentialsSchemaMSSQL(db *sql.DB) error {
	ddl := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.platform_credentials') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[platform_credentials] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        user_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(32) NOT NULL,
        access_token NVARCHAR(MAX) NOT NULL,
        refresh_token NVARCHAR(MAX) NULL,
        expires_at DATETIME2 NULL,
        extra NVARCHAR(MAX) NULL,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_platform_credentials_user_platform ON dbo.[platform_credentials](user_id, platform);
END`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create platform_credentials (mssql): %w", err)
	}
	return nil
}

func (r *CredentialsRepositoryMSSQL) UpsertCredentials(ctx context.Context, c *model.PlatformCredentials) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	var exp sql.NullTime
	if c.ExpiresAt != nil {
		exp.Valid = true
		exp.Time = *c.ExpiresAt
	}
	extra, err := encodeExtra(c.Extra)
	if err != nil {
		return err
	}
	// MERGE upsert by (user_id, platform)
	q := `MERGE dbo.[platform_credentials] AS target
USING (VALUES (@p1, @p2)) AS src(user_id, platform)
ON target.user_id = src.user_id AND target.platform = src.platform
WHEN MATCHED THEN UPDATE SET
    access_token=@p3,
    refresh_token=@p4,
    expires_at=@p5,
    extra=@p6,
    updated_at=@p8
WHEN NOT MATCHED THEN
    INSERT (user_id, platform, access_token, refresh_token, expires_at, extra, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8);`
	_, err = r.db.ExecContext(ctx, q,
		c.UserID, string(c.Platform),
		c.AccessToken,
		c.RefreshToken,
		exp,
		extra,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *CredentialsRepositoryMSSQL) GetCredentials(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformCredentials, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, platform, access_token, refresh_token, expires_at, extra, created_at, updated_at FROM dbo.[platform_credentials] WHERE user_id=@p1 AND platform=@p2`, userID, string(platform))
	return scanCredentials(row, userID, platform)
}
