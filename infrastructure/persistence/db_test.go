package persistence

import (
	"context"
	"net/url"
	"testing"

	"post-mirror/domain/model"
	"post-mirror/infrastructure/configuration"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return gormDB, mock
}

func TestNewGormDb_RequiresHost(t *testing.T) {
	saved := configuration.C.Database.MySql
	t.Cleanup(func() { configuration.C.Database.MySql = saved })
	configuration.C.Database.MySql.Host = ""

	db, err := NewGormDb()
	assert.Nil(t, db)
	assert.Error(t, err)
}

func TestActivityRepository_Record(t *testing.T) {
	gormDB, mock := newMockGorm(t)
	repo := NewActivityRepository(gormDB)

	mock.ExpectExec("INSERT INTO `activity_events`").
		WithArgs("post", "p1", int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(3, 1))

	event := &model.ActivityEvent{EntityKind: model.EntityPost, EntityID: "p1", TimestampMs: 1700000000000}
	require.NoError(t, repo.Record(context.Background(), event))
	assert.Equal(t, uint64(3), event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepository_ListForEntity(t *testing.T) {
	gormDB, mock := newMockGorm(t)
	repo := NewActivityRepository(gormDB)

	mock.ExpectQuery("SELECT \\* FROM `activity_events` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_kind", "entity_id", "timestamp_ms"}).
			AddRow(2, "platform_post", "twitter-1", 20).
			AddRow(1, "platform_post", "twitter-1", 10))

	events, err := repo.ListForEntity(context.Background(), model.EntityPlatformPost, "twitter-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(20), events[0].TimestampMs)
	assert.Equal(t, model.EntityPlatformPost, events[1].EntityKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMssqlDSN(t *testing.T) {
	dsn := mssqlDSN(configuration.Db{Name: "mirror", Host: "localhost", Port: "1433", User: "sa", Password: "p@ss"})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "localhost:1433", u.Host)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "mirror", u.Query().Get("database"))
	assert.Equal(t, "true", u.Query().Get("encrypt"))
	assert.Equal(t, "true", u.Query().Get("TrustServerCertificate"))

	remote := mssqlDSN(configuration.Db{Host: "db.example.net", Port: "1433"})
	u, err = url.Parse(remote)
	require.NoError(t, err)
	assert.Nil(t, u.User)
	assert.Empty(t, u.Query().Get("TrustServerCertificate"))
}

func TestNewMSSQLDB_RequiresHost(t *testing.T) {
	saved := configuration.C.Database.Mssql
	t.Cleanup(func() { configuration.C.Database.Mssql = saved })
	configuration.C.Database.Mssql.Host = ""

	db, err := NewMSSQLDB()
	assert.Nil(t, db)
	assert.Error(t, err)
}
