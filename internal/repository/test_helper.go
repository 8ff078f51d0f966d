package repository

import (
	"testing"

	"github.com/nimasrn/drone-dispatch/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entities lists every table owned by the dispatch service.
func Entities() []interface{} {
	return []interface{}{
		&DroneEntity{},
		&DroneOrderEntity{},
		&DroneAssignmentEntity{},
		&OrderEntity{},
		&OrderStatusHistoryEntity{},
		&NotificationEntity{},
		&UserEntity{},
	}
}

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// OpenTestDB opens a migrated in-memory sqlite database wrapped as pg.DB.
// A single connection keeps the in-memory schema shared and serializes
// concurrent writers the way row locks would.
func OpenTestDB(t testing.TB) (*pg.DB, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.Wrap(db, db), db
}

func setupTestDB(t *testing.T) *testDB {
	db, raw := OpenTestDB(t)
	return &testDB{
		DB:    db,
		rawDB: raw,
	}
}
