package database

import (
	"testing"

	"parley/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestConfigurePool_FallsBackOnZeroValues(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, configurePool(db, &config.Config{}))
	sqlDB, _ := db.DB()
	assert.Equal(t, 25, sqlDB.Stats().MaxOpenConnections)
}

func TestGetReadDB_FallsBackToPrimary(t *testing.T) {
	prevDB, prevRead := DB, ReadDB
	t.Cleanup(func() { DB, ReadDB = prevDB, prevRead })

	primary, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	DB, ReadDB = primary, nil
	assert.Same(t, primary, GetReadDB())

	replica, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	ReadDB = replica
	assert.Same(t, replica, GetReadDB())
}

func TestBuildDSN_DefaultsSSLMode(t *testing.T) {
	dsn := buildDSN("db", "5432", "u", "p", "parley", "")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname=parley")
}
