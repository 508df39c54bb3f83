package database

import (
	"context"
	"testing"
	"testing/fstest"

	"livecount/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: NewGormLogger(nil)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive across statements.
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestConfigurePool(t *testing.T) {
	db := openSQLite(t)

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

func TestConnect_RejectsMalformedSettings(t *testing.T) {
	cfg := &config.Config{DBHost: "localhost", DBPort: "not-a-port", DBName: "x", DBSSLMode: "disable"}
	_, err := ConnectWithOptions(cfg, ConnectOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database settings")
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		env         string
		destructive bool
		runSQL      bool
		runAuto     bool
		wantErr     bool
	}{
		{"hybrid dev", "", "development", false, true, true, false},
		{"hybrid prod", "hybrid", "production", false, true, false, false},
		{"sql only", "sql", "development", false, true, false, false},
		{"auto dev", "auto", "development", false, false, true, false},
		{"auto prod refused", "auto", "prod", false, false, false, true},
		{"auto prod allowed", "auto", "prod", true, false, true, false},
		{"unknown", "yolo", "development", false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{DBSchemaMode: tt.mode, Env: tt.env, DBAutoMigrateAllowDestructive: tt.destructive}
			runSQL, runAuto, err := schemaPolicy(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, runSQL)
			assert.Equal(t, tt.runAuto, runAuto)
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000002_second.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/000002_second.down.sql": {Data: []byte("DROP TABLE b;")},
		"m/000001_first.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/000001_first.down.sql":  {Data: []byte("DROP TABLE a;")},
		"m/notes.txt":              {Data: []byte("ignored")},
		"m/bad.up.sql":             {Data: []byte("ignored")},
	}

	all, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "000001_first", all[0].String())
	assert.Equal(t, "000002_second", all[1].String())

	delete(fsys, "m/000002_second.down.sql")
	_, err = LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	all, err := GetMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestRunMigrations_AppliesOnceAndRollsBack(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	all := []Migration{
		{Version: 1, Name: "first", UpScript: "CREATE TABLE a (id INTEGER)", DownScript: "DROP TABLE a"},
		{Version: 2, Name: "second", UpScript: "CREATE TABLE b (id INTEGER)", DownScript: "DROP TABLE b"},
	}

	require.NoError(t, runMigrations(ctx, db, all))
	require.NoError(t, runMigrations(ctx, db, all))

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)
	assert.True(t, db.Migrator().HasTable("b"))

	require.NoError(t, NewMigrationStore(db).RevertMigration(ctx, all[1]))
	assert.False(t, db.Migrator().HasTable("b"))

	err = runMigrations(ctx, db, all[:0])
	assert.ErrorContains(t, err, "unknown versions")
}
