package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rektbot/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.ProcessedMessage{}, &DataMigration{}))
	return db
}

func TestRunOnceSkipsAppliedMigration(t *testing.T) {
	db := newTestDB(t)

	calls := 0
	fn := func(*gorm.DB) error { calls++; return nil }

	ran, err := RunOnce(db, "test_once", fn)
	require.NoError(t, err)
	assert.True(t, ran)
	ran, err = RunOnce(db, "test_once", fn)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestRunOnceDoesNotRecordFailure(t *testing.T) {
	db := newTestDB(t)

	ran, err := RunOnce(db, "test_fail", func(*gorm.DB) error { return fmt.Errorf("boom") })
	require.Error(t, err)
	assert.False(t, ran)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Where("id = ?", "test_fail").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestImportHistoryFile(t *testing.T) {
	db := newTestDB(t)

	path := filepath.Join(t.TempDir(), "history")
	require.NoError(t, os.WriteFile(path, []byte("abc\n\n# comment\ndef\nabc\n"), 0o600))

	applied, err := Run(db, Options{HistoryFile: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_import_history_file", "00002_backfill_profit_set"}, applied)

	applied, err = Run(db, Options{HistoryFile: path})
	require.NoError(t, err)
	assert.Empty(t, applied)

	var ids []string
	require.NoError(t, db.Model(&model.ProcessedMessage{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []string{"abc", "def"}, ids)
}

func TestImportHistoryFileMissingIsNoop(t *testing.T) {
	db := newTestDB(t)
	_, err := Run(db, Options{HistoryFile: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
}
