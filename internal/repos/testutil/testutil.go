package testutil

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/types"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	sqliteSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a migrated database for one test. With TEST_POSTGRES_DSN set it
// runs against postgres, otherwise it falls back to a private in-memory
// sqlite database so the suite stays runnable without infrastructure.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		// A uniquely named shared-cache DB: private per test, but stable
		// across the connections the sql pool opens.
		name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", sqliteSeq.Add(1))
		db, err = gorm.Open(sqlite.Open(name), cfg)
	}
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&types.Unit{}, &types.Photo{}); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	Reset(tb, db)
	return db
}

// Reset clears all rows; postgres test databases are shared across tests.
func Reset(tb testing.TB, db *gorm.DB) {
	tb.Helper()
	if err := db.Where("1 = 1").Delete(&types.Photo{}).Error; err != nil {
		tb.Fatalf("failed to clear photo table: %v", err)
	}
	if err := db.Where("1 = 1").Delete(&types.Unit{}).Error; err != nil {
		tb.Fatalf("failed to clear unit table: %v", err)
	}
}
