// Package catalog implements the persistent inventory of stored updates
// and assets: transactional reads and writes of UpdateEntity rows, asset
// linkage, launch counters, and the metadata table backing
// manifestMetadata/extraParams/BuildData.
package catalog

import (
	"fmt"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dbFileName is the catalog's on-disk file.
const dbFileName = "expo-updates.db"

// Catalog owns the *gorm.DB handle behind the databaseLease protocol:
// every write is routed through a single dedicated database worker
// goroutine (see lease.go), matching the teacher's AcquireGlobalLock idiom
// in management/server/sql_store.go, generalized from a single mutex to a
// request-queue actor so the handle is never touched outside of it.
type Catalog struct {
	db    *gorm.DB
	lease *lease
}

// Open opens (creating if necessary) the catalog database at updatesDir
// and runs schema migration.
func Open(updatesDir string) (*Catalog, error) {
	storeStr := dbFileName + "?cache=shared"
	if runtime.GOOS == "windows" {
		storeStr = dbFileName
	}

	file := filepath.Join(updatesDir, storeStr)
	db, err := gorm.Open(sqlite.Open(file), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap catalog database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // sqlite: one writer at a time, enforced by the lease anyway

	if err := db.AutoMigrate(&UpdateEntity{}, &AssetEntity{}, &UpdateAsset{}, &Metadata{}); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}

	log.Debugf("catalog opened at %s", file)

	c := &Catalog{db: db}
	c.lease = newLease(db)
	return c, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	c.lease.Close()
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
