package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tomekzaw/expo/internal/otaerrors"
)

// NewPendingUpdate is the input to InsertPendingUpdate: a freshly-received
// manifest that has not yet had its assets verified on disk.
type NewPendingUpdate struct {
	ID              string
	CommitTime      int64
	RuntimeVersion  string
	ScopeKey        string
	ManifestJSON    string
	ManifestFilters map[string]string
	LaunchAssetKey  string
	Assets          []NewAsset
}

// NewAsset describes one asset to link to an update being inserted.
type NewAsset struct {
	Key                   string
	Type                  string
	URL                   string
	ExpectedHash          string
	EmbeddedAssetFilename string
	IsLaunchAsset         bool
}

// ManifestFilters decodes the persisted JSON-encoded manifestFilters map
// selection.Candidate conversions need to evaluate Filters.Matches.
func (e UpdateEntity) ManifestFilters() map[string]string {
	if e.ManifestFiltersJSON == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(e.ManifestFiltersJSON), &out); err != nil {
		return nil
	}
	return out
}

// InsertPendingUpdate commits a freshly-downloaded update: within a single
// transaction, insert the UpdateEntity as Pending, insert
// any new AssetEntity rows, link them via UpdateAsset, and flip the update
// to Ready once every asset is confirmed present by the caller.
func (c *Catalog) InsertPendingUpdate(update NewPendingUpdate) error {
	filtersJSON, err := json.Marshal(update.ManifestFilters)
	if err != nil {
		return otaerrors.Wrap(otaerrors.AssetCorrupt, err, "encode manifest filters")
	}

	return c.lease.Do(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			row := UpdateEntity{
				ID:                  update.ID,
				CommitTime:          update.CommitTime,
				RuntimeVersion:      update.RuntimeVersion,
				ScopeKey:            update.ScopeKey,
				Manifest:            update.ManifestJSON,
				Status:              StatusPending,
				ManifestFiltersJSON: string(filtersJSON),
				LastAccessedAt:      time.Now(),
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert update row: %w", err)
			}

			for _, a := range update.Assets {
				asset := AssetEntity{
					Key:                   a.Key,
					Type:                  a.Type,
					URL:                   a.URL,
					ExpectedHash:          a.ExpectedHash,
					EmbeddedAssetFilename: a.EmbeddedAssetFilename,
					DownloadedAt:          time.Now(),
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&asset).Error; err != nil {
					return fmt.Errorf("insert asset row %s: %w", a.Key, err)
				}

				link := UpdateAsset{UpdateID: update.ID, AssetKey: a.Key, IsLaunchAsset: a.IsLaunchAsset}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
					return fmt.Errorf("link asset %s to update %s: %w", a.Key, update.ID, err)
				}
			}

			if err := tx.Model(&UpdateEntity{}).Where("id = ?", update.ID).
				Update("status", StatusReady).Error; err != nil {
				return fmt.Errorf("mark update ready: %w", err)
			}
			return nil
		})
	})
}

// InsertEmbeddedUpdate records the binary-shipped manifest as an
// Embedded-status row on first run, so it remains a selectable fallback
// candidate and the Reaper never deletes the assets it references.
// Idempotent: a second call for the same ID is a no-op.
func (c *Catalog) InsertEmbeddedUpdate(update NewPendingUpdate) error {
	filtersJSON, err := json.Marshal(update.ManifestFilters)
	if err != nil {
		return otaerrors.Wrap(otaerrors.AssetCorrupt, err, "encode manifest filters")
	}

	return c.lease.Do(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			row := UpdateEntity{
				ID:                  update.ID,
				CommitTime:          update.CommitTime,
				RuntimeVersion:      update.RuntimeVersion,
				ScopeKey:            update.ScopeKey,
				Manifest:            update.ManifestJSON,
				Status:              StatusEmbedded,
				ManifestFiltersJSON: string(filtersJSON),
				LastAccessedAt:      time.Now(),
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert embedded update row: %w", err)
			}

			for _, a := range update.Assets {
				asset := AssetEntity{
					Key:                   a.Key,
					Type:                  a.Type,
					EmbeddedAssetFilename: a.EmbeddedAssetFilename,
					DownloadedAt:          time.Now(),
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&asset).Error; err != nil {
					return fmt.Errorf("insert embedded asset row %s: %w", a.Key, err)
				}
				link := UpdateAsset{UpdateID: update.ID, AssetKey: a.Key, IsLaunchAsset: a.IsLaunchAsset}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
					return fmt.Errorf("link embedded asset %s to update %s: %w", a.Key, update.ID, err)
				}
			}
			return nil
		})
	})
}

// LaunchableCandidates returns every update whose status is Ready,
// Launchable, or Embedded, for SelectionPolicy to choose among. The
// embedded row (inserted once at first run, see InsertEmbeddedUpdate) is
// included so it remains a fallback candidate; it does not itself decide
// launchability, that decision belongs to SelectionPolicy.
func (c *Catalog) LaunchableCandidates(scopeKey string) ([]UpdateEntity, error) {
	var rows []UpdateEntity
	err := c.lease.Do(func(db *gorm.DB) error {
		return db.Where("scope_key = ? AND status IN ?", scopeKey, []UpdateStatus{StatusReady, StatusLaunchable, StatusEmbedded}).
			Order("commit_time DESC").Find(&rows).Error
	})
	return rows, err
}

// AssetsForUpdate returns the assets linked to updateID together with the
// is-launch-asset bit, ordered so the launch asset is not guaranteed first;
// callers filter explicitly.
func (c *Catalog) AssetsForUpdate(updateID string) ([]AssetEntity, map[string]bool, error) {
	var assets []AssetEntity
	links := make(map[string]bool)
	err := c.lease.Do(func(db *gorm.DB) error {
		var rows []UpdateAsset
		if err := db.Where("update_id = ?", updateID).Find(&rows).Error; err != nil {
			return err
		}
		keys := make([]string, 0, len(rows))
		for _, r := range rows {
			keys = append(keys, r.AssetKey)
			links[r.AssetKey] = r.IsLaunchAsset
		}
		if len(keys) == 0 {
			return nil
		}
		return db.Where("key IN ?", keys).Find(&assets).Error
	})
	return assets, links, err
}

// MarkAccessed bumps lastAccessedAt for the update chosen to launch.
func (c *Catalog) MarkAccessed(updateID string) error {
	return c.lease.Do(func(db *gorm.DB) error {
		return db.Model(&UpdateEntity{}).Where("id = ?", updateID).
			Update("last_accessed_at", time.Now()).Error
	})
}

// MarkFailedLaunch increments failedLaunchCount for updateID. Per invariant
// 3, the counter is incremented in SQL, never read-modify-written in Go.
func (c *Catalog) MarkFailedLaunch(updateID string) error {
	return c.lease.Do(func(db *gorm.DB) error {
		res := db.Model(&UpdateEntity{}).Where("id = ?", updateID).
			Update("failed_launch_count", gorm.Expr("failed_launch_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return otaerrors.Errorf(otaerrors.AssetCorrupt, "no such update %s", updateID)
		}
		return nil
	})
}

// MarkSuccessfulLaunch increments successfulLaunchCount for updateID.
func (c *Catalog) MarkSuccessfulLaunch(updateID string) error {
	return c.lease.Do(func(db *gorm.DB) error {
		res := db.Model(&UpdateEntity{}).Where("id = ?", updateID).
			Update("successful_launch_count", gorm.Expr("successful_launch_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return otaerrors.Errorf(otaerrors.AssetCorrupt, "no such update %s", updateID)
		}
		return nil
	})
}

// DeleteUpdates removes update rows and their UpdateAsset links for the
// Reaper. It never deletes AssetEntity rows directly; orphaned assets are
// swept separately by SweepOrphanedAssets since an asset may still be
// referenced by an update not in this batch.
func (c *Catalog) DeleteUpdates(updateIDs []string) error {
	if len(updateIDs) == 0 {
		return nil
	}
	return c.lease.Do(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("update_id IN ?", updateIDs).Delete(&UpdateAsset{}).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", updateIDs).Delete(&UpdateEntity{}).Error
		})
	})
}

// SweepOrphanedAssets returns the keys of assets no longer referenced by
// any UpdateAsset row, so the Reaper can delete their on-disk files too.
func (c *Catalog) SweepOrphanedAssets() ([]string, error) {
	var keys []string
	err := c.lease.Do(func(db *gorm.DB) error {
		return db.Model(&AssetEntity{}).
			Where("key NOT IN (SELECT asset_key FROM update_assets)").
			Where("embedded_asset_filename = ''").
			Pluck("key", &keys).Error
	})
	return keys, err
}

// DeleteAssets removes AssetEntity rows by key, for the Reaper after their
// on-disk files have been removed.
func (c *Catalog) DeleteAssets(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.lease.Do(func(db *gorm.DB) error {
		return db.Where("key IN ?", keys).Delete(&AssetEntity{}).Error
	})
}
