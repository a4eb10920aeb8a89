package catalog

import (
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// setMetadata upserts a single metadata row under the lease.
func (c *Catalog) setMetadata(key, value string) error {
	return c.lease.Do(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&Metadata{Key: key, Value: value}).Error
	})
}

func (c *Catalog) getMetadata(key string) (string, bool, error) {
	var row Metadata
	err := c.lease.Do(func(db *gorm.DB) error {
		err := db.First(&row, "key = ?", key).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return "", false, err
	}
	return row.Value, row.Key != "", nil
}

// ManifestMetadata returns the persisted server-provided metadata to
// compose into the next request's headers.
func (c *Catalog) ManifestMetadata() (map[string]string, error) {
	var rows []Metadata
	err := c.lease.Do(func(db *gorm.DB) error {
		return db.Where("key LIKE ?", metadataKeyPrefixManifest+"%").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key[len(metadataKeyPrefixManifest):]] = r.Value
	}
	return out, nil
}

// SetManifestMetadata persists one server-provided metadata field.
func (c *Catalog) SetManifestMetadata(key, value string) error {
	return c.setMetadata(metadataKeyPrefixManifest+key, value)
}

// GetExtraParams returns all host-set extra params (Engine.getExtraParams).
func (c *Catalog) GetExtraParams() (map[string]string, error) {
	var rows []Metadata
	err := c.lease.Do(func(db *gorm.DB) error {
		return db.Where("key LIKE ?", metadataKeyPrefixExtra+"%").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key[len(metadataKeyPrefixExtra):]] = r.Value
	}
	return out, nil
}

// SetExtraParam persists one host-set extra param (Engine.setExtraParam).
// Passing an empty value deletes the key.
func (c *Catalog) SetExtraParam(key, value string) error {
	if value == "" {
		return c.lease.Do(func(db *gorm.DB) error {
			return db.Delete(&Metadata{}, "key = ?", metadataKeyPrefixExtra+key).Error
		})
	}
	return c.setMetadata(metadataKeyPrefixExtra+key, value)
}

// BuildFingerprint is the (runtimeVersion, scopeKey, updateURL) triple
// checked on start to detect a build configuration change.
type BuildFingerprint struct {
	RuntimeVersion string
	ScopeKey       string
	UpdateURL      string
}

func (f BuildFingerprint) encode() string {
	return fmt.Sprintf("%s\x1f%s\x1f%s", f.RuntimeVersion, f.ScopeKey, f.UpdateURL)
}

// CheckBuildFingerprint compares the persisted fingerprint against current
// and, if it differs (including "none persisted yet"), drops all stored
// update and asset records while leaving on-disk asset files untouched
// (they are content-addressed and safe to re-reference), then persists the
// new fingerprint. It reports whether a reset occurred.
func (c *Catalog) CheckBuildFingerprint(current BuildFingerprint) (reset bool, err error) {
	stored, ok, err := c.getMetadata(metadataKeyBuildFingerprint)
	if err != nil {
		return false, err
	}
	if ok && stored == current.encode() {
		return false, nil
	}

	err = c.lease.Do(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("1 = 1").Delete(&UpdateAsset{}).Error; err != nil {
				return err
			}
			if err := tx.Where("1 = 1").Delete(&UpdateEntity{}).Error; err != nil {
				return err
			}
			if err := tx.Where("1 = 1").Delete(&AssetEntity{}).Error; err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&Metadata{Key: metadataKeyBuildFingerprint, Value: current.encode()}).Error
		})
	})
	return err == nil, err
}

// SetRollbackDirective persists a pending RollBackToEmbedded decision so a
// later Reload can resolve to the embedded update even if the process that
// received the directive has since exited.
func (c *Catalog) SetRollbackDirective(commitTime int64) error {
	return c.setMetadata(metadataKeyRollbackDirective, strconv.FormatInt(commitTime, 10))
}

// GetRollbackDirective returns the persisted rollback commitTime, if any.
func (c *Catalog) GetRollbackDirective() (commitTime int64, ok bool, err error) {
	value, found, err := c.getMetadata(metadataKeyRollbackDirective)
	if err != nil || !found {
		return 0, false, err
	}
	commitTime, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return commitTime, true, nil
}

// ClearRollbackDirective removes a persisted rollback decision once a
// Reload has acted on it.
func (c *Catalog) ClearRollbackDirective() error {
	return c.lease.Do(func(db *gorm.DB) error {
		return db.Delete(&Metadata{}, "key = ?", metadataKeyRollbackDirective).Error
	})
}
