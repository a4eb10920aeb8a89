package catalog

import "time"

// UpdateStatus is the lifecycle stage of an UpdateEntity.
type UpdateStatus string

const (
	StatusPending    UpdateStatus = "Pending"
	StatusReady      UpdateStatus = "Ready"
	StatusLaunchable UpdateStatus = "Launchable"
	StatusEmbedded   UpdateStatus = "Embedded"
)

// UpdateEntity identifies one remotely published payload.
type UpdateEntity struct {
	ID                    string `gorm:"primaryKey"`
	CommitTime            int64  `gorm:"index"`
	RuntimeVersion        string `gorm:"index"`
	ScopeKey              string `gorm:"index"`
	Manifest              string // opaque JSON document
	Status                UpdateStatus `gorm:"index"`
	FailedLaunchCount     int
	SuccessfulLaunchCount int
	LastAccessedAt        time.Time
	ManifestFiltersJSON   string // JSON-encoded map[string]string
}

// AssetEntity is one file referenced by zero or more updates.
type AssetEntity struct {
	Key                   string `gorm:"primaryKey"`
	Type                  string
	URL                   string
	ExpectedHash          string
	DownloadedAt          time.Time
	EmbeddedAssetFilename string
	MarkedForDeletion     bool `gorm:"index"`
}

// UpdateAsset is the many-to-many join row between updates and assets,
// carrying the single "is this the launch asset" bit.
type UpdateAsset struct {
	UpdateID      string `gorm:"primaryKey"`
	AssetKey      string `gorm:"primaryKey"`
	IsLaunchAsset bool
}

// Metadata is a generic key-value row used for manifestMetadata, the
// BuildData fingerprint, and host-settable extra params.
type Metadata struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

const (
	metadataKeyBuildFingerprint  = "buildFingerprint"
	metadataKeyPrefixManifest    = "manifestMeta."
	metadataKeyPrefixExtra       = "extraParam."
	metadataKeyRollbackDirective = "rollbackDirective"
)
