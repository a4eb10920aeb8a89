// Package launcher resolves an UpdateEntity into the concrete on-disk path
// the host loads JS from, per the GLOSSARY's definition of "Launcher".
package launcher

import (
	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/filestore"
	"github.com/tomekzaw/expo/internal/otaerrors"
)

// Launcher is either a stored update resolved to a launch asset path, or
// the binary-embedded fallback, which has no on-disk path at all and
// resolves through bundleAssetName instead.
type Launcher struct {
	UpdateID        string
	LaunchAssetPath string
	Embedded        bool
	BundleAssetName string
}

// Build resolves update's launch asset to an on-disk path, verifying it is
// actually present (invariant 1) before returning.
func Build(cat *catalog.Catalog, store *filestore.Store, update catalog.UpdateEntity) (*Launcher, error) {
	assets, links, err := cat.AssetsForUpdate(update.ID)
	if err != nil {
		return nil, err
	}

	var launchAssetKey string
	for key, isLaunch := range links {
		if isLaunch {
			launchAssetKey = key
			break
		}
	}
	if launchAssetKey == "" {
		return nil, otaerrors.Errorf(otaerrors.AssetCorrupt, "update %s has no launch asset", update.ID)
	}

	var launchAsset *catalog.AssetEntity
	for i := range assets {
		if assets[i].Key == launchAssetKey {
			launchAsset = &assets[i]
			break
		}
	}
	if launchAsset == nil {
		return nil, otaerrors.Errorf(otaerrors.AssetCorrupt, "update %s launch asset %s missing from catalog", update.ID, launchAssetKey)
	}

	if !store.Has(launchAsset.ExpectedHash) {
		return nil, otaerrors.Errorf(otaerrors.AssetCorrupt, "update %s launch asset %s missing or corrupt on disk", update.ID, launchAssetKey)
	}

	return &Launcher{UpdateID: update.ID, LaunchAssetPath: store.Path(launchAsset.ExpectedHash)}, nil
}

// Embedded builds the fallback Launcher for the binary-shipped payload.
func Embedded(bundleAssetName string) *Launcher {
	return &Launcher{Embedded: true, BundleAssetName: bundleAssetName}
}
