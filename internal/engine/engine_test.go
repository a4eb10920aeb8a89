package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/hostbridge"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/selection"
)

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func writePart(w *multipart.Writer, name, contentType string, body []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, name))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(body)
	return err
}

func manifestServerFor(t *testing.T, m manifest.Manifest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		data, err := json.Marshal(&m)
		require.NoError(t, err)
		require.NoError(t, writePart(mw, "manifest", "application/json", data))
		require.NoError(t, mw.Close())
		w.Header().Set("Content-Type", mw.FormDataContentType())
		_, _ = w.Write(buf.Bytes())
	}))
}

func directiveServerFor(t *testing.T, d manifest.Directive) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		data, err := json.Marshal(&d)
		require.NoError(t, err)
		require.NoError(t, writePart(mw, "directive", "application/json", data))
		require.NoError(t, mw.Close())
		w.Header().Set("Content-Type", mw.FormDataContentType())
		_, _ = w.Write(buf.Bytes())
	}))
}

// recordingReloader observes what the Engine asks the host to do.
type recordingReloader struct {
	mu       sync.Mutex
	restarts int
	lastPath string
}

func (r *recordingReloader) SetJSBundleFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPath = path
	return nil
}

func (r *recordingReloader) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
}

func TestEngineColdStartFallsBackToEmbeddedWhenDisabled(t *testing.T) {
	eng, err := New(Config{
		UpdatesDir:        t.TempDir(),
		IsEnabled:         boolPtr(false),
		ScopeKey:          "app",
		RuntimeVersion:    "1.0.0",
		HasEmbeddedUpdate: true,
		BundleAssetName:   "embedded.bundle",
		CheckOnLaunch:     CheckNever,
		Reloader:          hostbridge.NopReloader{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	launcher := eng.LaunchAssetFile()
	require.True(t, launcher.Embedded)
	require.Equal(t, "embedded.bundle", eng.BundleAssetName())
}

func TestEngineColdStartDownloadsAndLaunchesRemoteUpdate(t *testing.T) {
	bundleContent := "console.log('v2')"
	bundleHash := hashOf(bundleContent)

	assetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bundleContent))
	}))
	defer assetServer.Close()

	manifestServer := manifestServerFor(t, manifest.Manifest{
		ID:             "11111111-1111-1111-1111-111111111111",
		CreatedAt:      "2024-01-01T00:00:00Z",
		RuntimeVersion: "1.0.0",
		LaunchAsset: manifest.Asset{
			Key:           bundleHash,
			URL:           assetServer.URL,
			ExpectedHash:  bundleHash,
			ContentType:   "application/javascript",
			IsLaunchAsset: true,
		},
	})
	defer manifestServer.Close()

	eng, err := New(Config{
		UpdatesDir:      t.TempDir(),
		IsEnabled:       boolPtr(true),
		UpdateURL:       manifestServer.URL,
		ScopeKey:        "app",
		RuntimeVersion:  "1.0.0",
		BundleAssetName: "embedded.bundle",
		CheckOnLaunch:   CheckAlways,
		Reloader:        hostbridge.NopReloader{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	launcher := eng.LaunchAssetFile()
	require.False(t, launcher.Embedded)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", launcher.UpdateID)
}

func TestEngineCheckForUpdateReportsNoUpdateAvailable(t *testing.T) {
	manifestServer := directiveServerFor(t, manifest.Directive{Type: manifest.NoUpdateAvailable})
	defer manifestServer.Close()

	eng, err := New(Config{
		UpdatesDir:        t.TempDir(),
		IsEnabled:         boolPtr(true),
		UpdateURL:         manifestServer.URL,
		ScopeKey:          "app",
		RuntimeVersion:    "1.0.0",
		HasEmbeddedUpdate: true,
		BundleAssetName:   "embedded.bundle",
		CheckOnLaunch:     CheckNever,
		Reloader:          hostbridge.NopReloader{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	eng.LaunchAssetFile()

	done := make(chan CheckResult, 1)
	eng.CheckForUpdate(context.Background(), func(result CheckResult) {
		done <- result
	})

	select {
	case result := <-done:
		require.Equal(t, CheckNoUpdateAvailable, result.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for checkForUpdate result")
	}
}

func TestEngineReloadRestartsHostAndPrunesOldUpdates(t *testing.T) {
	bundleContent := "console.log('v2')"
	bundleHash := hashOf(bundleContent)

	assetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bundleContent))
	}))
	defer assetServer.Close()

	manifestServer := manifestServerFor(t, manifest.Manifest{
		ID:             "22222222-2222-2222-2222-222222222222",
		CreatedAt:      "2024-01-01T00:00:00Z",
		RuntimeVersion: "1.0.0",
		LaunchAsset: manifest.Asset{
			Key:           bundleHash,
			URL:           assetServer.URL,
			ExpectedHash:  bundleHash,
			ContentType:   "application/javascript",
			IsLaunchAsset: true,
		},
	})
	defer manifestServer.Close()

	updatesDir := t.TempDir()

	// Pre-seed an older update directly, as if a prior run had downloaded
	// it, so Reload's Reaper pass has something to prune once the newer
	// remote update supersedes it.
	seedCat, err := catalog.Open(updatesDir)
	require.NoError(t, err)
	require.NoError(t, seedCat.InsertPendingUpdate(catalog.NewPendingUpdate{
		ID:             "00000000-0000-0000-0000-000000000000",
		CommitTime:     100,
		RuntimeVersion: "1.0.0",
		ScopeKey:       "app",
		ManifestJSON:   "{}",
		Assets: []catalog.NewAsset{
			{Key: "old-asset-key", ExpectedHash: "old-asset-key", IsLaunchAsset: true},
		},
	}))
	require.NoError(t, seedCat.Close())

	reloader := &recordingReloader{}
	eng, err := New(Config{
		UpdatesDir:      updatesDir,
		IsEnabled:       boolPtr(true),
		UpdateURL:       manifestServer.URL,
		ScopeKey:        "app",
		RuntimeVersion:  "1.0.0",
		BundleAssetName: "embedded.bundle",
		CheckOnLaunch:   CheckAlways,
		Reloader:        reloader,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	eng.LaunchAssetFile()

	// LaunchAssetFile can return on the cached-launch timer before the
	// remote update is committed; wait for it so Reload sees both updates.
	require.Eventually(t, func() bool {
		rows, err := eng.cat.LaunchableCandidates("app")
		require.NoError(t, err)
		for _, r := range rows {
			if r.ID == "22222222-2222-2222-2222-222222222222" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	eng.Reload(context.Background(), func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload result")
	}

	require.Eventually(t, func() bool {
		reloader.mu.Lock()
		defer reloader.mu.Unlock()
		return reloader.restarts == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rows, err := eng.cat.LaunchableCandidates("app")
		require.NoError(t, err)
		for _, r := range rows {
			if r.ID == "00000000-0000-0000-0000-000000000000" {
				return false
			}
		}
		return len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond, "reaper should have pruned the superseded update")
}

func TestEngineCheckForUpdateRejectsUpdateFailingResponseManifestFilters(t *testing.T) {
	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		data, err := json.Marshal(&manifest.Manifest{
			ID:             "44444444-4444-4444-4444-444444444444",
			CreatedAt:      "2024-01-01T00:00:00Z",
			RuntimeVersion: "1.0.0",
		})
		require.NoError(t, err)
		require.NoError(t, writePart(mw, "manifest", "application/json", data))
		require.NoError(t, mw.Close())
		w.Header().Set("expo-manifest-filters", `branch="staging"`)
		w.Header().Set("Content-Type", mw.FormDataContentType())
		_, _ = w.Write(buf.Bytes())
	}))
	defer manifestServer.Close()

	eng, err := New(Config{
		UpdatesDir:     t.TempDir(),
		IsEnabled:      boolPtr(true),
		UpdateURL:      manifestServer.URL,
		ScopeKey:       "app",
		RuntimeVersion: "1.0.0",
		CheckOnLaunch:  CheckNever,
		Filters:        selection.Filters{"branch": "production"},
		Reloader:       hostbridge.NopReloader{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	eng.LaunchAssetFile()

	done := make(chan CheckResult, 1)
	eng.CheckForUpdate(context.Background(), func(result CheckResult) {
		done <- result
	})

	select {
	case result := <-done:
		require.Equal(t, CheckNoUpdateAvailable, result.Kind, "a manifest whose response manifestFilters mismatch the configured Filters must be rejected")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for checkForUpdate result")
	}
}

func TestEngineRollbackDirectiveSwitchesLauncherToEmbeddedOnReload(t *testing.T) {
	updatesDir := t.TempDir()

	// Pre-seed a launched update (commitTime 300) so the rollback directive
	// (commitTime 400) has something newer than the embedded update
	// (commitTime 100) to beat.
	seedCat, err := catalog.Open(updatesDir)
	require.NoError(t, err)
	require.NoError(t, seedCat.InsertPendingUpdate(catalog.NewPendingUpdate{
		ID:             "33333333-3333-3333-3333-333333333333",
		CommitTime:     300,
		RuntimeVersion: "1.0.0",
		ScopeKey:       "app",
		ManifestJSON:   "{}",
		Assets: []catalog.NewAsset{
			{Key: "launched-asset-key", ExpectedHash: "launched-asset-key", IsLaunchAsset: true},
		},
	}))
	require.NoError(t, seedCat.Close())

	manifestServer := directiveServerFor(t, manifest.Directive{Type: manifest.RollBackToEmbedded, CommitTime: 400})
	defer manifestServer.Close()

	reloader := &recordingReloader{}
	eng, err := New(Config{
		UpdatesDir:         updatesDir,
		IsEnabled:          boolPtr(true),
		UpdateURL:          manifestServer.URL,
		ScopeKey:           "app",
		RuntimeVersion:     "1.0.0",
		HasEmbeddedUpdate:  true,
		EmbeddedCommitTime: 100,
		BundleAssetName:    "embedded.bundle",
		CheckOnLaunch:      CheckNever,
		Reloader:           reloader,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	eng.LaunchAssetFile()

	done := make(chan CheckResult, 1)
	eng.CheckForUpdate(context.Background(), func(result CheckResult) {
		done <- result
	})

	select {
	case result := <-done:
		require.Equal(t, CheckRollBackToEmbedded, result.Kind)
		require.Equal(t, int64(400), result.RollbackAt)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for checkForUpdate result")
	}

	require.Eventually(t, func() bool {
		_, ok, err := eng.cat.GetRollbackDirective()
		require.NoError(t, err)
		return ok
	}, 2*time.Second, 10*time.Millisecond, "rollback directive should be persisted before reload")

	reloadDone := make(chan error, 1)
	eng.Reload(context.Background(), func(err error) {
		reloadDone <- err
	})

	select {
	case err := <-reloadDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload result")
	}

	require.Eventually(t, func() bool {
		reloader.mu.Lock()
		defer reloader.mu.Unlock()
		return reloader.restarts == 1 && reloader.lastPath == ""
	}, 2*time.Second, 10*time.Millisecond, "reload should switch the launcher to the embedded update")

	_, ok, err := eng.cat.GetRollbackDirective()
	require.NoError(t, err)
	require.False(t, ok, "reload should clear the rollback directive once acted on")
}
