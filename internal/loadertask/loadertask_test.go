package loadertask

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/filestore"
	"github.com/tomekzaw/expo/internal/launcher"
	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/selection"
)

type recordingTaskCallback struct {
	mu              sync.Mutex
	cachedOffered   bool
	armTimer        bool
	successResult   *launcher.Launcher
	isUpToDate      bool
	delivered       bool
	failure         error
	remoteFinished  []RemoteUpdateStatus
}

func (r *recordingTaskCallback) OnCachedUpdateLoaded(update selection.Candidate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedOffered = true
	return r.armTimer
}
func (r *recordingTaskCallback) OnRemoteCheckForUpdateStarted()  {}
func (r *recordingTaskCallback) OnRemoteCheckForUpdateFinished() {}
func (r *recordingTaskCallback) OnRemoteUpdateLoadStarted(update *manifest.Manifest) {}
func (r *recordingTaskCallback) OnRemoteUpdateFinished(status RemoteUpdateStatus, update *manifest.Manifest, rollbackAt int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteFinished = append(r.remoteFinished, status)
}
func (r *recordingTaskCallback) OnSuccess(result *launcher.Launcher, isUpToDate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = true
	r.successResult = result
	r.isUpToDate = isUpToDate
}
func (r *recordingTaskCallback) OnFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = true
	r.failure = err
}

func noUpdateServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="directive"`)
		header.Set("Content-Type", "application/json")
		part, _ := mw.CreatePart(header)
		_, _ = part.Write([]byte(fmt.Sprintf(`{"type":%q}`, manifest.NoUpdateAvailable)))
		_ = mw.Close()
		w.Header().Set("Content-Type", mw.FormDataContentType())
		_, _ = w.Write(buf.Bytes())
	}))
}

func slowNoUpdateServer(delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(delay)
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="directive"`)
		header.Set("Content-Type", "application/json")
		part, _ := mw.CreatePart(header)
		_, _ = part.Write([]byte(fmt.Sprintf(`{"type":%q}`, manifest.NoUpdateAvailable)))
		_ = mw.Close()
		w.Header().Set("Content-Type", mw.FormDataContentType())
		_, _ = w.Write(buf.Bytes())
	}))
}

func seedReadyUpdate(t *testing.T, cat *catalog.Catalog, store *filestore.Store, id string, commitTime int64) {
	t.Helper()
	seedReadyUpdateWithFilters(t, cat, store, id, commitTime, nil)
}

func seedReadyUpdateWithFilters(t *testing.T, cat *catalog.Catalog, store *filestore.Store, id string, commitTime int64, filters map[string]string) {
	t.Helper()
	content := "bundle-" + id
	hash := hashOf(content)
	require.NoError(t, store.WriteVerified(strings.NewReader(content), hash))
	require.NoError(t, cat.InsertPendingUpdate(catalog.NewPendingUpdate{
		ID:              id,
		CommitTime:      commitTime,
		RuntimeVersion:  "1.0.0",
		ScopeKey:        "app",
		ManifestJSON:    "{}",
		ManifestFilters: filters,
		Assets: []catalog.NewAsset{
			{Key: hash, ExpectedHash: hash, IsLaunchAsset: true},
		},
	}))
}

func TestLoaderTaskCacheHitNoNewUpdate(t *testing.T) {
	server := noUpdateServer()
	defer server.Close()

	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	seedReadyUpdate(t, cat, store, "u1", 150)

	task := New(Config{
		ScopeKey:       "app",
		RuntimeVersion: "1.0.0",
		LoaderConfig:   loader.Config{UpdateURL: server.URL, ScopeKey: "app", RuntimeVersion: "1.0.0"},
		LaunchWaitMs:   0,
		Policy:         selection.DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"},
	}, cat, store)

	cb := &recordingTaskCallback{}
	done := make(chan struct{})
	go func() {
		task.Run(context.Background(), cb)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return in time")
	}

	require.True(t, cb.cachedOffered)
	require.True(t, cb.delivered)
	require.Nil(t, cb.failure)
	require.NotNil(t, cb.successResult)
	require.Equal(t, "u1", cb.successResult.UpdateID)
	require.True(t, cb.isUpToDate)
}

func TestLoaderTaskTimerExpiryReturnsCachedLauncher(t *testing.T) {
	server := slowNoUpdateServer(500 * time.Millisecond)
	defer server.Close()

	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	seedReadyUpdate(t, cat, store, "u1", 150)

	task := New(Config{
		ScopeKey:       "app",
		RuntimeVersion: "1.0.0",
		LoaderConfig:   loader.Config{UpdateURL: server.URL, ScopeKey: "app", RuntimeVersion: "1.0.0"},
		LaunchWaitMs:   50,
		Policy:         selection.DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"},
	}, cat, store)

	cb := &recordingTaskCallback{armTimer: true}
	start := time.Now()
	done := make(chan struct{})
	go func() {
		task.Run(context.Background(), cb)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return in time")
	}
	elapsed := time.Since(start)

	require.Less(t, elapsed, 400*time.Millisecond, "launchAssetFile-equivalent must return close to launchWaitMs, not wait for the slow server")
	require.True(t, cb.delivered)
	require.NotNil(t, cb.successResult)
	require.Equal(t, "u1", cb.successResult.UpdateID)
}

func TestLoaderTaskCachedCandidateExcludedByManifestFilters(t *testing.T) {
	server := noUpdateServer()
	defer server.Close()

	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	seedReadyUpdateWithFilters(t, cat, store, "u1", 150, map[string]string{"branch": "staging"})

	task := New(Config{
		ScopeKey:       "app",
		RuntimeVersion: "1.0.0",
		LoaderConfig:   loader.Config{UpdateURL: server.URL, ScopeKey: "app", RuntimeVersion: "1.0.0"},
		LaunchWaitMs:   0,
		Policy:         selection.DefaultLauncherSelectionPolicy{RuntimeVersion: "1.0.0"},
		Filters:        selection.Filters{"branch": "production"},
	}, cat, store)

	cb := &recordingTaskCallback{}
	done := make(chan struct{})
	go func() {
		task.Run(context.Background(), cb)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return in time")
	}

	require.False(t, cb.cachedOffered, "a cached candidate whose manifestFilters mismatch Filters must never be offered")
	require.True(t, cb.delivered)
	require.Error(t, cb.failure, "no cached candidate and no remote update means no launcher is available")
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
