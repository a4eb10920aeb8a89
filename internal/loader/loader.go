// Package loader implements the update protocol client: it fetches a
// manifest+directive pair from the update server, downloads any assets
// missing locally, and commits the result into the Catalog and FileStore.
package loader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/filestore"
	"github.com/tomekzaw/expo/internal/manifest"
	"github.com/tomekzaw/expo/internal/otaerrors"
	"github.com/tomekzaw/expo/internal/otalog"
)

// defaultRequestTimeout is the default per-HTTP-request timeout.
const defaultRequestTimeout = 60 * time.Second

// defaultAssetParallelism is the default bounded I/O worker pool size.
const defaultAssetParallelism = 4

// Config configures a single Loader invocation.
type Config struct {
	UpdateURL                string
	ScopeKey                 string
	RuntimeVersion           string
	RequestHeaders           map[string]string
	LaunchedUpdateID         string // prior launchedUpdate.id, for the header composed in step 1
	RequestTimeout           time.Duration
	AssetDownloadParallelism int64
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.AssetDownloadParallelism <= 0 {
		c.AssetDownloadParallelism = defaultAssetParallelism
	}
	return c
}

// Result is delivered to Callback.OnSuccess once the update has been
// committed to the Catalog, or to describe a rollback directive.
type Result struct {
	Manifest   *manifest.Manifest
	IsRollback bool
	RollbackAt int64
	UpToDate   bool
}

// Callback receives the events of the Loader sequence. All methods are
// invoked synchronously on the calling goroutine.
type Callback interface {
	// OnUpdateResponseLoaded is invoked once the manifest/directive response
	// has decoded, and may veto asset download by returning false.
	OnUpdateResponseLoaded(resp manifest.Response) (shouldDownloadManifestIfPresentInResponse bool)
	// OnAssetLoaded reports per-asset download progress.
	OnAssetLoaded(asset manifest.Asset, successful, failed, total int)
	// OnSuccess is invoked once the update is committed.
	OnSuccess(result Result)
	// OnFailure is invoked for any terminal error in this invocation.
	OnFailure(err error)
}

// Loader executes one check-for-update-and-download-assets cycle.
type Loader struct {
	cfg        Config
	catalog    *catalog.Catalog
	store      *filestore.Store
	httpClient *http.Client
}

// New builds a Loader against the given Catalog and FileStore.
func New(cfg Config, cat *catalog.Catalog, store *filestore.Store) *Loader {
	cfg = cfg.withDefaults()
	return &Loader{
		cfg:        cfg,
		catalog:    cat,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Load runs the full check-download-commit sequence, delivering exactly
// one terminal callback (OnSuccess or OnFailure) before returning.
func (l *Loader) Load(ctx context.Context, cb Callback) {
	resp, err := l.fetch(ctx)
	if err != nil {
		cb.OnFailure(err)
		return
	}

	if err := l.persistManifestMetadata(resp); err != nil {
		log.Warnf("loader: failed to persist manifest metadata: %v", err)
	}

	shouldDownload := cb.OnUpdateResponseLoaded(resp)

	if resp.Directive != nil && resp.Directive.Type == manifest.RollBackToEmbedded {
		cb.OnSuccess(Result{IsRollback: true, RollbackAt: resp.Directive.CommitTime})
		return
	}

	if resp.Manifest == nil || !shouldDownload {
		cb.OnSuccess(Result{UpToDate: true})
		return
	}

	if err := l.downloadAndCommit(ctx, resp, cb); err != nil {
		cb.OnFailure(err)
		return
	}

	cb.OnSuccess(Result{Manifest: resp.Manifest})
}

// fetch composes headers and issues the single GET, retrying transient
// network failures with bounded exponential backoff.
func (l *Loader) fetch(ctx context.Context) (manifest.Response, error) {
	headers, err := l.composeHeaders()
	if err != nil {
		return manifest.Response{}, otaerrors.Wrap(otaerrors.NetworkFailure, err, "compose request headers")
	}

	var out manifest.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.UpdateURL, nil)
		if err != nil {
			return backoff.Permanent(otaerrors.Wrap(otaerrors.NetworkFailure, err, "build request"))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("expo-protocol-version", "1")
		req.Header.Set("expo-api-version", "1")

		resp, err := l.httpClient.Do(req)
		if err != nil {
			return otaerrors.Wrap(otaerrors.NetworkFailure, err, "check for update")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return otaerrors.Errorf(otaerrors.NetworkFailure, "update server returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(otaerrors.Errorf(otaerrors.NetworkFailure, "update server returned %d", resp.StatusCode))
		}

		decoded, err := manifest.DecodeResponse(resp)
		if err != nil {
			return backoff.Permanent(otaerrors.Wrap(otaerrors.NetworkFailure, err, "decode update response"))
		}
		out = decoded
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return manifest.Response{}, err
	}
	return out, nil
}

// persistManifestMetadata stores the server-provided manifest metadata so
// the next request's headers (composeHeaders) carry it forward.
func (l *Loader) persistManifestMetadata(resp manifest.Response) error {
	if resp.Manifest == nil {
		return nil
	}
	for k, v := range resp.Manifest.Metadata {
		if err := l.catalog.SetManifestMetadata(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) composeHeaders() (map[string]string, error) {
	headers := make(map[string]string, len(l.cfg.RequestHeaders)+3)
	for k, v := range l.cfg.RequestHeaders {
		headers[k] = v
	}

	metadata, err := l.catalog.ManifestMetadata()
	if err != nil {
		return nil, fmt.Errorf("load manifest metadata: %w", err)
	}
	for k, v := range metadata {
		headers[k] = v
	}

	headers["expo-runtime-version"] = l.cfg.RuntimeVersion
	if l.cfg.LaunchedUpdateID != "" {
		headers["expo-current-update-id"] = l.cfg.LaunchedUpdateID
	}
	return headers, nil
}

// downloadAndCommit downloads any missing/mismatched asset on a bounded
// worker pool, then commits everything transactionally.
func (l *Loader) downloadAndCommit(ctx context.Context, resp manifest.Response, cb Callback) error {
	m := resp.Manifest
	all := append([]manifest.Asset{m.LaunchAsset}, m.Assets...)
	total := len(all)

	sem := semaphore.NewWeighted(l.cfg.AssetDownloadParallelism)
	var progress progressCounter

	type outcome struct {
		asset manifest.Asset
		err   error
	}
	results := make(chan outcome, total)

	for _, asset := range all {
		asset := asset
		if l.store.Has(asset.ExpectedHash) {
			results <- outcome{asset: asset, err: nil}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return otaerrors.Wrap(otaerrors.NetworkFailure, err, "acquire download slot")
		}
		go func() {
			defer sem.Release(1)
			results <- outcome{asset: asset, err: l.downloadAsset(ctx, asset)}
		}()
	}

	var firstErr error
	for i := 0; i < total; i++ {
		o := <-results
		successful, failed := progress.record(o.err)
		cb.OnAssetLoaded(o.asset, successful, failed, total)
		if o.err != nil && firstErr == nil {
			firstErr = o.err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	update := catalog.NewPendingUpdate{
		ID:              m.ID,
		CommitTime:      ParseCommitTime(m.CreatedAt),
		RuntimeVersion:  m.RuntimeVersion,
		ScopeKey:        l.cfg.ScopeKey,
		ManifestJSON:    mustMarshalManifest(m),
		ManifestFilters: resp.ManifestFilters,
		LaunchAssetKey:  m.LaunchAsset.ExpectedHash,
	}
	for _, a := range all {
		update.Assets = append(update.Assets, catalog.NewAsset{
			Key:           a.ExpectedHash,
			Type:          a.ContentType,
			URL:           a.URL,
			ExpectedHash:  a.ExpectedHash,
			IsLaunchAsset: a.IsLaunchAsset || a.Key == m.LaunchAsset.Key,
		})
	}

	if err := l.catalog.InsertPendingUpdate(update); err != nil {
		return fmt.Errorf("commit update %s: %w", m.ID, err)
	}
	return nil
}

func (l *Loader) downloadAsset(ctx context.Context, asset manifest.Asset) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return otaerrors.Wrap(otaerrors.NetworkFailure, err, "build asset request")
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return otaerrors.Wrap(otaerrors.NetworkFailure, err, "download asset %s", asset.Key)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return otaerrors.Errorf(otaerrors.NetworkFailure, "download asset %s: server returned %d", asset.Key, resp.StatusCode)
	}

	if err := l.store.WriteVerified(resp.Body, asset.ExpectedHash); err != nil {
		log.WithContext(otalog.WithUpdateID(ctx, asset.Key)).Warnf("asset verification failed: %v", err)
		return err
	}
	return nil
}

func mustMarshalManifest(m *manifest.Manifest) string {
	data, err := marshalManifest(m)
	if err != nil {
		// The manifest came from json.Unmarshal moments ago; re-marshaling
		// it cannot fail for any input that got this far.
		panic(err)
	}
	return data
}
