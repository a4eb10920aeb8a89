package loader

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tomekzaw/expo/internal/manifest"
)

// progressCounter tracks cumulative successful/failed asset downloads
// across the bounded worker pool so OnAssetLoaded always reports a
// consistent running total regardless of completion order.
type progressCounter struct {
	mu         sync.Mutex
	successful int
	failed     int
}

func (p *progressCounter) record(err error) (successful, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
	} else {
		p.successful++
	}
	return p.successful, p.failed
}

func marshalManifest(m *manifest.Manifest) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalDirective(d *manifest.Directive) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseCommitTime parses the manifest's RFC3339 createdAt into a monotonic
// millisecond timestamp for SelectionPolicy comparisons. An unparseable or
// empty value sorts as the oldest possible update rather than failing the
// whole Loader invocation over a cosmetic field.
func ParseCommitTime(createdAt string) int64 {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
