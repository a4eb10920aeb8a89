// Package manifest defines the wire types exchanged with the update
// server: the manifest describing a published update, the asset
// descriptors it references, and the directive parts of a multipart
// check-for-update response.
package manifest

import "encoding/json"

// Asset is one file referenced by a Manifest.
type Asset struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	ContentType  string `json:"contentType"`
	ExpectedHash string `json:"hash"`
	IsLaunchAsset bool   `json:"isLaunchAsset"`
}

// Manifest is the JSON document published by the server for one update.
type Manifest struct {
	ID              string            `json:"id"`
	CreatedAt       string            `json:"createdAt"`
	RuntimeVersion  string            `json:"runtimeVersion"`
	LaunchAsset     Asset             `json:"launchAsset"`
	Assets          []Asset           `json:"assets"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Extra           json.RawMessage   `json:"extra,omitempty"`
}

// DirectiveType identifies which kind of server directive was received.
type DirectiveType string

const (
	// NoUpdateAvailable means the client is already up to date.
	NoUpdateAvailable DirectiveType = "noUpdateAvailable"
	// RollBackToEmbedded instructs the client to discard stored updates
	// and launch the binary-embedded payload.
	RollBackToEmbedded DirectiveType = "rollBackToEmbedded"
)

// Directive is a server instruction independent of any manifest.
type Directive struct {
	Type       DirectiveType `json:"type"`
	CommitTime int64         `json:"commitTime,omitempty"`
}

// Response is the decoded result of a single check-for-update request. Both
// fields are optional; the caller must tolerate either being absent, and
// treat "both absent" as NoUpdateAvailable.
type Response struct {
	Manifest        *Manifest
	Directive       *Directive
	ManifestFilters map[string]string
}

// IsEmpty reports whether the server returned neither a manifest nor a
// directive, which callers must treat as NoUpdateAvailable.
func (r Response) IsEmpty() bool {
	return r.Manifest == nil && r.Directive == nil
}
