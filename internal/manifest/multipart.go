package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// DecodeResponse parses a check-for-update HTTP response into a Response.
// The server is expected to send a multipart/mixed body with zero or more
// named parts ("manifest", "directive"); either or both may be absent.
func DecodeResponse(resp *http.Response) (Response, error) {
	out := Response{ManifestFilters: parseManifestFilters(resp.Header.Get("expo-manifest-filters"))}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return out, fmt.Errorf("parse content-type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return out, fmt.Errorf("unexpected content-type %q for update response", mediaType)
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read multipart: %w", err)
		}

		body, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return out, fmt.Errorf("read part %q: %w", part.FormName(), err)
		}

		switch part.FormName() {
		case "manifest":
			var m Manifest
			if err := json.Unmarshal(body, &m); err != nil {
				return out, fmt.Errorf("decode manifest part: %w", err)
			}
			out.Manifest = &m
		case "directive":
			var d Directive
			if err := json.Unmarshal(body, &d); err != nil {
				return out, fmt.Errorf("decode directive part: %w", err)
			}
			out.Directive = &d
		}
	}

	return out, nil
}

// parseManifestFilters decodes the comma-separated key=value header the
// server uses to advertise which manifest filters it already applied.
func parseManifestFilters(header string) map[string]string {
	if header == "" {
		return nil
	}
	filters := make(map[string]string)
	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := strings.TrimSpace(kv[0])
		value := ""
		if len(kv) == 2 {
			value = strings.TrimSpace(kv[1])
		}
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		}
		filters[key] = value
	}
	return filters
}
