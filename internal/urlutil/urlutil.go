// Package urlutil normalises URLs for comparison, dedup and gatekeeping.
package urlutil

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrNotProcessable marks URLs rejected before any network cost: bad
// scheme, missing host, or a non-HTML resource extension.
var ErrNotProcessable = errors.New("url is not processable")

// nonHTMLExtensions lists resource extensions the session never fetches.
var nonHTMLExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".ppt": {}, ".pptx": {}, ".zip": {}, ".tar": {}, ".gz": {},
	".rar": {}, ".7z": {}, ".exe": {}, ".dmg": {}, ".iso": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".svg": {}, ".ico": {}, ".mp3": {}, ".mp4": {}, ".avi": {},
	".mov": {}, ".wmv": {}, ".flv": {}, ".wav": {}, ".css": {},
	".js": {}, ".json": {}, ".xml": {}, ".rss": {}, ".atom": {},
}

// Canonical normalises a URL for display and fetching: lowercases
// scheme/host, defaults to https when the scheme is omitted, strips
// default ports and fragments, and cleans the path.
func Canonical(raw string) (string, error) {
	parsed, err := parse(raw)
	if err != nil {
		return "", err
	}
	parsed.Fragment = ""
	return parsed.String(), nil
}

// DedupKey reduces a URL to its source identity: scheme, "www." prefix,
// query string, fragment, trailing slash and case are all ignored, so
// https://Www.Example.com/a/?x=1#y and http://example.com/a collapse to
// the same key.
func DedupKey(raw string) (string, error) {
	parsed, err := parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(parsed.Host, "www.")
	p := strings.ToLower(parsed.Path)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "/" {
		p = ""
	}
	return host + p, nil
}

// Key is DedupKey for callers that have already validated the URL; on a
// parse error it falls back to the raw string so distinct garbage never
// collapses into one key.
func Key(raw string) string {
	key, err := DedupKey(raw)
	if err != nil {
		return raw
	}
	return key
}

// IsProcessable reports whether the session may fetch the URL: http(s)
// scheme, a host, and no known non-HTML extension.
func IsProcessable(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if _, blocked := nonHTMLExtensions[ext]; blocked {
		return false
	}
	return true
}

// Host returns the lowercased host without any "www." prefix or port.
func Host(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		// Schemeless forms like example.com/path or //example.com/path.
		if strings.HasPrefix(raw, "//") {
			parsed, err = url.Parse("https:" + raw)
		} else {
			parsed, err = url.Parse("https://" + raw)
		}
		if err != nil {
			return nil, err
		}
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	host := strings.ToLower(parsed.Host)
	if i := strings.LastIndex(host, ":"); i != -1 {
		port := host[i+1:]
		if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
			host = host[:i]
		}
	}
	if host == "" {
		return nil, errors.New("url missing host")
	}
	parsed.Host = host

	if parsed.Path == "" {
		parsed.Path = "/"
	}
	clean := path.Clean(parsed.Path)
	if clean == "." {
		clean = "/"
	}
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	if clean != "/" && strings.HasSuffix(parsed.Path, "/") && !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed.Path = clean
	return parsed, nil
}
