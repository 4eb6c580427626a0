package ingest

import (
	"path"
	"regexp"
	"strings"
)

// Skip reasons reported to metrics and debug logs.
const (
	SkipPath     = "path"
	SkipInternal = "internal"
	SkipBot      = "bot"
	SkipAdmin    = "admin"
	SkipMethod   = "method"
	SkipStatus   = "status"
	SkipAsset    = "asset"
)

// assetExts are static file types served next to pages; they are not page views.
var assetExts = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {}, ".map": {}, ".json": {}, ".xml": {}, ".txt": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".avif": {}, ".svg": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".mp3": {}, ".pdf": {}, ".zip": {}, ".wasm": {},
}

var quickBot = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|curl|wget|postman`)

// Policy decides which requests are not tracked.
type Policy struct {
	SkipPaths       []string
	TrackOnlyPublic bool
	SkipBots        bool
	SkipAdmins      bool
	SkipAssets      bool
}

// ShouldSkip reports whether a request is excluded and why.
func (p Policy) ShouldSkip(path, userAgent string, isAdmin bool) (bool, string) {
	for _, entry := range p.SkipPaths {
		if matchSkipPath(entry, path) {
			return true, SkipPath
		}
	}
	if p.TrackOnlyPublic && (path == "/api" || strings.HasPrefix(path, "/api/")) {
		return true, SkipInternal
	}
	if p.SkipAssets && IsAsset(path) {
		return true, SkipAsset
	}
	if p.SkipBots && quickBot.MatchString(userAgent) {
		return true, SkipBot
	}
	if p.SkipAdmins && isAdmin {
		return true, SkipAdmin
	}
	return false, ""
}

// matchSkipPath treats a trailing "*" as a prefix marker. Plain entries match
// exactly or as a prefix as well.
func matchSkipPath(entry, path string) bool {
	if entry == "" {
		return false
	}
	return strings.HasPrefix(path, strings.TrimSuffix(entry, "*"))
}

// IsAsset reports whether p names a static file by its extension.
func IsAsset(p string) bool {
	_, ok := assetExts[strings.ToLower(path.Ext(p))]
	return ok
}

// Trackable reports whether the method and response status may produce a page view.
func Trackable(method string, status int) (bool, string) {
	if method != "GET" && method != "HEAD" {
		return false, SkipMethod
	}
	if status >= 400 {
		return false, SkipStatus
	}
	return true, ""
}
