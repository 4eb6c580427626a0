// Package device turns a user-agent string into browser, OS and device class.
package device

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

const Unknown = "Unknown"

const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
	TypeBot     = "bot"
)

// Info is the classification of one user agent.
type Info struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	DeviceType     string `json:"device_type"`
	IsBot          bool   `json:"is_bot"`
}

var botTokens = []string{
	"bot", "crawler", "spider", "scraper", "feed", "slurp", "index", "archiv",
	"search", "google", "facebook", "twitter", "linkedin", "whatsapp",
	"telegram", "curl", "wget", "python", "java", "okhttp", "postman",
	"headless", "lighthouse", "go-http-client", "node-fetch", "axios",
	"libwww", "lwp-trivial", "urllib",
}

var browserMarkers = []string{"Mozilla", "AppleWebKit", "Gecko", "Edge"}

var mobileOSTokens = []string{"android", "ios", "iphone", "ipad", "windows phone", "blackberry"}

// Bare "name/version" is what scripted HTTP clients send.
var scriptedClient = regexp.MustCompile(`^[a-zA-Z]+/[\d.]+$`)

// Classify parses ua. It never fails; unknown fields are reported as Unknown.
func Classify(ua string) Info {
	parsed := useragent.New(ua)

	info := Info{
		Browser:        Unknown,
		BrowserVersion: Unknown,
		OS:             Unknown,
		OSVersion:      Unknown,
	}
	if name, version := parsed.Browser(); name != "" {
		info.Browser = name
		if version != "" {
			info.BrowserVersion = version
		}
	}
	os := parsed.OSInfo()
	if os.Name != "" {
		info.OS = os.Name
		if os.Version != "" {
			info.OSVersion = os.Version
		}
	}

	info.IsBot = IsBot(ua) || parsed.Bot()
	info.DeviceType = deviceType(ua, info, parsed.Mobile())
	return info
}

// IsBot applies the denylist and the structural heuristics.
func IsBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, token := range botTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	if len(ua) < 20 {
		return true
	}
	if scriptedClient.MatchString(ua) {
		return true
	}
	for _, marker := range browserMarkers {
		if strings.Contains(ua, marker) {
			return false
		}
	}
	return true
}

func deviceType(ua string, info Info, mobile bool) string {
	switch {
	case info.IsBot:
		return TypeBot
	case isTablet(ua):
		return TypeTablet
	case mobile:
		return TypeMobile
	}
	lowerOS := strings.ToLower(info.OS)
	for _, token := range mobileOSTokens {
		if strings.Contains(lowerOS, token) {
			return TypeMobile
		}
	}
	return TypeDesktop
}

func isTablet(ua string) bool {
	if strings.Contains(ua, "iPad") || strings.Contains(ua, "Tablet") {
		return true
	}
	return strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile")
}

// Language returns the first tag of an Accept-Language header.
func Language(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	if first = strings.TrimSpace(first); first == "" || first == "*" {
		return Unknown
	}
	return first
}
