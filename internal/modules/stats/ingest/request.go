package ingest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/fingerprint"
	"github.com/mx-space/insight/internal/modules/stats/geo"
)

// Request is an immutable snapshot of the request attributes tracking needs.
// It is safe to hand to another goroutine.
type Request struct {
	Method     string
	Scheme     string
	Host       string
	Path       string
	RawQuery   string
	RemoteAddr string
	Header     http.Header
}

// Snapshot copies the fields of r that tracking reads.
func Snapshot(r *http.Request) Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return Request{
		Method:     r.Method,
		Scheme:     scheme,
		Host:       r.Host,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
	}
}

func (r Request) header(key string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(key)
}

func (r Request) UserAgent() string { return r.header("User-Agent") }

func (r Request) Referrer() string { return r.header("Referer") }

// ClientIP applies the proxy header precedence.
func (r Request) ClientIP() string { return geo.ClientIP(r.Header, r.RemoteAddr) }

// URL rebuilds the absolute request URL.
func (r Request) URL() string {
	u := url.URL{Scheme: r.Scheme, Host: r.Host, Path: r.Path, RawQuery: r.RawQuery}
	return u.String()
}

// Attributes returns the fingerprint inputs.
func (r Request) Attributes() fingerprint.Attributes {
	return fingerprint.Attributes{
		IP:             r.ClientIP(),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.header("Accept-Language"),
		AcceptEncoding: r.header("Accept-Encoding"),
	}
}

// UTM extracts campaign parameters verbatim.
func (r Request) UTM() models.UTM {
	q, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return models.UTM{}
	}
	return models.UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

// PageMeta is optional client-reported page data.
type PageMeta struct {
	Title       string
	TimeSpent   *int64
	ScrollDepth *int64
	LoadTime    *int64
	ExitPage    bool
}

// PageMetaFromHeader reads the X-Page-* hints a client may send along.
// Malformed numbers are ignored.
func PageMetaFromHeader(h http.Header) PageMeta {
	meta := PageMeta{
		Title:       strings.TrimSpace(h.Get("X-Page-Title")),
		TimeSpent:   nonNegative(h.Get("X-Time-Spent")),
		ScrollDepth: nonNegative(h.Get("X-Scroll-Depth")),
		LoadTime:    nonNegative(h.Get("X-Load-Time")),
	}
	meta.ExitPage, _ = strconv.ParseBool(h.Get("X-Exit-Page"))
	if runes := []rune(meta.Title); len(runes) > 512 {
		meta.Title = string(runes[:512])
	}
	return meta
}

func nonNegative(raw string) *int64 {
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
