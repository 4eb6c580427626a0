package ingest

import "testing"

func TestShouldSkipPaths(t *testing.T) {
	tests := []struct {
		entry string
		path  string
		want  bool
	}{
		{"/api*", "/api", true},
		{"/api*", "/api/", true},
		{"/api*", "/api/anything", true},
		{"/api*", "/apifoo", true},
		{"/api*", "/blog", false},
		{"/health", "/health", true},
		{"/health", "/healthz", true},
		{"/health", "/blog/health", false},
		{"/favicon.ico", "/favicon.ico", true},
		{"", "/anything", false},
	}
	for _, tt := range tests {
		p := Policy{SkipPaths: []string{tt.entry}}
		got, reason := p.ShouldSkip(tt.path, "Mozilla/5.0", false)
		if got != tt.want {
			t.Errorf("entry %q path %q: skip = %v, want %v", tt.entry, tt.path, got, tt.want)
		}
		if got && reason != SkipPath {
			t.Errorf("entry %q path %q: reason = %q", tt.entry, tt.path, reason)
		}
	}
}

func TestShouldSkipReasons(t *testing.T) {
	p := Policy{TrackOnlyPublic: true, SkipBots: true, SkipAdmins: true, SkipAssets: true}
	tests := []struct {
		name    string
		path    string
		ua      string
		isAdmin bool
		want    string
	}{
		{"public page", "/blog/post-1", "Mozilla/5.0", false, ""},
		{"api root", "/api", "Mozilla/5.0", false, SkipInternal},
		{"api nested", "/api/v2/posts", "Mozilla/5.0", false, SkipInternal},
		{"api-like page", "/apiary", "Mozilla/5.0", false, ""},
		{"stylesheet", "/assets/app.3f2a.css", "Mozilla/5.0", false, SkipAsset},
		{"upper-case image", "/img/Cover.PNG", "Mozilla/5.0", false, SkipAsset},
		{"dotted page", "/blog/release-1.2", "Mozilla/5.0", false, ""},
		{"html page", "/about.html", "Mozilla/5.0", false, ""},
		{"googlebot", "/", "Googlebot/2.1", false, SkipBot},
		{"postman", "/", "PostmanRuntime/7.36", false, SkipBot},
		{"admin", "/", "Mozilla/5.0", true, SkipAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, reason := p.ShouldSkip(tt.path, tt.ua, tt.isAdmin)
			if skip != (tt.want != "") || reason != tt.want {
				t.Errorf("ShouldSkip() = %v %q, want %q", skip, reason, tt.want)
			}
		})
	}

	lax := Policy{}
	if skip, _ := lax.ShouldSkip("/api/x", "curl/8.0", true); skip {
		t.Error("disabled policy flags still skipped")
	}
}

func TestTrackable(t *testing.T) {
	tests := []struct {
		method string
		status int
		want   bool
	}{
		{"GET", 200, true},
		{"HEAD", 304, true},
		{"GET", 404, false},
		{"GET", 500, false},
		{"POST", 200, false},
		{"DELETE", 204, false},
	}
	for _, tt := range tests {
		if got, _ := Trackable(tt.method, tt.status); got != tt.want {
			t.Errorf("Trackable(%s, %d) = %v, want %v", tt.method, tt.status, got, tt.want)
		}
	}
}
