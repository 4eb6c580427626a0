package geo

import (
	"errors"
	"net/http"
	"net/netip"
	"testing"
)

type fakeLookup map[string]Location

func (f fakeLookup) Lookup(ip netip.Addr) (Location, bool, error) {
	if ip.String() == "203.0.113.99" {
		return Location{}, false, errors.New("corrupt record")
	}
	loc, ok := f[ip.String()]
	return loc, ok, nil
}

func TestResolve(t *testing.T) {
	r := NewResolver(fakeLookup{
		"8.8.8.8": {Country: "US", City: "Mountain View", Region: "California", Timezone: "America/Los_Angeles"},
	}, nil)

	tests := []struct {
		name string
		ip   string
		want Location
	}{
		{"hit", "8.8.8.8", Location{IP: "8.8.8.8", Country: "US", City: "Mountain View", Region: "California", Timezone: "America/Los_Angeles"}},
		{"miss", "1.1.1.1", Location{IP: "1.1.1.1"}},
		{"lookup error", "203.0.113.99", Location{IP: "203.0.113.99"}},
		{"private", "192.168.1.20", Location{IP: "192.168.1.20", Country: "US", City: "Local", Region: "Local", Timezone: "America/New_York"}},
		{"loopback v6", "::1", Location{IP: "::1", Country: "US", City: "Local", Region: "Local", Timezone: "America/New_York"}},
		{"link local", "169.254.0.5", Location{IP: "169.254.0.5", Country: "US", City: "Local", Region: "Local", Timezone: "America/New_York"}},
		{"garbage", "nope", Location{IP: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.ip); got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestResolveWithoutDatabase(t *testing.T) {
	r := NewResolver(nil, nil)
	if got := r.Resolve("8.8.8.8"); got != (Location{IP: "8.8.8.8"}) {
		t.Errorf("Resolve() = %+v, want IP only", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare first", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "3.3.3.3:80", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "3.3.3.3:80", "2.2.2.2"},
		{"forwarded skips junk", map[string]string{"X-Forwarded-For": "unknown, 4.4.4.4, 5.5.5.5"}, "3.3.3.3:80", "4.4.4.4"},
		{"invalid headers fall to peer", map[string]string{"CF-Connecting-IP": "bad"}, "3.3.3.3:1234", "3.3.3.3"},
		{"mapped v6 peer", nil, "[::ffff:9.9.9.9]:443", "9.9.9.9"},
		{"nothing valid", nil, "pipe", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := ClientIP(h, tt.remote); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
