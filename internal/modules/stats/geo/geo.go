// Package geo resolves client addresses to a coarse location.
package geo

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

const fallbackIP = "127.0.0.1"

// Location is a coarse position. Fields other than IP are empty on a miss.
type Location struct {
	IP       string `json:"ip"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Local is reported for private and loopback traffic.
var Local = Location{Country: "US", City: "Local", Region: "Local", Timezone: "America/New_York"}

// Lookup queries a geo database. ok is false when the address is unknown.
type Lookup interface {
	Lookup(ip netip.Addr) (loc Location, ok bool, err error)
}

// Resolver answers Resolve with an optional Lookup behind it.
type Resolver struct {
	lookup Lookup
	logger *zap.Logger
}

// NewResolver accepts a nil lookup; every public address is then a miss.
func NewResolver(lookup Lookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, logger: logger.Named("Geo")}
}

// Resolve never fails.
func (r *Resolver) Resolve(ip string) Location {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Location{IP: ip}
	}
	addr = addr.Unmap()
	if isLocal(addr) {
		loc := Local
		loc.IP = ip
		return loc
	}
	if r.lookup == nil {
		return Location{IP: ip}
	}
	loc, ok, err := r.lookup.Lookup(addr)
	if err != nil {
		r.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return Location{IP: ip}
	}
	if !ok {
		return Location{IP: ip}
	}
	loc.IP = ip
	return loc
}

func isLocal(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

// ClientIP picks the first valid address from CF-Connecting-IP, X-Real-IP,
// each X-Forwarded-For entry and finally the transport peer.
func ClientIP(headers http.Header, remoteAddr string) string {
	candidates := []string{headers.Get("CF-Connecting-IP"), headers.Get("X-Real-IP")}
	for _, value := range headers.Values("X-Forwarded-For") {
		candidates = append(candidates, strings.Split(value, ",")...)
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		candidates = append(candidates, host)
	} else {
		candidates = append(candidates, remoteAddr)
	}

	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			return addr.Unmap().String()
		}
	}
	return fallbackIP
}
