// Package fingerprint derives anonymous visitor and session identifiers from
// coarse request attributes.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"
	"time"
)

const idLength = 16

// Attributes are the request fields that feed the visitor hash.
// Missing headers are empty strings.
type Attributes struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Identity is a visitor id plus a freshly minted session id candidate.
type Identity struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
}

// Generator mints identities. The zero value uses the wall clock and crypto/rand.
type Generator struct {
	Now   func() time.Time
	Nonce func() []byte
}

// Identify hashes attrs into a stable VisitorID and a new SessionID.
func (g Generator) Identify(attrs Attributes) Identity {
	visitorID := VisitorID(attrs)
	return Identity{VisitorID: visitorID, SessionID: g.SessionID(visitorID)}
}

// VisitorID is deterministic for identical attributes.
func VisitorID(attrs Attributes) string {
	return digest(NormalizeIP(attrs.IP), attrs.UserAgent, attrs.AcceptLanguage, attrs.AcceptEncoding)
}

// SessionID salts the visitor id with the UTC hour bucket and a random nonce,
// so every call yields a different id.
func (g Generator) SessionID(visitorID string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	t := now().UTC()
	return digest(visitorID, t.Format("2006-01-02"), t.Format("15"), hex.EncodeToString(g.nonce()))
}

func (g Generator) nonce() []byte {
	if g.Nonce != nil {
		return g.Nonce()
	}
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return b
}

// NormalizeIP drops the host part of an address: the last IPv4 octet, or all
// but the /64 prefix of an IPv6 address. Unparsable input is returned as is.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	addr = addr.Unmap()
	if addr == netip.IPv6Loopback() {
		return "127.0.0"
	}
	if addr.Is4() {
		b := addr.As4()
		return netip.AddrFrom4([4]byte{b[0], b[1], b[2], 0}).String()
	}
	b := addr.As16()
	var parts [4]string
	for i := range parts {
		parts[i] = strings.TrimLeft(hex.EncodeToString(b[i*2:i*2+2]), "0")
		if parts[i] == "" {
			parts[i] = "0"
		}
	}
	return strings.Join(parts[:], ":") + "::"
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:idLength]
}
